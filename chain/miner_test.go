package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
)

func TestMiner_AdvancesUntilStopped(t *testing.T) {
	// GIVEN: A local chain mined every millisecond
	local := NewLocal()
	miner := NewMiner(local, time.Millisecond, nil)

	// WHEN: Started
	miner.Start()
	miner.Start()

	// THEN: Height grows past genesis
	require.Eventually(t, func() bool {
		h, _ := local.Height(context.Background())
		return h > 3
	}, time.Second, time.Millisecond)

	// WHEN: Stopped
	miner.Stop()
	stopped, err := local.Height(context.Background())
	require.NoError(t, err)

	// THEN: Height stays put
	time.Sleep(10 * time.Millisecond)
	h, err := local.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stopped, h)

	miner.Stop()
}

func TestMiner_Restart(t *testing.T) {
	local := NewLocal()
	miner := NewMiner(local, time.Millisecond, nil)

	miner.Start()
	miner.Stop()
	before, _ := local.Height(context.Background())

	miner.Start()
	defer miner.Stop()
	assert.Eventually(t, func() bool {
		h, _ := local.Height(context.Background())
		return h > before
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, before, catalog.BlockHeight(1))
}
