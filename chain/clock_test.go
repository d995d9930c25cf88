package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/chain"
)

func TestLocal_StartsAtOneAndMines(t *testing.T) {
	c := chain.NewLocal()

	h, err := c.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.BlockHeight(1), h)

	assert.Equal(t, catalog.BlockHeight(101), c.Mine(100))
	h, _ = c.Height(context.Background())
	assert.Equal(t, catalog.BlockHeight(101), h)
}

func TestInterval_HeightAt(t *testing.T) {
	genesis := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c, err := chain.NewInterval(genesis, 12*time.Second)
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want catalog.BlockHeight
	}{
		{"genesis", genesis, 1},
		{"just before second block", genesis.Add(11 * time.Second), 1},
		{"second block", genesis.Add(12 * time.Second), 2},
		{"one hour", genesis.Add(time.Hour), 301},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := c.HeightAt(tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h)
		})
	}

	_, err = c.HeightAt(genesis.Add(-time.Second))
	assert.ErrorIs(t, err, chain.ErrBeforeGenesis)
}

func TestInterval_UsesNow(t *testing.T) {
	genesis := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c, err := chain.NewInterval(genesis, time.Minute)
	require.NoError(t, err)
	c.Now = func() time.Time { return genesis.Add(10 * time.Minute) }

	h, err := c.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, catalog.BlockHeight(11), h)
}

func TestNewInterval_RejectsNonPositiveBlockTime(t *testing.T) {
	_, err := chain.NewInterval(time.Now(), 0)
	assert.Error(t, err)
}
