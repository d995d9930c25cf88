// Package chain provides block height sources for the catalog engine.
//
// Purchases are timestamped with a block height and refunds are bounded by
// a number of blocks. Off-chain the height has to come from somewhere:
//
//	Local     manual counter, advanced explicitly with Mine (tests, dev)
//	Interval  derived from the wall clock: one block every BlockTime
//	          since Genesis
//
// Both start at height 1. Height 0 is reserved by the engine to mean
// "no active purchase".
package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/storefront/catalog"
)

// =============================================================================
// LOCAL - Manually mined chain
// =============================================================================

// Local is a block clock advanced only by Mine.
type Local struct {
	mu     sync.RWMutex
	height catalog.BlockHeight
}

// NewLocal returns a clock at height 1.
func NewLocal() *Local {
	return &Local{height: 1}
}

// Height returns the current height.
func (l *Local) Height(_ context.Context) (catalog.BlockHeight, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height, nil
}

// Mine advances the chain by n blocks and returns the new height.
func (l *Local) Mine(n uint64) catalog.BlockHeight {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height += catalog.BlockHeight(n)
	return l.height
}

// =============================================================================
// INTERVAL - Wall-clock derived chain
// =============================================================================

// ErrBeforeGenesis is returned when the clock reads a time before genesis.
var ErrBeforeGenesis = errors.New("clock is before genesis")

// Interval derives the height from elapsed time:
//
//	height = 1 + floor((now - Genesis) / BlockTime)
type Interval struct {
	Genesis   time.Time
	BlockTime time.Duration
	Now       func() time.Time
}

// NewInterval returns a clock producing one block every blockTime since genesis.
func NewInterval(genesis time.Time, blockTime time.Duration) (*Interval, error) {
	if blockTime <= 0 {
		return nil, errors.New("block time must be positive")
	}
	return &Interval{Genesis: genesis, BlockTime: blockTime, Now: time.Now}, nil
}

// Height returns the height at the current wall-clock time.
func (c *Interval) Height(_ context.Context) (catalog.BlockHeight, error) {
	return c.HeightAt(c.Now())
}

// HeightAt returns the height at t.
func (c *Interval) HeightAt(t time.Time) (catalog.BlockHeight, error) {
	if t.Before(c.Genesis) {
		return 0, ErrBeforeGenesis
	}
	return catalog.BlockHeight(1 + uint64(t.Sub(c.Genesis)/c.BlockTime)), nil
}

var (
	_ catalog.BlockClock = (*Local)(nil)
	_ catalog.BlockClock = (*Interval)(nil)
)
