package catalog

import "context"

// BlockClock reports the current ledger height. Implementations must never
// report height 0. See package chain.
type BlockClock interface {
	Height(ctx context.Context) (BlockHeight, error)
}
