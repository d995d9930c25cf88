package token

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/warp/storefront/catalog"
)

// State is a set of ledger entries. LoadAccounts returns all of them;
// SaveAccounts receives the entries one transaction wrote, plus the
// total supply.
type State struct {
	Supply     catalog.Amount
	Balances   map[catalog.Address]catalog.Amount
	Nonces     map[catalog.Address]uint64
	Allowances map[AllowanceKey]catalog.Amount
}

// AccountStore persists ledger entries. The SQL catalog stores implement
// it on both the database handle and their transactions, so a merchant
// view can save through the same transaction as the catalog writes.
type AccountStore interface {
	LoadAccounts(ctx context.Context) (State, error)

	// SaveAccounts upserts every entry in s. Entries absent from s are
	// left as they are.
	SaveAccounts(ctx context.Context, s State) error
}

// LoadLedger restores a ledger from accounts. Every change committed
// afterwards is written back to accounts.
func LoadLedger(ctx context.Context, domain string, accounts AccountStore, opts ...Option) (*Ledger, error) {
	saved, err := accounts.LoadAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	state := newLedgerState()
	var total catalog.Amount
	for a, b := range saved.Balances {
		if total > catalog.Amount(math.MaxUint64)-b {
			return nil, fmt.Errorf("load accounts: %w", ErrSupplyOverflow)
		}
		total += b
		state.balances[a] = b
	}
	if total != saved.Supply {
		return nil, fmt.Errorf("load accounts: balances sum to %d, supply is %d", total, saved.Supply)
	}
	state.supply = saved.Supply
	for a, n := range saved.Nonces {
		state.nonces[a] = n
	}
	for k, v := range saved.Allowances {
		state.allowances[k] = v
	}

	l := NewLedger(domain, opts...)
	l.state = state
	l.accounts = accounts
	l.logger.Info("ledger restored",
		zap.Int("accounts", len(state.balances)),
		zap.Uint64("supply", uint64(state.supply)),
	)
	return l, nil
}
