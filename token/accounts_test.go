package token_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
	catalogstore "github.com/warp/storefront/catalog/store"
	"github.com/warp/storefront/token"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// memAccounts is a token.AccountStore kept in maps.
type memAccounts struct {
	mu      sync.Mutex
	state   token.State
	saves   int
	saveErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{state: token.State{
		Balances:   make(map[catalog.Address]catalog.Amount),
		Nonces:     make(map[catalog.Address]uint64),
		Allowances: make(map[token.AllowanceKey]catalog.Amount),
	}}
}

func (m *memAccounts) LoadAccounts(context.Context) (token.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := token.State{
		Supply:     m.state.Supply,
		Balances:   make(map[catalog.Address]catalog.Amount),
		Nonces:     make(map[catalog.Address]uint64),
		Allowances: make(map[token.AllowanceKey]catalog.Amount),
	}
	for k, v := range m.state.Balances {
		out.Balances[k] = v
	}
	for k, v := range m.state.Nonces {
		out.Nonces[k] = v
	}
	for k, v := range m.state.Allowances {
		out.Allowances[k] = v
	}
	return out, nil
}

func (m *memAccounts) SaveAccounts(_ context.Context, s token.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state.Supply = s.Supply
	for k, v := range s.Balances {
		m.state.Balances[k] = v
	}
	for k, v := range s.Nonces {
		m.state.Nonces[k] = v
	}
	for k, v := range s.Allowances {
		m.state.Allowances[k] = v
	}
	return nil
}

func (m *memAccounts) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func loadLedger(t *testing.T, accounts token.AccountStore) *token.Ledger {
	t.Helper()
	l, err := token.LoadLedger(context.Background(), testDomain, accounts,
		token.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return l
}

// accountingStore is a catalog store that also holds ledger accounts,
// like the SQL stores' transactions.
type accountingStore struct {
	catalog.Store
	*memAccounts
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestLoadLedger_RestoresCommittedState(t *testing.T) {
	// GIVEN: A persistent ledger with a redeemed permit and two transfers
	// WHEN: A second ledger is loaded from the same accounts
	// THEN: Balances, supply, nonce and remaining allowance all match
	ctx := context.Background()
	accounts := newMemAccounts()
	l := loadLedger(t, accounts)
	holder := mustKey(t)
	spender := mustKey(t).Address()
	deadline := fixedNow.Add(time.Hour)

	require.NoError(t, l.Mint(ctx, holder.Address(), 100))
	require.NoError(t, l.Permit(ctx, holder.Address(), spender, 60, deadline, sign(t, holder, spender, 60, 0, deadline)))
	require.NoError(t, l.TransferFrom(ctx, spender, holder.Address(), spender, 25))

	restored := loadLedger(t, accounts)

	assert.Equal(t, catalog.Amount(75), balanceOf(t, restored, holder.Address()))
	assert.Equal(t, catalog.Amount(25), balanceOf(t, restored, spender))
	supply, err := restored.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.Amount(100), supply)
	nonce, err := restored.Nonce(ctx, holder.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
	allowance, err := restored.Allowance(ctx, holder.Address(), spender)
	require.NoError(t, err)
	assert.Equal(t, catalog.Amount(35), allowance)

	// The redeemed signature stays spent after the restart.
	err = restored.Permit(ctx, holder.Address(), spender, 60, deadline, sign(t, holder, spender, 60, 0, deadline))
	assert.ErrorIs(t, err, catalog.ErrInvalidSignature)
}

func TestLoadLedger_FailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	l := loadLedger(t, accounts)
	to := mustKey(t).Address()
	accounts.saveErr = errors.New("disk full")

	err := l.Mint(ctx, to, 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, balanceOf(t, l, to))
	supply, _ := l.TotalSupply(ctx)
	assert.Zero(t, supply)
}

func TestLoadLedger_ReadsSkipSave(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	l := loadLedger(t, accounts)

	require.NoError(t, l.WithTx(ctx, func(a token.Accounts) error {
		_, err := a.BalanceOf(ctx, mustKey(t).Address())
		return err
	}))

	assert.Zero(t, accounts.saveCount())
}

func TestLoadLedger_RejectsSupplyMismatch(t *testing.T) {
	accounts := newMemAccounts()
	accounts.state.Supply = 100
	accounts.state.Balances[mustKey(t).Address()] = 60

	_, err := token.LoadLedger(context.Background(), testDomain, accounts)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "supply")
}

// =============================================================================
// JOURNAL - Merchant views saving through the catalog transaction
// =============================================================================

func TestMerchant_JournalWritesThroughCatalogStore(t *testing.T) {
	// GIVEN: A persistent ledger and a catalog store that holds accounts
	// WHEN: A merchant transaction credits a customer and journals through the store
	// THEN: The store receives the change and the ledger does not save it again
	ctx := context.Background()
	ledgerAccounts := newMemAccounts()
	l := loadLedger(t, ledgerAccounts)
	shop := mustKey(t).Address()
	customer := mustKey(t).Address()
	require.NoError(t, l.Mint(ctx, shop, 100))
	savesBefore := ledgerAccounts.saveCount()

	txAccounts := newMemAccounts()
	tx := accountingStore{Store: catalogstore.NewMemory(), memAccounts: txAccounts}
	m := token.NewMerchant(l, shop)

	err := m.WithTx(ctx, func(pay catalog.PaymentAuthority) error {
		if err := pay.Credit(ctx, customer, 40); err != nil {
			return err
		}
		j, ok := pay.(catalog.JournaledPayments)
		require.True(t, ok)
		return j.Journal(ctx, tx)
	})

	require.NoError(t, err)
	assert.Equal(t, catalog.Amount(40), txAccounts.state.Balances[customer])
	assert.Equal(t, catalog.Amount(60), txAccounts.state.Balances[shop])
	assert.Equal(t, catalog.Amount(100), txAccounts.state.Supply)
	assert.Equal(t, savesBefore, ledgerAccounts.saveCount())
	assert.Equal(t, catalog.Amount(40), balanceOf(t, l, customer))
}

func TestMerchant_JournalWithoutAccountsFallsBackToLedgerSave(t *testing.T) {
	ctx := context.Background()
	accounts := newMemAccounts()
	l := loadLedger(t, accounts)
	shop := mustKey(t).Address()
	customer := mustKey(t).Address()
	require.NoError(t, l.Mint(ctx, shop, 100))
	m := token.NewMerchant(l, shop)

	err := m.WithTx(ctx, func(pay catalog.PaymentAuthority) error {
		if err := pay.Credit(ctx, customer, 40); err != nil {
			return err
		}
		return pay.(catalog.JournaledPayments).Journal(ctx, catalogstore.NewMemory())
	})

	require.NoError(t, err)
	assert.Equal(t, catalog.Amount(40), accounts.state.Balances[customer])
}

func TestMerchant_VolatileLedgerNeverJournals(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	shop := mustKey(t).Address()
	require.NoError(t, l.Mint(ctx, shop, 100))
	txAccounts := newMemAccounts()
	m := token.NewMerchant(l, shop)

	require.NoError(t, m.WithTx(ctx, func(pay catalog.PaymentAuthority) error {
		if err := pay.Credit(ctx, mustKey(t).Address(), 10); err != nil {
			return err
		}
		return pay.(catalog.JournaledPayments).Journal(ctx, accountingStore{Store: catalogstore.NewMemory(), memAccounts: txAccounts})
	}))

	assert.Zero(t, txAccounts.saveCount())
}
