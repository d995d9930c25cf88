/*
ledger.go - In-process single-token ledger

PURPOSE:
  Balances, allowances and permit nonces for one fungible token. It is
  the Payment Authority the storefront runs against when no external
  chain is wired in.

PERMITS:
  Permit redeems a signed Approval (see package permit). It checks the
  deadline against the ledger clock, verifies the signature over the
  holder's current nonce, bumps the nonce and sets the allowance. A
  redeemed signature therefore never verifies again.

TRANSACTIONS:
  WithTx runs a function against a snapshot-backed view. Any error
  restores balances, allowances, nonces and supply exactly as they were.

PERSISTENCE:
  A ledger opened with LoadLedger writes every committed change to its
  AccountStore. When the engine drives the transaction, the merchant
  view journals the changes through the catalog store transaction
  instead, and the ledger skips its own save (see merchant.go).

SEE ALSO:
  - accounts.go:        AccountStore and LoadLedger
  - merchant.go:        catalog.PaymentAuthority adapter
  - permit/approval.go: Approval signatures
*/
package token

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/permit"
)

var (
	// ErrInsufficientAllowance is returned when TransferFrom exceeds the
	// spender's allowance. It is a kind of insufficient balance.
	ErrInsufficientAllowance = fmt.Errorf("%w: allowance exceeded", catalog.ErrInsufficientBalance)

	// ErrSupplyOverflow is returned when minting would overflow total supply.
	ErrSupplyOverflow = errors.New("total supply overflow")

	// ErrZeroAddress is returned when minting or transferring to the zero address.
	ErrZeroAddress = errors.New("zero address")
)

// Accounts is the set of ledger operations, available both on the Ledger
// and inside a transaction.
type Accounts interface {
	Mint(ctx context.Context, to catalog.Address, amount catalog.Amount) error
	BalanceOf(ctx context.Context, account catalog.Address) (catalog.Amount, error)
	Nonce(ctx context.Context, holder catalog.Address) (uint64, error)
	Allowance(ctx context.Context, holder, spender catalog.Address) (catalog.Amount, error)
	TotalSupply(ctx context.Context) (catalog.Amount, error)
	Transfer(ctx context.Context, from, to catalog.Address, amount catalog.Amount) error
	Permit(ctx context.Context, holder, spender catalog.Address, value catalog.Amount, deadline time.Time, sig catalog.Signature) error
	TransferFrom(ctx context.Context, spender, from, to catalog.Address, amount catalog.Amount) error
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is a concurrency-safe token ledger.
type Ledger struct {
	mu       sync.Mutex
	state    ledgerState
	domain   string
	now      func() time.Time
	logger   *zap.Logger
	accounts AccountStore
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for permit deadlines.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger returns an empty ledger. domain separates its permits from
// those of any other ledger; a signature for one domain is invalid here.
func NewLedger(domain string, opts ...Option) *Ledger {
	l := &Ledger{
		state:  newLedgerState(),
		domain: domain,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("token")
	return l
}

// Domain returns the permit domain of this ledger.
func (l *Ledger) Domain() string { return l.domain }

func (l *Ledger) view() *ledgerView {
	return &ledgerView{state: &l.state, domain: l.domain, now: l.now}
}

func (l *Ledger) Mint(ctx context.Context, to catalog.Address, amount catalog.Amount) error {
	if err := l.WithTx(ctx, func(a Accounts) error { return a.Mint(ctx, to, amount) }); err != nil {
		return err
	}
	l.logger.Info("minted", zap.Stringer("to", to), zap.Uint64("amount", uint64(amount)))
	return nil
}

func (l *Ledger) BalanceOf(ctx context.Context, account catalog.Address) (catalog.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view().BalanceOf(ctx, account)
}

func (l *Ledger) Nonce(ctx context.Context, holder catalog.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view().Nonce(ctx, holder)
}

func (l *Ledger) Allowance(ctx context.Context, holder, spender catalog.Address) (catalog.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view().Allowance(ctx, holder, spender)
}

func (l *Ledger) TotalSupply(ctx context.Context) (catalog.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view().TotalSupply(ctx)
}

func (l *Ledger) Transfer(ctx context.Context, from, to catalog.Address, amount catalog.Amount) error {
	return l.WithTx(ctx, func(a Accounts) error { return a.Transfer(ctx, from, to, amount) })
}

func (l *Ledger) Permit(ctx context.Context, holder, spender catalog.Address, value catalog.Amount, deadline time.Time, sig catalog.Signature) error {
	return l.WithTx(ctx, func(a Accounts) error { return a.Permit(ctx, holder, spender, value, deadline, sig) })
}

func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to catalog.Address, amount catalog.Amount) error {
	return l.WithTx(ctx, func(a Accounts) error { return a.TransferFrom(ctx, spender, from, to, amount) })
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (l *Ledger) WithTx(ctx context.Context, fn func(Accounts) error) error {
	return l.withView(ctx, func(v *ledgerView) error { return fn(v) })
}

// withView runs fn against a tracking view and commits its changes: in
// memory always, and to the AccountStore unless the view was already
// journaled elsewhere. A failed save rolls the memory state back too.
func (l *Ledger) withView(ctx context.Context, fn func(*ledgerView) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := l.state.clone()
	v := l.view()
	v.changed = newChangeSet()
	if err := fn(v); err != nil {
		l.state = snapshot
		return err
	}
	if l.accounts == nil || v.journaled || v.changed.empty() {
		return nil
	}
	if err := l.accounts.SaveAccounts(ctx, v.changes()); err != nil {
		l.state = snapshot
		return fmt.Errorf("save accounts: %w", err)
	}
	return nil
}

// =============================================================================
// STATE
// =============================================================================

// AllowanceKey identifies the allowance a holder granted a spender.
type AllowanceKey struct {
	Holder  catalog.Address
	Spender catalog.Address
}

type ledgerState struct {
	supply     catalog.Amount
	balances   map[catalog.Address]catalog.Amount
	nonces     map[catalog.Address]uint64
	allowances map[AllowanceKey]catalog.Amount
}

func newLedgerState() ledgerState {
	return ledgerState{
		balances:   make(map[catalog.Address]catalog.Amount),
		nonces:     make(map[catalog.Address]uint64),
		allowances: make(map[AllowanceKey]catalog.Amount),
	}
}

func (s *ledgerState) clone() ledgerState {
	c := ledgerState{
		supply:     s.supply,
		balances:   make(map[catalog.Address]catalog.Amount, len(s.balances)),
		nonces:     make(map[catalog.Address]uint64, len(s.nonces)),
		allowances: make(map[AllowanceKey]catalog.Amount, len(s.allowances)),
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.nonces {
		c.nonces[k] = v
	}
	for k, v := range s.allowances {
		c.allowances[k] = v
	}
	return c
}

// changeSet records which entries a transaction wrote.
type changeSet struct {
	supply     bool
	balances   map[catalog.Address]struct{}
	nonces     map[catalog.Address]struct{}
	allowances map[AllowanceKey]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		balances:   make(map[catalog.Address]struct{}),
		nonces:     make(map[catalog.Address]struct{}),
		allowances: make(map[AllowanceKey]struct{}),
	}
}

func (c *changeSet) empty() bool {
	return !c.supply && len(c.balances) == 0 && len(c.nonces) == 0 && len(c.allowances) == 0
}

// ledgerView performs unlocked operations on a state. The caller holds the lock.
// changed is nil outside a transaction.
type ledgerView struct {
	state     *ledgerState
	domain    string
	now       func() time.Time
	changed   *changeSet
	journaled bool
}

func (v *ledgerView) touchBalance(a catalog.Address) {
	if v.changed != nil {
		v.changed.balances[a] = struct{}{}
	}
}

// changes returns the current values of every entry written through v.
func (v *ledgerView) changes() State {
	st := State{
		Supply:     v.state.supply,
		Balances:   make(map[catalog.Address]catalog.Amount, len(v.changed.balances)),
		Nonces:     make(map[catalog.Address]uint64, len(v.changed.nonces)),
		Allowances: make(map[AllowanceKey]catalog.Amount, len(v.changed.allowances)),
	}
	for a := range v.changed.balances {
		st.Balances[a] = v.state.balances[a]
	}
	for a := range v.changed.nonces {
		st.Nonces[a] = v.state.nonces[a]
	}
	for k := range v.changed.allowances {
		st.Allowances[k] = v.state.allowances[k]
	}
	return st
}

// journal saves the pending changes through accounts and marks the view
// so the ledger does not save them a second time.
func (v *ledgerView) journal(ctx context.Context, accounts AccountStore) error {
	if v.changed == nil || v.changed.empty() {
		return nil
	}
	if err := accounts.SaveAccounts(ctx, v.changes()); err != nil {
		return err
	}
	v.journaled = true
	return nil
}

func (v *ledgerView) Mint(_ context.Context, to catalog.Address, amount catalog.Amount) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if v.state.supply > catalog.Amount(math.MaxUint64)-amount {
		return ErrSupplyOverflow
	}
	v.state.supply += amount
	v.state.balances[to] += amount
	if v.changed != nil {
		v.changed.supply = true
	}
	v.touchBalance(to)
	return nil
}

func (v *ledgerView) BalanceOf(_ context.Context, account catalog.Address) (catalog.Amount, error) {
	return v.state.balances[account], nil
}

func (v *ledgerView) Nonce(_ context.Context, holder catalog.Address) (uint64, error) {
	return v.state.nonces[holder], nil
}

func (v *ledgerView) Allowance(_ context.Context, holder, spender catalog.Address) (catalog.Amount, error) {
	return v.state.allowances[AllowanceKey{Holder: holder, Spender: spender}], nil
}

func (v *ledgerView) TotalSupply(_ context.Context) (catalog.Amount, error) {
	return v.state.supply, nil
}

// Transfer moves amount from one account to another. Balances never exceed
// supply, so the credit side cannot overflow.
func (v *ledgerView) Transfer(_ context.Context, from, to catalog.Address, amount catalog.Amount) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if v.state.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", catalog.ErrInsufficientBalance, from, v.state.balances[from], amount)
	}
	v.state.balances[from] -= amount
	v.state.balances[to] += amount
	v.touchBalance(from)
	v.touchBalance(to)
	return nil
}

func (v *ledgerView) Permit(_ context.Context, holder, spender catalog.Address, value catalog.Amount, deadline time.Time, sig catalog.Signature) error {
	if v.now().After(deadline) {
		return fmt.Errorf("%w: deadline %s", catalog.ErrExpiredDeadline, deadline.UTC().Format(time.RFC3339))
	}
	approval := permit.Approval{
		Domain:   v.domain,
		Holder:   holder,
		Spender:  spender,
		Value:    value,
		Nonce:    v.state.nonces[holder],
		Deadline: deadline,
	}
	if err := permit.Verify(sig, approval); err != nil {
		return err
	}
	k := AllowanceKey{Holder: holder, Spender: spender}
	v.state.nonces[holder]++
	v.state.allowances[k] = value
	if v.changed != nil {
		v.changed.nonces[holder] = struct{}{}
		v.changed.allowances[k] = struct{}{}
	}
	return nil
}

func (v *ledgerView) TransferFrom(ctx context.Context, spender, from, to catalog.Address, amount catalog.Amount) error {
	k := AllowanceKey{Holder: from, Spender: spender}
	if v.state.allowances[k] < amount {
		return fmt.Errorf("%w: %s may spend %d of %s, needs %d", ErrInsufficientAllowance, spender, v.state.allowances[k], from, amount)
	}
	if err := v.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	v.state.allowances[k] -= amount
	if v.changed != nil {
		v.changed.allowances[k] = struct{}{}
	}
	return nil
}

var (
	_ Accounts = (*Ledger)(nil)
	_ Accounts = (*ledgerView)(nil)
)
