package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/storefront/catalog"
)

// Merchant adapts a Ledger to catalog.TxPaymentAuthority for one store
// account. Buyers pay into Account; refunds are paid out of it.
type Merchant struct {
	merchantView
	ledger *Ledger
}

// NewMerchant returns the Payment Authority for account on ledger.
func NewMerchant(ledger *Ledger, account catalog.Address) *Merchant {
	return &Merchant{
		merchantView: merchantView{accounts: ledger, account: account},
		ledger:       ledger,
	}
}

// WithTx runs fn against a transactional view; on error every redemption
// and transfer made through it is undone.
func (m *Merchant) WithTx(ctx context.Context, fn func(catalog.PaymentAuthority) error) error {
	return m.ledger.withView(ctx, func(v *ledgerView) error {
		return fn(&merchantTx{
			merchantView: merchantView{accounts: v, account: m.account},
			view:         v,
			durable:      m.ledger.accounts != nil,
		})
	})
}

// merchantTx is the view handed out by WithTx.
type merchantTx struct {
	merchantView
	view    *ledgerView
	durable bool
}

// Journal saves the staged ledger changes through s when the ledger is
// persistent and s can hold accounts, so they commit with the catalog
// writes. Otherwise it does nothing and the ledger saves on its own.
func (m *merchantTx) Journal(ctx context.Context, s catalog.Store) error {
	accounts, ok := s.(AccountStore)
	if !ok || !m.durable {
		return nil
	}
	return m.view.journal(ctx, accounts)
}

type merchantView struct {
	accounts Accounts
	account  catalog.Address
}

func (m *merchantView) RedeemApproval(ctx context.Context, holder, spender catalog.Address, amount catalog.Amount, deadline time.Time, sig catalog.Signature) error {
	return m.accounts.Permit(ctx, holder, spender, amount, deadline, sig)
}

// Debit pulls amount from a customer using the allowance granted to the
// receiving account.
func (m *merchantView) Debit(ctx context.Context, from, to catalog.Address, amount catalog.Amount) error {
	return m.accounts.TransferFrom(ctx, to, from, to, amount)
}

// Credit pays amount out of the store account.
func (m *merchantView) Credit(ctx context.Context, to catalog.Address, amount catalog.Amount) error {
	err := m.accounts.Transfer(ctx, m.account, to, amount)
	if errors.Is(err, catalog.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", catalog.ErrInsufficientAuthorityBalance, err)
	}
	return err
}

var (
	_ catalog.TxPaymentAuthority = (*Merchant)(nil)
	_ catalog.PaymentAuthority   = (*merchantView)(nil)
	_ catalog.JournaledPayments  = (*merchantTx)(nil)
)
