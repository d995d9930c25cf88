/*
payment.go - Payment Authority capability

PURPOSE:
  The engine never moves value itself. It consumes a Payment Authority
  that can redeem a delegated approval (permit-style signature) and move
  value between two accounts. Any implementation works: an in-process
  token ledger (package token), a remote service, or a test double.

CONTRACT:
  RedeemApproval  one-time authorization; replaying the same signature
                  must fail. Fails with ErrExpiredDeadline or
                  ErrInvalidSignature.
  Debit           moves amount from a customer to the store.
                  Fails with ErrInsufficientBalance.
  Credit          moves amount from the store to a customer.
                  Fails with ErrInsufficientAuthorityBalance.

ATOMICITY:
  If the authority also implements TxPaymentAuthority, the engine runs
  the payment steps inside the authority's transaction, nested around
  the store transaction, so a failure anywhere undoes both sides.

DURABILITY:
  A transactional view that also implements JournaledPayments gets the
  open store transaction just before it commits. It writes its staged
  balances and nonces through it, so catalog and payment state reach the
  database in one commit and a restart finds them in agreement.
*/
package catalog

import (
	"context"
	"time"
)

// PaymentAuthority is the value-transfer capability the engine depends on.
type PaymentAuthority interface {
	RedeemApproval(ctx context.Context, holder, spender Address, amount Amount, deadline time.Time, sig Signature) error
	Debit(ctx context.Context, from, to Address, amount Amount) error
	Credit(ctx context.Context, to Address, amount Amount) error
}

// TxPaymentAuthority is a PaymentAuthority whose effects can be rolled back.
type TxPaymentAuthority interface {
	PaymentAuthority

	// WithTx executes fn against a transactional view of the authority.
	// If fn returns error, every transfer and redemption made through
	// the view is undone.
	WithTx(ctx context.Context, fn func(PaymentAuthority) error) error
}

// JournaledPayments is a transactional payment view that persists its
// staged effects through the catalog store transaction.
type JournaledPayments interface {
	PaymentAuthority

	// Journal writes the view's pending changes through s. It is called
	// once, after every payment step succeeded and before s commits.
	Journal(ctx context.Context, s Store) error
}
