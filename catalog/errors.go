/*
errors.go - Centralized error types for the catalog engine

PURPOSE:
  All error kinds in one place. Every failure of add/buy/refund is
  synchronous, named and aborts the whole operation.

ERROR CATEGORIES:
  1. Input errors   - InvalidInputs, IndexOutOfRange, InvalidAddress
  2. State errors   - InsufficientAmount, ProductAlreadyBought,
                      ProductNotBought, RefundExpired
  3. Access errors  - Unauthorized (only the owner may add products)
  4. Payment errors - passed through from the Payment Authority

USAGE:
  if errors.Is(err, catalog.ErrRefundExpired) {
      var werr *catalog.RefundWindowError
      errors.As(err, &werr)
  }

SEE ALSO:
  - engine.go:  Returns these errors
  - payment.go: Payment Authority contract
*/
package catalog

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInputs is returned when a product is added with zero price or zero quantity.
	ErrInvalidInputs = errors.New("invalid inputs")

	// ErrInsufficientAmount is returned when buying a product with no stock left.
	ErrInsufficientAmount = errors.New("insufficient amount")

	// ErrProductAlreadyBought is returned when the caller already holds an
	// active (unrefunded) purchase of the product.
	ErrProductAlreadyBought = errors.New("product already bought")

	// ErrProductNotBought is returned when refunding without an active purchase.
	ErrProductNotBought = errors.New("product not bought")

	// ErrRefundExpired is returned when the refund window has elapsed.
	ErrRefundExpired = errors.New("refund expired")

	// ErrIndexOutOfRange is returned when a catalog index does not name a product.
	ErrIndexOutOfRange = errors.New("product index out of range")

	// ErrUnauthorized is returned when someone other than the owner adds a product.
	ErrUnauthorized = errors.New("unauthorized account")

	// ErrInvalidAddress is returned for malformed account addresses.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrQuantityOverflow is returned when a restock would overflow the stock counter.
	ErrQuantityOverflow = errors.New("quantity overflow")

	// ErrProductExists is returned by stores when creating a product twice.
	ErrProductExists = errors.New("product already exists")
)

// Payment Authority failures. Implementations of PaymentAuthority return
// (or wrap) these so the engine can pass them through unchanged.
var (
	ErrExpiredDeadline              = errors.New("expired deadline")
	ErrInvalidSignature             = errors.New("invalid signature")
	ErrInsufficientBalance          = errors.New("insufficient balance")
	ErrInsufficientAuthorityBalance = errors.New("insufficient authority balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnauthorizedError names the account that tried an owner-only operation.
type UnauthorizedError struct {
	Caller Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized account: %s", e.Caller)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// PurchaseError describes a rejected buy or refund for one (product, customer) pair.
type PurchaseError struct {
	Product  string
	Customer Address
	Err      error
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%s: product %q, customer %s", e.Err, e.Product, e.Customer)
}

func (e *PurchaseError) Unwrap() error { return e.Err }

// RefundWindowError provides details about an expired refund.
type RefundWindowError struct {
	Product        string
	Customer       Address
	PurchaseHeight BlockHeight
	CurrentHeight  BlockHeight
	Window         uint64
}

func (e *RefundWindowError) Error() string {
	return fmt.Sprintf("refund expired: product %q bought at height %d, now %d (window %d)",
		e.Product, e.PurchaseHeight, e.CurrentHeight, e.Window)
}

func (e *RefundWindowError) Unwrap() error { return ErrRefundExpired }

// IndexError names the out-of-range catalog index.
type IndexError struct {
	Index uint64
	Size  uint64
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("product index %d out of range (catalog size %d)", e.Index, e.Size)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or the
// current state of the catalog rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInputs) ||
		errors.Is(err, ErrInsufficientAmount) ||
		errors.Is(err, ErrProductAlreadyBought) ||
		errors.Is(err, ErrProductNotBought) ||
		errors.Is(err, ErrRefundExpired) ||
		errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrQuantityOverflow)
}

// IsPaymentError returns true if the Payment Authority rejected the operation.
func IsPaymentError(err error) bool {
	return errors.Is(err, ErrExpiredDeadline) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientAuthorityBalance)
}

// IsNotFound returns true if the error indicates a missing catalog entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange)
}
