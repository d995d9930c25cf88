/*
Package catalog provides the storefront catalog & ledger engine.

PURPOSE:
  This package owns the product catalog of a single-token storefront:
  which products exist, how many units remain, what they cost, who bought
  them and which purchases are still refundable. It enforces every
  invariant of the store and exposes the three mutating operations
  (add, buy, refund) plus read-only queries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address:     An account identifier (0x-prefixed, 20 bytes hex)
  - Amount:      A value in payment-authority units (unsigned)
  - BlockHeight: Ledger height used to timestamp purchases
  - Product:     Quantity + price of one catalog entry

DESIGN PRINCIPLES:
  1. One owned aggregate: all state lives behind a TxStore, no globals
  2. Append-only history: the catalog sequence and buyer logs never shrink
  3. Two structures for two questions: "ever bought" (buyer log) and
     "currently refundable" (purchase height) are kept apart
  4. All-or-nothing: every mutating call commits completely or not at all

USAGE:
  engine := catalog.NewEngine(catalog.Config{...})
  err := engine.AddProduct(ctx, owner, "Keyboard", 10, 50)
  err = engine.BuyProduct(ctx, customer, 0, 50, deadline, sig)

SEE ALSO:
  - engine.go:  Add/Buy/Refund and queries
  - store.go:   Persistence interfaces
  - payment.go: Payment Authority capability
*/
package catalog

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// =============================================================================
// ADDRESS - Account identifier
// =============================================================================

// Address identifies an account: a customer, the owner or the store itself.
// Canonical form is lower-case "0x" followed by 40 hex characters.
type Address string

// ZeroAddress is the empty account. It never owns anything.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

const addressHexLen = 40

// ParseAddress validates s and returns its canonical form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: missing 0x prefix: %q", ErrInvalidAddress, s)
	}
	body := s[2:]
	if len(body) != addressHexLen {
		return "", fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidAddress, addressHexLen, len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }
func (a Address) IsZero() bool   { return a == "" || a == ZeroAddress }

// =============================================================================
// AMOUNTS AND HEIGHTS
// =============================================================================

// Amount is a value in payment-authority units.
type Amount uint64

// Quantity is a count of product units.
type Quantity uint64

// BlockHeight is the ledger height at which an operation was applied.
// Height 0 is reserved: a purchase height of 0 means "no active purchase".
type BlockHeight uint64

// Signature is an opaque delegated-approval signature. The engine never
// inspects it; it is forwarded to the Payment Authority as-is.
type Signature string

// =============================================================================
// PRODUCT - One catalog entry
// =============================================================================

// Product is the quantity/price part of a product record. The buyer log and
// per-customer purchase heights are stored separately (see Store).
type Product struct {
	Name     string
	Quantity Quantity
	Price    Amount
}

// Exists reports whether the product has ever been added. A product exists
// exactly when it has a nonzero price.
func (p Product) Exists() bool { return p.Price != 0 }

// ProductView is a product plus its position in the catalog sequence.
type ProductView struct {
	Index    uint64
	Name     string
	Quantity Quantity
	Price    Amount
}
