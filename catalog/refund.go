package catalog

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// DefaultRefundWindow is the number of blocks after a purchase during
	// which a refund is accepted.
	DefaultRefundWindow uint64 = 100
)

// DefaultRefundRate is the share of the price paid back on refund (80%).
var DefaultRefundRate = decimal.New(8, -1)

// RefundPolicy decides whether and how much to refund.
type RefundPolicy struct {
	// Window is the inclusive number of blocks a purchase stays refundable:
	// refund succeeds while current - purchase <= Window.
	Window uint64
	// Rate is the refunded fraction of the price, in (0, 1].
	Rate decimal.Decimal
}

// DefaultRefundPolicy is 80% within 100 blocks.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{Window: DefaultRefundWindow, Rate: DefaultRefundRate}
}

// Validate rejects an empty window and rates outside (0, 1].
func (p RefundPolicy) Validate() error {
	if p.Window == 0 {
		return errors.New("refund window must be at least one block")
	}
	if !p.Rate.IsPositive() || p.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("refund rate must be in (0, 1], got %s", p.Rate)
	}
	return nil
}

// Amount returns floor(price * Rate). Computed in arbitrary precision so
// prices near the top of the uint64 range do not overflow.
func (p RefundPolicy) Amount(price Amount) Amount {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(price)), 0)
	return Amount(d.Mul(p.Rate).Floor().BigInt().Uint64())
}

// Expired reports whether a purchase made at purchased is past the window at current.
// A clock behind the recorded purchase height cannot show the purchase is
// still inside the window, so it counts as expired.
func (p RefundPolicy) Expired(purchased, current BlockHeight) bool {
	if current < purchased {
		return true
	}
	return uint64(current-purchased) > p.Window
}

// RefundAmount is the default refund: floor(price * 4 / 5).
func RefundAmount(price Amount) Amount {
	return DefaultRefundPolicy().Amount(price)
}
