/*
engine.go - Catalog & ledger engine: add, buy, refund

PURPOSE:
  The Engine is the only writer of catalog state. It owns the store, the
  Payment Authority handle and the block clock, and serializes every
  mutating call so no two operations ever interleave.

OPERATIONS:
  AddProduct     owner only; create or restock
  BuyProduct     anyone; one active purchase per (product, customer)
  RefundProduct  anyone, on their own purchase, within the refund window

ATOMICITY:
  Each operation runs as one unit:

    payment tx ─┬─ store tx ─┬─ ledger writes (stock, buyer log, height)
                │            ├─ payment calls (redeem, debit / credit)
                │            ├─ journal payment changes (durable ledgers)
                │            commit store ── fails? ──> payment rolled back
                └─ commit payment

  Ledger writes are staged before the payment calls. If any payment call
  fails, the store transaction is rolled back and so is the payment
  transaction (when the authority supports one). Events are emitted only
  after both commits.

INVARIANTS:
  - price is set once, never zero, never changed
  - stock never underflows: buy needs stock > 0 and takes exactly 1,
    refund gives back exactly 1
  - at most one active purchase per (product, customer)
  - each name appears in the catalog sequence at most once
  - buyer logs are append-only; a refund does not remove the entry

SEE ALSO:
  - store.go:   Persistence
  - payment.go: Payment Authority
  - refund.go:  Refund window and amount
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Config wires an Engine.
type Config struct {
	// Owner is the only account allowed to add products.
	Owner Address
	// Account is the store's own account at the Payment Authority. Buyers
	// pay into it; refunds are paid out of it.
	Account Address

	Store    TxStore
	Payments PaymentAuthority
	Clock    BlockClock

	// Refunds defaults to DefaultRefundPolicy when zero.
	Refunds RefundPolicy

	Publishers []Publisher
	Logger     *zap.Logger
	Now        func() time.Time
}

// Engine implements the storefront operations.
type Engine struct {
	mu sync.Mutex

	owner    Address
	account  Address
	store    TxStore
	payments PaymentAuthority
	clock    BlockClock
	refunds  RefundPolicy

	publishers []Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine validates cfg and returns a ready engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Owner.IsZero() {
		return nil, errors.New("catalog: owner is required")
	}
	if cfg.Account.IsZero() {
		return nil, errors.New("catalog: store account is required")
	}
	if cfg.Store == nil || cfg.Payments == nil || cfg.Clock == nil {
		return nil, errors.New("catalog: store, payments and clock are required")
	}
	refunds := cfg.Refunds
	if refunds.Rate.IsZero() {
		refunds = DefaultRefundPolicy()
	}
	if err := refunds.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		owner:      cfg.Owner,
		account:    cfg.Account,
		store:      cfg.Store,
		payments:   cfg.Payments,
		clock:      cfg.Clock,
		refunds:    refunds,
		publishers: cfg.Publishers,
		logger:     logger.Named("catalog"),
		now:        now,
	}, nil
}

func (e *Engine) Owner() Address             { return e.owner }
func (e *Engine) Account() Address           { return e.account }
func (e *Engine) RefundPolicy() RefundPolicy { return e.refunds }

// Height returns the current block height.
func (e *Engine) Height(ctx context.Context) (BlockHeight, error) {
	return e.clock.Height(ctx)
}

// =============================================================================
// ADD PRODUCT
// =============================================================================

// AddProduct creates a product or, if it already exists, adds quantity to
// its stock. Price and buyer history of an existing product are untouched;
// the price argument only matters on the first call for a name.
func (e *Engine) AddProduct(ctx context.Context, caller Address, name string, quantity Quantity, price Amount) error {
	if caller != e.owner {
		return &UnauthorizedError{Caller: caller}
	}
	if price == 0 || quantity == 0 {
		return fmt.Errorf("%w: price %d, quantity %d", ErrInvalidInputs, price, quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	height, err := e.clock.Height(ctx)
	if err != nil {
		return fmt.Errorf("block height: %w", err)
	}

	restock := false
	err = e.store.WithTx(ctx, func(s Store) error {
		p, err := s.Product(ctx, name)
		if err != nil {
			return err
		}
		if p.Exists() {
			restock = true
			if p.Quantity > Quantity(math.MaxUint64)-quantity {
				return fmt.Errorf("%w: product %q", ErrQuantityOverflow, name)
			}
			return s.SetQuantity(ctx, name, p.Quantity+quantity)
		}
		return s.CreateProduct(ctx, Product{Name: name, Quantity: quantity, Price: price})
	})
	if err != nil {
		e.logger.Debug("add product rejected", zap.String("product", name), zap.Error(err))
		return err
	}

	e.logger.Info("product added",
		zap.String("product", name),
		zap.Uint64("quantity", uint64(quantity)),
		zap.Bool("restock", restock),
	)
	e.emit(ctx, Event{Type: EventProductAdded, Product: name, Quantity: quantity, Height: height})
	return nil
}

// =============================================================================
// BUY PRODUCT
// =============================================================================

// BuyProduct sells one unit of the product at index to caller.
//
// amount is what the caller authorized and is debited as-is; it is not
// compared to the product price. Only the Payment Authority's own checks
// constrain it.
func (e *Engine) BuyProduct(ctx context.Context, caller Address, index uint64, amount Amount, deadline time.Time, sig Signature) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	height, err := e.clock.Height(ctx)
	if err != nil {
		return fmt.Errorf("block height: %w", err)
	}

	var name string
	err = e.atomically(ctx, func(s Store, pay PaymentAuthority) error {
		n, err := s.NameAt(ctx, index)
		if err != nil {
			return err
		}
		name = n
		p, err := s.Product(ctx, name)
		if err != nil {
			return err
		}
		if p.Quantity == 0 {
			return &PurchaseError{Product: name, Customer: caller, Err: ErrInsufficientAmount}
		}
		bought, err := s.PurchaseHeight(ctx, name, caller)
		if err != nil {
			return err
		}
		if bought != 0 {
			return &PurchaseError{Product: name, Customer: caller, Err: ErrProductAlreadyBought}
		}

		// Stage ledger writes first; the payment calls below undo them on failure.
		if err := s.SetQuantity(ctx, name, p.Quantity-1); err != nil {
			return err
		}
		if err := s.AppendBuyer(ctx, name, caller); err != nil {
			return err
		}
		if err := s.SetPurchaseHeight(ctx, name, caller, height); err != nil {
			return err
		}

		if err := pay.RedeemApproval(ctx, caller, e.account, amount, deadline, sig); err != nil {
			return fmt.Errorf("redeem approval: %w", err)
		}
		if err := pay.Debit(ctx, caller, e.account, amount); err != nil {
			return fmt.Errorf("debit: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Debug("buy rejected",
			zap.Uint64("index", index),
			zap.String("product", name),
			zap.Stringer("caller", caller),
			zap.Error(err),
		)
		return err
	}

	e.logger.Info("product bought",
		zap.String("product", name),
		zap.Stringer("buyer", caller),
		zap.Uint64("amount", uint64(amount)),
		zap.Uint64("height", uint64(height)),
	)
	e.emit(ctx, Event{Type: EventProductBought, Product: name, Account: caller, Amount: amount, Height: height})
	return nil
}

// =============================================================================
// REFUND PRODUCT
// =============================================================================

// RefundProduct returns caller's active purchase of the product at index,
// credits the refund amount and puts the unit back in stock. The buyer log
// keeps its entry.
func (e *Engine) RefundProduct(ctx context.Context, caller Address, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	height, err := e.clock.Height(ctx)
	if err != nil {
		return fmt.Errorf("block height: %w", err)
	}

	var (
		name   string
		refund Amount
	)
	err = e.atomically(ctx, func(s Store, pay PaymentAuthority) error {
		n, err := s.NameAt(ctx, index)
		if err != nil {
			return err
		}
		name = n
		bought, err := s.PurchaseHeight(ctx, name, caller)
		if err != nil {
			return err
		}
		if bought == 0 {
			return &PurchaseError{Product: name, Customer: caller, Err: ErrProductNotBought}
		}
		if e.refunds.Expired(bought, height) {
			return &RefundWindowError{
				Product:        name,
				Customer:       caller,
				PurchaseHeight: bought,
				CurrentHeight:  height,
				Window:         e.refunds.Window,
			}
		}

		p, err := s.Product(ctx, name)
		if err != nil {
			return err
		}
		if p.Quantity == Quantity(math.MaxUint64) {
			return fmt.Errorf("%w: product %q", ErrQuantityOverflow, name)
		}
		if err := s.SetQuantity(ctx, name, p.Quantity+1); err != nil {
			return err
		}
		if err := s.SetPurchaseHeight(ctx, name, caller, 0); err != nil {
			return err
		}

		refund = e.refunds.Amount(p.Price)
		if err := pay.Credit(ctx, caller, refund); err != nil {
			return fmt.Errorf("credit: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Debug("refund rejected",
			zap.Uint64("index", index),
			zap.String("product", name),
			zap.Stringer("caller", caller),
			zap.Error(err),
		)
		return err
	}

	e.logger.Info("product refunded",
		zap.String("product", name),
		zap.Stringer("buyer", caller),
		zap.Uint64("refund", uint64(refund)),
	)
	e.emit(ctx, Event{Type: EventProductRefunded, Product: name, Account: caller, Amount: refund, Height: height})
	return nil
}

// =============================================================================
// QUERIES - No side effects; unknown products return zero values
// =============================================================================

func (e *Engine) QuantityOf(ctx context.Context, name string) (Quantity, error) {
	p, err := e.store.Product(ctx, name)
	return p.Quantity, err
}

func (e *Engine) PriceOf(ctx context.Context, name string) (Amount, error) {
	p, err := e.store.Product(ctx, name)
	return p.Price, err
}

// BuyersOf returns the full purchase log of a product, oldest first.
func (e *Engine) BuyersOf(ctx context.Context, name string) ([]Address, error) {
	return e.store.Buyers(ctx, name)
}

// PurchaseHeightOf returns the height of customer's active purchase, 0 if none.
func (e *Engine) PurchaseHeightOf(ctx context.Context, name string, customer Address) (BlockHeight, error) {
	return e.store.PurchaseHeight(ctx, name, customer)
}

func (e *Engine) CatalogSize(ctx context.Context) (uint64, error) {
	return e.store.CatalogSize(ctx)
}

func (e *Engine) Catalog(ctx context.Context) ([]ProductView, error) {
	return e.store.Catalog(ctx)
}

// ProductAt resolves index and returns the product there.
func (e *Engine) ProductAt(ctx context.Context, index uint64) (ProductView, error) {
	name, err := e.store.NameAt(ctx, index)
	if err != nil {
		return ProductView{}, err
	}
	p, err := e.store.Product(ctx, name)
	if err != nil {
		return ProductView{}, err
	}
	return ProductView{Index: index, Name: name, Quantity: p.Quantity, Price: p.Price}, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// atomically runs fn inside a store transaction, itself nested inside a
// payment transaction when the authority supports one.
func (e *Engine) atomically(ctx context.Context, fn func(Store, PaymentAuthority) error) error {
	txPay, ok := e.payments.(TxPaymentAuthority)
	if !ok {
		return e.store.WithTx(ctx, func(s Store) error { return fn(s, e.payments) })
	}
	return txPay.WithTx(ctx, func(pay PaymentAuthority) error {
		return e.store.WithTx(ctx, func(s Store) error {
			if err := fn(s, pay); err != nil {
				return err
			}
			if j, ok := pay.(JournaledPayments); ok {
				if err := j.Journal(ctx, s); err != nil {
					return fmt.Errorf("journal payments: %w", err)
				}
			}
			return nil
		})
	})
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = e.now().UTC()
	for _, p := range e.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			e.logger.Error("publish event failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
}
