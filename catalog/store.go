/*
store.go - Persistence interface for catalog state

PURPOSE:
  Defines the interface between the engine and the database. Logically a
  product is one record; physically it is spread over four structures,
  all keyed by product name:

    catalog sequence   append-only ordered names (index lookup)
    products           quantity + price
    buyers             append-only ordered addresses per product
    purchase heights   per (product, customer) active purchase height

APPEND-ONLY CONTRACT:
  - CreateProduct appends the name to the catalog sequence, once
  - AppendBuyer only ever appends
  - NO method deletes a product, a catalog entry or a buyer entry
  Quantity and purchase height are the only mutable values.

ZERO VALUES:
  Reads of unknown products return zero values (Product with Price 0,
  nil buyers, height 0) and no error.

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error every write made through that view is discarded.

IMPLEMENTATIONS:
  - catalog/store/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go:  SQLite
  - store/postgres:          PostgreSQL
*/
package catalog

import "context"

// =============================================================================
// STORE - Interface for catalog persistence
// =============================================================================

// Store handles persistence of catalog state.
type Store interface {
	// Product returns the quantity/price record for name. Unknown names
	// return Product{Name: name} with zero quantity and price.
	Product(ctx context.Context, name string) (Product, error)

	// CreateProduct records a new product and appends its name to the
	// catalog sequence. Returns ErrProductExists if the name is known.
	CreateProduct(ctx context.Context, p Product) error

	// SetQuantity overwrites the remaining stock of an existing product.
	SetQuantity(ctx context.Context, name string, quantity Quantity) error

	// NameAt resolves a catalog index. Returns an *IndexError if out of range.
	NameAt(ctx context.Context, index uint64) (string, error)

	// CatalogSize returns the length of the catalog sequence.
	CatalogSize(ctx context.Context) (uint64, error)

	// Catalog returns every product in catalog order.
	Catalog(ctx context.Context) ([]ProductView, error)

	// AppendBuyer appends to the permanent buyer log of a product.
	AppendBuyer(ctx context.Context, name string, buyer Address) error

	// Buyers returns the buyer log of a product, oldest first.
	Buyers(ctx context.Context, name string) ([]Address, error)

	// PurchaseHeight returns the active purchase height of customer for name, 0 if none.
	PurchaseHeight(ctx context.Context, name string, customer Address) (BlockHeight, error)

	// SetPurchaseHeight records (height > 0) or clears (height == 0) an active purchase.
	SetPurchaseHeight(ctx context.Context, name string, customer Address, height BlockHeight) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
