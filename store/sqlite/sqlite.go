/*
Package sqlite provides a SQLite-backed implementation of catalog.TxStore.

PURPOSE:
  Durable storage for the catalog: products in catalog order, the
  append-only buyer log and active purchase heights. In production the
  same patterns apply to PostgreSQL (see store/postgres) with minor
  dialect differences.

KEY TABLES:
  products:  one row per product; position is the catalog index
  buyers:    append-only purchase log, ordered by id
  purchases: active purchase height per (product, customer); a refund
             deletes the row
  token_*:   token ledger supply, balances, nonces and allowances
             (see accounts.go)

NUMBERS:
  Quantities and prices span the full uint64 range, which SQLite's
  signed INTEGER cannot hold. They are stored as decimal TEXT.

CONCURRENCY:
  Opened with WAL and a single connection. WithTx holds a mutex for
  the whole transaction so engine operations never interleave.

USAGE:
  store, err := sqlite.New("./data/storefront.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - catalog/store.go:        Interface definitions
  - catalog/store/memory.go: In-memory implementation for testing
  - store/postgres:          PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/token"
)

// Store implements catalog.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Products in catalog order
	CREATE TABLE IF NOT EXISTS products (
		position INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Append-only buyer log
	CREATE TABLE IF NOT EXISTS buyers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product TEXT NOT NULL,
		buyer TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_buyers_product
		ON buyers(product, id);

	-- Active purchases (row exists iff height > 0)
	CREATE TABLE IF NOT EXISTS purchases (
		product TEXT NOT NULL,
		customer TEXT NOT NULL,
		height INTEGER NOT NULL,
		PRIMARY KEY (product, customer)
	);

	-- Token ledger
	CREATE TABLE IF NOT EXISTS token_supply (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		supply TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_balances (
		account TEXT PRIMARY KEY,
		balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_nonces (
		holder TEXT PRIMARY KEY,
		nonce TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_allowances (
		holder TEXT NOT NULL,
		spender TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (holder, spender)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(catalog.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Test and dev use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{
		"purchases", "buyers", "products",
		"token_allowances", "token_nonces", "token_balances", "token_supply",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by Store and its transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs catalog queries against a *sql.DB or a *sql.Tx.
type conn struct {
	q querier
}

func (c *conn) Product(ctx context.Context, name string) (catalog.Product, error) {
	var quantity, price string
	err := c.q.QueryRowContext(ctx,
		`SELECT quantity, price FROM products WHERE name = ?`, name,
	).Scan(&quantity, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{Name: name}, nil
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("failed to load product %q: %w", name, err)
	}
	return toProduct(name, quantity, price)
}

func (c *conn) CreateProduct(ctx context.Context, p catalog.Product) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO products (position, name, quantity, price, created_at)
		VALUES ((SELECT COUNT(*) FROM products), ?, ?, ?, ?)`,
		p.Name, formatUint(uint64(p.Quantity)), formatUint(uint64(p.Price)),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if isUniqueConstraintError(err) {
		return catalog.ErrProductExists
	}
	if err != nil {
		return fmt.Errorf("failed to create product %q: %w", p.Name, err)
	}
	return nil
}

func (c *conn) SetQuantity(ctx context.Context, name string, quantity catalog.Quantity) error {
	_, err := c.q.ExecContext(ctx,
		`UPDATE products SET quantity = ? WHERE name = ?`, formatUint(uint64(quantity)), name)
	if err != nil {
		return fmt.Errorf("failed to set quantity of %q: %w", name, err)
	}
	return nil
}

func (c *conn) NameAt(ctx context.Context, index uint64) (string, error) {
	size, err := c.CatalogSize(ctx)
	if err != nil {
		return "", err
	}
	if index >= size {
		return "", &catalog.IndexError{Index: index, Size: size}
	}
	var name string
	if err := c.q.QueryRowContext(ctx,
		`SELECT name FROM products WHERE position = ?`, int64(index),
	).Scan(&name); err != nil {
		return "", fmt.Errorf("failed to resolve index %d: %w", index, err)
	}
	return name, nil
}

func (c *conn) CatalogSize(ctx context.Context) (uint64, error) {
	var n int64
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return uint64(n), nil
}

func (c *conn) Catalog(ctx context.Context) ([]catalog.ProductView, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT position, name, quantity, price FROM products ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var views []catalog.ProductView
	for rows.Next() {
		var (
			position        int64
			name            string
			quantity, price string
		)
		if err := rows.Scan(&position, &name, &quantity, &price); err != nil {
			return nil, err
		}
		p, err := toProduct(name, quantity, price)
		if err != nil {
			return nil, err
		}
		views = append(views, catalog.ProductView{Index: uint64(position), Name: name, Quantity: p.Quantity, Price: p.Price})
	}
	return views, rows.Err()
}

func (c *conn) AppendBuyer(ctx context.Context, name string, buyer catalog.Address) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO buyers (product, buyer, created_at) VALUES (?, ?, ?)`,
		name, string(buyer), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append buyer of %q: %w", name, err)
	}
	return nil
}

func (c *conn) Buyers(ctx context.Context, name string) ([]catalog.Address, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT buyer FROM buyers WHERE product = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list buyers of %q: %w", name, err)
	}
	defer rows.Close()

	var buyers []catalog.Address
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		buyers = append(buyers, catalog.Address(b))
	}
	return buyers, rows.Err()
}

func (c *conn) PurchaseHeight(ctx context.Context, name string, customer catalog.Address) (catalog.BlockHeight, error) {
	var h int64
	err := c.q.QueryRowContext(ctx,
		`SELECT height FROM purchases WHERE product = ? AND customer = ?`, name, string(customer),
	).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load purchase of %q: %w", name, err)
	}
	return catalog.BlockHeight(h), nil
}

func (c *conn) SetPurchaseHeight(ctx context.Context, name string, customer catalog.Address, height catalog.BlockHeight) error {
	var err error
	if height == 0 {
		_, err = c.q.ExecContext(ctx,
			`DELETE FROM purchases WHERE product = ? AND customer = ?`, name, string(customer))
	} else {
		_, err = c.q.ExecContext(ctx, `
			INSERT INTO purchases (product, customer, height) VALUES (?, ?, ?)
			ON CONFLICT (product, customer) DO UPDATE SET height = excluded.height`,
			name, string(customer), int64(height))
	}
	if err != nil {
		return fmt.Errorf("failed to set purchase of %q: %w", name, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toProduct(name, quantity, price string) (catalog.Product, error) {
	q, err := strconv.ParseUint(quantity, 10, 64)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("corrupt quantity for %q: %w", name, err)
	}
	p, err := strconv.ParseUint(price, 10, 64)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("corrupt price for %q: %w", name, err)
	}
	return catalog.Product{Name: name, Quantity: catalog.Quantity(q), Price: catalog.Amount(p)}, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ catalog.TxStore    = (*Store)(nil)
	_ catalog.Store      = (*conn)(nil)
	_ token.AccountStore = (*Store)(nil)
	_ token.AccountStore = (*conn)(nil)
)
