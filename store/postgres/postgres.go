/*
Package postgres provides a PostgreSQL-backed implementation of catalog.TxStore.

PURPOSE:
  Same tables and semantics as store/sqlite, for deployments that need a
  shared database. Quantities and prices are NUMERIC(20,0) so the full
  uint64 range round-trips.

CONCURRENCY:
  Every WithTx takes a transaction-scoped advisory lock first, so engine
  operations from several processes against one database still run one
  at a time.

SCHEMA:
  Managed by golang-migrate from the embedded migrations/ directory.
  Call Migrate before New. 000001 holds the catalog, 000002 the token
  ledger (see accounts.go).
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/warp/storefront/catalog"
)

const (
	driverName         = "postgres"
	healthCheckTimeout = 2 * time.Second

	// catalogLockKey serializes catalog transactions across processes.
	catalogLockKey int64 = 0x53544f5245 // "STORE"

	uniqueViolation = "23505"
)

// Store implements catalog.TxStore using PostgreSQL.
type Store struct {
	*conn
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{conn: &conn{q: db}, db: db}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open(driverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// SetPool applies connection pool limits. Zero values keep the driver defaults.
func (s *Store) SetPool(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen > 0 {
		s.db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		s.db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		s.db.SetConnMaxLifetime(maxLifetime)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction holding the catalog lock.
func (s *Store) WithTx(ctx context.Context, fn func(catalog.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, catalogLockKey); err != nil {
		return fmt.Errorf("acquire catalog lock: %w", err)
	}
	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

func (c *conn) Product(ctx context.Context, name string) (catalog.Product, error) {
	var quantity, price string
	err := c.q.QueryRowContext(ctx,
		`SELECT quantity::text, price::text FROM products WHERE name = $1`, name,
	).Scan(&quantity, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{Name: name}, nil
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("select product %q: %w", name, err)
	}
	return toProduct(name, quantity, price)
}

func (c *conn) CreateProduct(ctx context.Context, p catalog.Product) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO products (position, name, quantity, price)
		VALUES ((SELECT COUNT(*) FROM products), $1, $2, $3)`,
		p.Name, formatUint(uint64(p.Quantity)), formatUint(uint64(p.Price)),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return catalog.ErrProductExists
	}
	if err != nil {
		return fmt.Errorf("insert product %q: %w", p.Name, err)
	}
	return nil
}

func (c *conn) SetQuantity(ctx context.Context, name string, quantity catalog.Quantity) error {
	if _, err := c.q.ExecContext(ctx,
		`UPDATE products SET quantity = $1 WHERE name = $2`, formatUint(uint64(quantity)), name,
	); err != nil {
		return fmt.Errorf("update quantity of %q: %w", name, err)
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
		`SELECT name FROM products WHERE position = $1`, int64(index),
	).Scan(&name); err != nil {
		return "", fmt.Errorf("select index %d: %w", index, err)
	}
	return name, nil
}

func (c *conn) CatalogSize(ctx context.Context) (uint64, error) {
	var total int64
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return uint64(total), nil
}

func (c *conn) Catalog(ctx context.Context) ([]catalog.ProductView, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT position, name, quantity::text, price::text
		FROM products
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	list := make([]catalog.ProductView, 0)
	for rows.Next() {
		var (
			position        int64
			name            string
			quantity, price string
		)
		if err := rows.Scan(&position, &name, &quantity, &price); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p, err := toProduct(name, quantity, price)
		if err != nil {
			return nil, err
		}
		list = append(list, catalog.ProductView{Index: uint64(position), Name: name, Quantity: p.Quantity, Price: p.Price})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return list, nil
}

func (c *conn) AppendBuyer(ctx context.Context, name string, buyer catalog.Address) error {
	if _, err := c.q.ExecContext(ctx,
		`INSERT INTO buyers (product, buyer) VALUES ($1, $2)`, name, string(buyer),
	); err != nil {
		return fmt.Errorf("insert buyer of %q: %w", name, err)
	}
	return nil
}

func (c *conn) Buyers(ctx context.Context, name string) ([]catalog.Address, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT buyer FROM buyers WHERE product = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("query buyers of %q: %w", name, err)
	}
	defer rows.Close()

	var buyers []catalog.Address
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan buyer: %w", err)
		}
		buyers = append(buyers, catalog.Address(b))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buyers: %w", err)
	}
	return buyers, nil
}

func (c *conn) PurchaseHeight(ctx context.Context, name string, customer catalog.Address) (catalog.BlockHeight, error) {
	var h int64
	err := c.q.QueryRowContext(ctx,
		`SELECT height FROM purchases WHERE product = $1 AND customer = $2`, name, string(customer),
	).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select purchase of %q: %w", name, err)
	}
	return catalog.BlockHeight(h), nil
}

func (c *conn) SetPurchaseHeight(ctx context.Context, name string, customer catalog.Address, height catalog.BlockHeight) error {
	var err error
	if height == 0 {
		_, err = c.q.ExecContext(ctx,
			`DELETE FROM purchases WHERE product = $1 AND customer = $2`, name, string(customer))
	} else {
		_, err = c.q.ExecContext(ctx, `
			INSERT INTO purchases (product, customer, height) VALUES ($1, $2, $3)
			ON CONFLICT (product, customer) DO UPDATE SET height = EXCLUDED.height`,
			name, string(customer), int64(height))
	}
	if err != nil {
		return fmt.Errorf("upsert purchase of %q: %w", name, err)
	}
	return nil
}

func toProduct(name, quantity, price string) (catalog.Product, error) {
	q, err := strconv.ParseUint(quantity, 10, 64)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("parse quantity of %q: %w", name, err)
	}
	p, err := strconv.ParseUint(price, 10, 64)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("parse price of %q: %w", name, err)
	}
	return catalog.Product{Name: name, Quantity: catalog.Quantity(q), Price: catalog.Amount(p)}, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

var (
	_ catalog.TxStore = (*Store)(nil)
	_ catalog.Store   = (*conn)(nil)
)
