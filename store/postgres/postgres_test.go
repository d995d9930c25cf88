package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
)

var alice = catalog.MustParseAddress("0x00000000000000000000000000000000000a11ce")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestProduct_Found(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT quantity::text, price::text FROM products WHERE name = $1`)).
		WithArgs("Keyboard").
		WillReturnRows(sqlmock.NewRows([]string{"quantity", "price"}).AddRow("18446744073709551615", "50"))

	p, err := s.Product(context.Background(), "Keyboard")

	require.NoError(t, err)
	assert.Equal(t, catalog.Product{Name: "Keyboard", Quantity: catalog.Quantity(^uint64(0)), Price: 50}, p)
}

func TestProduct_UnknownIsZero(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`FROM products WHERE name = $1`)).
		WithArgs("Nothing").
		WillReturnRows(sqlmock.NewRows([]string{"quantity", "price"}))

	p, err := s.Product(context.Background(), "Nothing")

	require.NoError(t, err)
	assert.Equal(t, catalog.Product{Name: "Nothing"}, p)
}

func TestCreateProduct_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q(`INSERT INTO products`)).
		WithArgs("Keyboard", "10", "50").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := s.CreateProduct(context.Background(), catalog.Product{Name: "Keyboard", Quantity: 10, Price: 50})

	assert.ErrorIs(t, err, catalog.ErrProductExists)
}

func TestCreateProduct_DatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q(`INSERT INTO products`)).WillReturnError(errors.New("connection reset"))

	err := s.CreateProduct(context.Background(), catalog.Product{Name: "Keyboard", Quantity: 10, Price: 50})

	require.Error(t, err)
	assert.False(t, errors.Is(err, catalog.ErrProductExists))
}

func TestNameAt_OutOfRange(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	_, err := s.NameAt(context.Background(), 2)

	var ierr *catalog.IndexError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, uint64(2), ierr.Size)
}

func TestNameAt_Found(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(q(`SELECT name FROM products WHERE position = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Mouse"))

	name, err := s.NameAt(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "Mouse", name)
}

func TestCatalog(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"position", "name", "quantity", "price"}).
			AddRow(0, "Keyboard", "20", "50").
			AddRow(1, "Mouse", "3", "20"))

	views, err := s.Catalog(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []catalog.ProductView{
		{Index: 0, Name: "Keyboard", Quantity: 20, Price: 50},
		{Index: 1, Name: "Mouse", Quantity: 3, Price: 20},
	}, views)
}

func TestCatalog_CorruptNumber(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`FROM products`)).
		WillReturnRows(sqlmock.NewRows([]string{"position", "name", "quantity", "price"}).
			AddRow(0, "Keyboard", "-1", "50"))

	_, err := s.Catalog(context.Background())
	assert.Error(t, err)
}

func TestPurchaseHeight(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT height FROM purchases`)).
		WithArgs("Keyboard", string(alice)).
		WillReturnRows(sqlmock.NewRows([]string{"height"}).AddRow(12))
	mock.ExpectQuery(q(`SELECT height FROM purchases`)).
		WithArgs("Mouse", string(alice)).
		WillReturnError(sql.ErrNoRows)

	h, err := s.PurchaseHeight(context.Background(), "Keyboard", alice)
	require.NoError(t, err)
	assert.Equal(t, catalog.BlockHeight(12), h)

	h, err = s.PurchaseHeight(context.Background(), "Mouse", alice)
	require.NoError(t, err)
	assert.Zero(t, h)
}

func TestSetPurchaseHeight_ZeroDeletes(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q(`DELETE FROM purchases`)).
		WithArgs("Keyboard", string(alice)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetPurchaseHeight(context.Background(), "Keyboard", alice, 0))
}

func TestWithTx_CommitsWithLock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(catalogLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`INSERT INTO buyers`)).
		WithArgs("Keyboard", string(alice)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx catalog.Store) error {
		return tx.AppendBuyer(context.Background(), "Keyboard", alice)
	})

	assert.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q(`SELECT pg_advisory_xact_lock($1)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`UPDATE products SET quantity = $1 WHERE name = $2`)).
		WithArgs("4", "Keyboard").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	boom := errors.New("payment failed")

	err := s.WithTx(context.Background(), func(tx catalog.Store) error {
		if err := tx.SetQuantity(context.Background(), "Keyboard", 4); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
}
