package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/catalog/store"
	"github.com/warp/storefront/chain"
	"github.com/warp/storefront/token"
)

const seedJSON = `{
  "products": [
    {"name": "Keyboard", "quantity": 10, "price": 50},
    {"name": "Mouse", "quantity": 25, "price": 20}
  ]
}`

var (
	owner   = catalog.MustParseAddress("0x00000000000000000000000000000000000000aa")
	account = catalog.MustParseAddress("0x00000000000000000000000000000000000000bb")
)

func newEngine(t *testing.T) *catalog.Engine {
	t.Helper()
	engine, err := catalog.NewEngine(catalog.Config{
		Owner:    owner,
		Account:  account,
		Store:    store.NewTxMemory(),
		Payments: token.NewMerchant(token.NewLedger("seed-test"), account),
		Clock:    chain.NewLocal(),
	})
	require.NoError(t, err)
	return engine
}

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedJSON))
	require.NoError(t, err)
	require.Len(t, seed.Products, 2)
	assert.Equal(t, ProductJSON{Name: "Keyboard", Quantity: 10, Price: 50}, seed.Products[0])
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "not json", json: `products: []`},
		{name: "missing name", json: `{"products":[{"quantity":1,"price":1}]}`},
		{name: "zero quantity", json: `{"products":[{"name":"A","quantity":0,"price":1}]}`},
		{name: "zero price", json: `{"products":[{"name":"A","quantity":1,"price":0}]}`},
		{name: "duplicate", json: `{"products":[{"name":"A","quantity":1,"price":1},{"name":"A","quantity":2,"price":1}]}`},
		{name: "negative quantity", json: `{"products":[{"name":"A","quantity":-1,"price":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestApply_AddsInFileOrder(t *testing.T) {
	// GIVEN: A fresh engine and a two-product seed
	ctx := context.Background()
	engine := newEngine(t)
	seed, err := ParseSeed([]byte(seedJSON))
	require.NoError(t, err)

	// WHEN: Applied
	n, err := seed.Apply(ctx, engine)
	require.NoError(t, err)

	// THEN: The catalog mirrors the file
	assert.Equal(t, 2, n)
	products, err := engine.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Keyboard", products[0].Name)
	assert.Equal(t, catalog.Quantity(10), products[0].Quantity)
	assert.Equal(t, "Mouse", products[1].Name)
	assert.Equal(t, catalog.Amount(20), products[1].Price)
}

func TestApply_TwiceRestocks(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	seed, err := ParseSeed([]byte(seedJSON))
	require.NoError(t, err)

	_, err = seed.Apply(ctx, engine)
	require.NoError(t, err)
	_, err = seed.Apply(ctx, engine)
	require.NoError(t, err)

	size, err := engine.CatalogSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), size)
	q, err := engine.QuantityOf(ctx, "Keyboard")
	require.NoError(t, err)
	assert.Equal(t, catalog.Quantity(20), q)
}

func TestApply_StopsAtEngineError(t *testing.T) {
	// GIVEN: A catalog where Mouse is stocked to the top of the counter
	// WHEN: A seed adds Keyboard, then restocks Mouse, then adds Monitor
	// THEN: Keyboard stays committed, the run stops at Mouse, Monitor is never added
	ctx := context.Background()
	engine := newEngine(t)
	require.NoError(t, engine.AddProduct(ctx, owner, "Mouse", catalog.Quantity(^uint64(0)), 20))
	seed := &SeedJSON{Products: []ProductJSON{
		{Name: "Keyboard", Quantity: 10, Price: 50},
		{Name: "Mouse", Quantity: 1, Price: 20},
		{Name: "Monitor", Quantity: 2, Price: 300},
	}}
	require.NoError(t, seed.Validate())

	n, err := seed.Apply(ctx, engine)

	require.ErrorIs(t, err, catalog.ErrQuantityOverflow)
	assert.Contains(t, err.Error(), `"Mouse"`)
	assert.Equal(t, 1, n)
	q, _ := engine.QuantityOf(ctx, "Keyboard")
	assert.Equal(t, catalog.Quantity(10), q)
	q, _ = engine.QuantityOf(ctx, "Monitor")
	assert.Zero(t, q)
	size, _ := engine.CatalogSize(ctx)
	assert.Equal(t, uint64(2), size)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(seedJSON), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, seed.Products, 2)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
