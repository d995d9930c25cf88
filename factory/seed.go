/*
Package factory provides JSON to catalog seed conversion.

PURPOSE:
  Converts a JSON catalog definition into AddProduct calls made as the
  store owner. This lets a fresh storefront start with a known catalog
  without scripting HTTP requests.

JSON SCHEMA:
  {
    "products": [
      {"name": "Keyboard", "quantity": 10, "price": 50},
      {"name": "Mouse",    "quantity": 25, "price": 20}
    ]
  }

KEY FEATURES:
  - Validates every entry before touching the catalog
  - Rejects duplicate names within one seed file
  - Applying a seed twice restocks (AddProduct semantics)
  - Entries commit one by one; an engine error stops the run and keeps
    the entries already added
  - Products are added in file order, so file order is catalog order
    for a fresh store

USAGE:
  seed, err := factory.LoadSeed("catalog.json")
  n, err := seed.Apply(ctx, engine)

SEE ALSO:
  - catalog/engine.go: AddProduct
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/warp/storefront/catalog"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SeedJSON is the JSON representation of a catalog seed.
type SeedJSON struct {
	Products []ProductJSON `json:"products"`
}

// ProductJSON is one product entry.
type ProductJSON struct {
	Name     string `json:"name"`
	Quantity uint64 `json:"quantity"`
	Price    uint64 `json:"price"`
}

// ErrInvalidSeed is returned for seed files that fail validation.
var ErrInvalidSeed = errors.New("invalid seed")

// Adder is the part of the engine a seed needs.
type Adder interface {
	Owner() catalog.Address
	AddProduct(ctx context.Context, caller catalog.Address, name string, quantity catalog.Quantity, price catalog.Amount) error
}

// =============================================================================
// PARSING
// =============================================================================

// ParseSeed parses and validates a JSON seed.
func ParseSeed(data []byte) (*SeedJSON, error) {
	var seed SeedJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed JSON: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadSeed reads and parses a seed file.
func LoadSeed(path string) (*SeedJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// Validate checks every entry. Zero quantity or price would be rejected by
// the engine anyway; catching it here rejects a malformed file before any
// entry is added. It cannot foresee engine errors that depend on catalog
// state, such as a restock overflowing the stock counter.
func (s *SeedJSON) Validate() error {
	seen := make(map[string]int, len(s.Products))
	for i, p := range s.Products {
		if p.Name == "" {
			return fmt.Errorf("%w: product %d has no name", ErrInvalidSeed, i)
		}
		if p.Quantity == 0 || p.Price == 0 {
			return fmt.Errorf("%w: product %q needs a nonzero quantity and price", ErrInvalidSeed, p.Name)
		}
		if first, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: product %q listed at %d and %d", ErrInvalidSeed, p.Name, first, i)
		}
		seen[p.Name] = i
	}
	return nil
}

// =============================================================================
// APPLYING
// =============================================================================

// Apply adds every product as the engine's owner and returns how many
// entries were applied. Each entry commits on its own: on the first engine
// error Apply stops, and the entries before it stay in the catalog.
func (s *SeedJSON) Apply(ctx context.Context, engine Adder) (int, error) {
	owner := engine.Owner()
	for i, p := range s.Products {
		if err := engine.AddProduct(ctx, owner, p.Name, catalog.Quantity(p.Quantity), catalog.Amount(p.Price)); err != nil {
			return i, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
	}
	return len(s.Products), nil
}
