// Package store provides in-memory catalog.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/storefront/catalog"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type purchaseKey struct {
	Product  string
	Customer catalog.Address
}

type memoryState struct {
	names     []string
	products  map[string]catalog.Product
	buyers    map[string][]catalog.Address
	purchases map[purchaseKey]catalog.BlockHeight
}

func newMemoryState() memoryState {
	return memoryState{
		products:  make(map[string]catalog.Product),
		buyers:    make(map[string][]catalog.Address),
		purchases: make(map[purchaseKey]catalog.BlockHeight),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func (m *Memory) Product(_ context.Context, name string) (catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.product(name), nil
}

func (m *Memory) CreateProduct(_ context.Context, p catalog.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createProduct(p)
}

func (m *Memory) SetQuantity(_ context.Context, name string, quantity catalog.Quantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setQuantity(name, quantity)
	return nil
}

func (m *Memory) NameAt(_ context.Context, index uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.nameAt(index)
}

func (m *Memory) CatalogSize(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.state.names)), nil
}

func (m *Memory) Catalog(_ context.Context) ([]catalog.ProductView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.catalog(), nil
}

func (m *Memory) AppendBuyer(_ context.Context, name string, buyer catalog.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.appendBuyer(name, buyer)
	return nil
}

func (m *Memory) Buyers(_ context.Context, name string) ([]catalog.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.buyersOf(name), nil
}

func (m *Memory) PurchaseHeight(_ context.Context, name string, customer catalog.Address) (catalog.BlockHeight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.purchases[purchaseKey{Product: name, Customer: customer}], nil
}

func (m *Memory) SetPurchaseHeight(_ context.Context, name string, customer catalog.Address, height catalog.BlockHeight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.setPurchaseHeight(name, customer, height)
	return nil
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and its transactional view
// =============================================================================

func (s *memoryState) product(name string) catalog.Product {
	p, ok := s.products[name]
	if !ok {
		return catalog.Product{Name: name}
	}
	return p
}

func (s *memoryState) createProduct(p catalog.Product) error {
	if _, ok := s.products[p.Name]; ok {
		return catalog.ErrProductExists
	}
	s.products[p.Name] = p
	s.names = append(s.names, p.Name)
	return nil
}

func (s *memoryState) setQuantity(name string, quantity catalog.Quantity) {
	p := s.product(name)
	p.Quantity = quantity
	s.products[name] = p
}

func (s *memoryState) nameAt(index uint64) (string, error) {
	if index >= uint64(len(s.names)) {
		return "", &catalog.IndexError{Index: index, Size: uint64(len(s.names))}
	}
	return s.names[index], nil
}

func (s *memoryState) catalog() []catalog.ProductView {
	views := make([]catalog.ProductView, len(s.names))
	for i, name := range s.names {
		p := s.products[name]
		views[i] = catalog.ProductView{Index: uint64(i), Name: name, Quantity: p.Quantity, Price: p.Price}
	}
	return views
}

func (s *memoryState) appendBuyer(name string, buyer catalog.Address) {
	s.buyers[name] = append(s.buyers[name], buyer)
}

func (s *memoryState) buyersOf(name string) []catalog.Address {
	if len(s.buyers[name]) == 0 {
		return nil
	}
	result := make([]catalog.Address, len(s.buyers[name]))
	copy(result, s.buyers[name])
	return result
}

func (s *memoryState) setPurchaseHeight(name string, customer catalog.Address, height catalog.BlockHeight) {
	k := purchaseKey{Product: name, Customer: customer}
	if height == 0 {
		delete(s.purchases, k)
		return
	}
	s.purchases[k] = height
}

func (s *memoryState) clone() memoryState {
	c := memoryState{
		names:     append([]string(nil), s.names...),
		products:  make(map[string]catalog.Product, len(s.products)),
		buyers:    make(map[string][]catalog.Address, len(s.buyers)),
		purchases: make(map[purchaseKey]catalog.BlockHeight, len(s.purchases)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.buyers {
		c.buyers[k] = append([]catalog.Address(nil), v...)
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(catalog.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Snapshot current state
	snapshot := tm.state.clone()

	if err := fn(&txMemoryView{state: &tm.state}); err != nil {
		// Rollback
		tm.state = snapshot
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

type txMemoryView struct {
	state *memoryState
}

func (tv *txMemoryView) Product(_ context.Context, name string) (catalog.Product, error) {
	return tv.state.product(name), nil
}

func (tv *txMemoryView) CreateProduct(_ context.Context, p catalog.Product) error {
	return tv.state.createProduct(p)
}

func (tv *txMemoryView) SetQuantity(_ context.Context, name string, quantity catalog.Quantity) error {
	tv.state.setQuantity(name, quantity)
	return nil
}

func (tv *txMemoryView) NameAt(_ context.Context, index uint64) (string, error) {
	return tv.state.nameAt(index)
}

func (tv *txMemoryView) CatalogSize(_ context.Context) (uint64, error) {
	return uint64(len(tv.state.names)), nil
}

func (tv *txMemoryView) Catalog(_ context.Context) ([]catalog.ProductView, error) {
	return tv.state.catalog(), nil
}

func (tv *txMemoryView) AppendBuyer(_ context.Context, name string, buyer catalog.Address) error {
	tv.state.appendBuyer(name, buyer)
	return nil
}

func (tv *txMemoryView) Buyers(_ context.Context, name string) ([]catalog.Address, error) {
	return tv.state.buyersOf(name), nil
}

func (tv *txMemoryView) PurchaseHeight(_ context.Context, name string, customer catalog.Address) (catalog.BlockHeight, error) {
	return tv.state.purchases[purchaseKey{Product: name, Customer: customer}], nil
}

func (tv *txMemoryView) SetPurchaseHeight(_ context.Context, name string, customer catalog.Address, height catalog.BlockHeight) error {
	tv.state.setPurchaseHeight(name, customer, height)
	return nil
}

var (
	_ catalog.TxStore = (*TxMemory)(nil)
	_ catalog.Store   = (*txMemoryView)(nil)
)
