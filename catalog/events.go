package catalog

import (
	"context"
	"time"
)

// EventType names a fact emitted by the engine.
type EventType string

const (
	EventProductAdded    EventType = "product_added"
	EventProductBought   EventType = "product_bought"
	EventProductRefunded EventType = "product_refunded"
)

// Event is a committed fact for external observers. Only operations that
// committed are ever published.
//
//	product_added:    Product, Quantity (units added)
//	product_bought:   Product, Account (buyer), Amount (debited)
//	product_refunded: Product, Account (buyer), Amount (credited)
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Product    string      `json:"product"`
	Quantity   Quantity    `json:"quantity,omitempty"`
	Account    Address     `json:"account,omitempty"`
	Amount     Amount      `json:"amount,omitempty"`
	Height     BlockHeight `json:"height"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Publisher delivers events to observers. Publish errors are logged by the
// engine and never undo the operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }
