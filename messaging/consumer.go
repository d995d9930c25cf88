package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/storefront/catalog"
)

const consumerTag = "storefront-notifier"

// Deduper remembers which events were already handled.
type Deduper interface {
	// MarkProcessed returns true if eventID was not yet marked.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	// Forget removes the mark so a redelivery is handled again.
	Forget(ctx context.Context, eventID string) error
}

// Handler processes one decoded event.
type Handler func(ctx context.Context, event catalog.Event) error

// Consumer reads catalog events from a queue and hands each one to a Handler
// exactly once per dedupe window.
type Consumer struct {
	channel *amqp.Channel
	queue   string
	dedupe  Deduper
	handle  Handler
	logger  *zap.Logger
}

// NewConsumer opens a channel on conn and declares queue.
func NewConsumer(conn *amqp.Connection, queue string, dedupe Deduper, handle Handler, logger *zap.Logger) (*Consumer, error) {
	ch, err := openQueue(conn, queue)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		channel: ch,
		queue:   queue,
		dedupe:  dedupe,
		handle:  handle,
		logger:  logger.Named("consumer"),
	}, nil
}

// Listen consumes until ctx is done or the delivery channel closes.
func (c *Consumer) Listen(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		consumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", c.queue, err)
	}
	return c.consume(ctx, msgs)
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.deliver(ctx, &msg)
		}
	}
}

// deliver acks, nacks or rejects msg. Undecodable messages are dropped;
// handler and dedupe failures are requeued.
func (c *Consumer) deliver(ctx context.Context, msg *amqp.Delivery) {
	var event catalog.Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("drop undecodable message", zap.String("message_id", msg.MessageId), zap.Error(err))
		_ = msg.Reject(false)
		return
	}
	if event.ID == "" {
		event.ID = msg.MessageId
	}

	if event.ID != "" && c.dedupe != nil {
		first, err := c.dedupe.MarkProcessed(ctx, event.ID)
		if err != nil {
			c.logger.Error("dedupe failed", zap.String("event_id", event.ID), zap.Error(err))
			_ = msg.Nack(false, true)
			return
		}
		if !first {
			c.logger.Debug("skip duplicate event", zap.String("event_id", event.ID))
			_ = msg.Ack(false)
			return
		}
	}

	if err := c.handle(ctx, event); err != nil {
		c.logger.Error("handle event failed", zap.String("event_id", event.ID), zap.Error(err))
		if event.ID != "" && c.dedupe != nil {
			if ferr := c.dedupe.Forget(ctx, event.ID); ferr != nil {
				c.logger.Warn("forget event failed", zap.String("event_id", event.ID), zap.Error(ferr))
			}
		}
		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}

// LogHandler logs each event as a notification.
func LogHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, e catalog.Event) error {
		logger.Info("notification",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.String("product", e.Product),
			zap.Uint64("quantity", uint64(e.Quantity)),
			zap.String("account", string(e.Account)),
			zap.Uint64("amount", uint64(e.Amount)),
			zap.Uint64("height", uint64(e.Height)),
			zap.Time("occurred_at", e.OccurredAt),
		)
		return nil
	}
}
