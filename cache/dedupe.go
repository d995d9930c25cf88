// Package cache provides processed-event markers for consumers that must
// handle each event at most once.
//
// A marker is claimed with MarkProcessed before handling an event and
// released with Forget if handling fails, so a redelivery gets another try.
// Markers expire after a TTL.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "storefront:event:"

// =============================================================================
// REDIS
// =============================================================================

// RedisDeduper keeps markers in Redis so several consumer instances share them.
type RedisDeduper struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDeduper connects to Redis and verifies the connection.
func NewRedisDeduper(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDeduperWithClient(client, "", ttl), nil
}

// NewRedisDeduperWithClient wraps an existing client.
func NewRedisDeduperWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisDeduper {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisDeduper{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// MarkProcessed returns true if eventID was newly marked, false if another
// delivery already claimed it. SETNX makes the claim atomic.
func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.keyPrefix+eventID, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return ok, nil
}

// Forget releases the marker for eventID.
func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, d.keyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to forget event: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// =============================================================================
// IN-MEMORY
// =============================================================================

// MemoryDeduper keeps markers in process memory. Single instance and tests only.
type MemoryDeduper struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryDeduper returns an empty in-memory deduper.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (d *MemoryDeduper) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweep(now)
	if expiresAt, ok := d.entries[eventID]; ok && now.Before(expiresAt) {
		return false, nil
	}
	d.entries[eventID] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, eventID)
	return nil
}

// sweep drops expired entries, at most once per TTL.
func (d *MemoryDeduper) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.ttl {
		return
	}
	for id, expiresAt := range d.entries {
		if !now.Before(expiresAt) {
			delete(d.entries, id)
		}
	}
	d.lastSweep = now
}
