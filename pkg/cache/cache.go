// Package cache provides the two-tier key/value store used by the fetchers and
// the country aggregator: a fast in-process tier with proactive TTL eviction and
// an optional durable tier (Redis, Firestore, SQLite or Postgres) with lazy expiry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by a tier when a key is missing or its entry has expired.
var ErrNotFound = errors.New("cache: entry not found")

// Cache is the contract the rest of the service depends on. Values are opaque
// bytes; use Load and Save for JSON values.
type Cache interface {
	// Get returns the value for key, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key. A ttl <= 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Entry is one durable cache record. A nil ExpiresAt never expires.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt *time.Time
}

// Expired reports whether the entry must be treated as absent at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// DurableStore is a cross-process cache tier. Fetch must return ErrNotFound for
// entries whose ExpiresAt is in the past. Upsert is idempotent and last-write-wins.
type DurableStore interface {
	Fetch(ctx context.Context, key string) (Entry, error)
	Upsert(ctx context.Context, entry Entry) error
	io.Closer
}

func expiryFor(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// Load reads key from c and decodes it into a T.
func Load[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var value T
	data, ok := c.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		var zero T
		return zero, false
	}
	return value, true
}

// Save encodes value as JSON and stores it under key.
func Save[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	c.Set(ctx, key, data, ttl)
	return nil
}
