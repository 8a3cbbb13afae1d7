package cache

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryConfig configures the in-process tier.
type MemoryConfig struct {
	// MaxEntries bounds the tier; the least recently used entry is evicted when
	// the bound is exceeded. Zero means unbounded.
	MaxEntries int
	// CleanupEvery is the janitor interval. Zero disables the janitor; expired
	// entries are then only dropped when read.
	CleanupEvery time.Duration
}

type memoryItem struct {
	key       string
	value     []byte
	expiresAt time.Time // zero => no TTL
}

// MemoryCache is a thread-safe in-memory tier with per-entry TTL and optional
// LRU bounding.
type MemoryCache struct {
	clock        clockwork.Clock
	maxEntries   int
	cleanupEvery time.Duration

	mu    sync.Mutex
	ll    *list.List               // front = most recently used
	items map[string]*list.Element // fast key lookup
}

// NewMemoryCache creates an in-memory tier. A nil clock uses the real clock.
func NewMemoryCache(cfg MemoryConfig, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		clock:        clock,
		maxEntries:   cfg.MaxEntries,
		cleanupEvery: cfg.CleanupEvery,
		ll:           list.New(),
		items:        make(map[string]*list.Element),
	}
}

// Fetch returns a copy of the value stored under key.
func (c *MemoryCache) Fetch(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, fmt.Errorf("key '%s': %w", key, ErrNotFound)
	}
	item := elem.Value.(*memoryItem)
	if c.expired(item, c.clock.Now()) {
		c.removeElement(elem)
		return nil, fmt.Errorf("key '%s' expired: %w", key, ErrNotFound)
	}
	c.ll.MoveToFront(elem)
	return bytes.Clone(item.value), nil
}

// Write stores a copy of value under key. A zero expiresAt never expires.
func (c *MemoryCache) Write(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*memoryItem)
		item.value = bytes.Clone(value)
		item.expiresAt = expiresAt
		c.ll.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.ll.PushFront(&memoryItem{key: key, value: bytes.Clone(value), expiresAt: expiresAt})
	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		c.evict()
	}
	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Cleanup drops every expired entry and returns how many were removed.
func (c *MemoryCache) Cleanup() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.ll.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*memoryItem), now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// StartJanitor runs Cleanup every CleanupEvery until ctx is cancelled.
func (c *MemoryCache) StartJanitor(ctx context.Context) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := c.clock.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.Chan():
				c.Cleanup()
			}
		}
	}()
}

func (c *MemoryCache) expired(item *memoryItem, now time.Time) bool {
	return !item.expiresAt.IsZero() && !item.expiresAt.After(now)
}

// evict removes the least recently used entry. Must be called with mu held.
func (c *MemoryCache) evict() {
	if elem := c.ll.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *MemoryCache) removeElement(elem *list.Element) {
	item := c.ll.Remove(elem).(*memoryItem)
	delete(c.items, item.key)
}
