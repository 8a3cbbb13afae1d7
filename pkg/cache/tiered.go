package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/rs/zerolog"
)

const (
	tierMemory  = "memory"
	tierDurable = "durable"

	defaultWriteTimeout   = 10 * time.Second
	defaultWriteQueueSize = 256
)

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithDurable attaches a durable tier. A nil store keeps the Store memory-only.
func WithDurable(d DurableStore) StoreOption {
	return func(s *Store) { s.durable = d }
}

// WithMetrics records tier hits and misses.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithWriteTimeout bounds each asynchronous durable write.
func WithWriteTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.writeTimeout = d }
}

// WithWriteQueueSize bounds the durable write backlog. Writes beyond it are dropped.
func WithWriteQueueSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.writeQueueSize = n
		}
	}
}

// Store is the two-tier cache. Reads check memory then the durable tier; a
// durable hit repopulates memory. Writes update memory synchronously and are
// queued to the durable tier in submission order. Set never waits on the
// durable tier; when the backlog is full the durable write is dropped.
type Store struct {
	memory         *MemoryCache
	durable        DurableStore
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	writeTimeout   time.Duration
	writeQueueSize int

	mu     sync.RWMutex
	closed bool
	writes chan Entry
	wg     sync.WaitGroup
}

// NewStore wires the tiers together and starts the durable writer if a durable
// tier was supplied.
func NewStore(memory *MemoryCache, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		memory:         memory,
		logger:         logger.With().Str("component", "CacheStore").Logger(),
		writeTimeout:   defaultWriteTimeout,
		writeQueueSize: defaultWriteQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.durable != nil {
		s.writes = make(chan Entry, s.writeQueueSize)
		s.wg.Add(1)
		go s.writer()
		s.logger.Info().Msg("Durable cache tier attached.")
	} else {
		s.logger.Info().Msg("No durable cache tier configured, running memory-only.")
	}
	return s
}

// Get implements Cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, err := s.memory.Fetch(ctx, key); err == nil {
		s.metrics.CacheHit(tierMemory)
		return value, true
	}
	s.metrics.CacheMiss(tierMemory)

	if s.durable == nil {
		return nil, false
	}

	entry, err := s.durable.Fetch(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Durable cache read failed, treating as miss.")
		}
		s.metrics.CacheMiss(tierDurable)
		return nil, false
	}
	now := s.memory.clock.Now()
	if entry.Expired(now) {
		s.metrics.CacheMiss(tierDurable)
		return nil, false
	}
	s.metrics.CacheHit(tierDurable)

	var expiresAt time.Time
	if entry.ExpiresAt != nil {
		expiresAt = *entry.ExpiresAt
	}
	_ = s.memory.Write(ctx, key, entry.Value, expiresAt)
	s.logger.Debug().Str("key", key).Msg("Durable cache hit, memory tier repopulated.")
	return entry.Value, true
}

// Set implements Cache.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	expiresAt := expiryFor(s.memory.clock.Now(), ttl)

	var memExpiry time.Time
	if expiresAt != nil {
		memExpiry = *expiresAt
	}
	_ = s.memory.Write(ctx, key, value, memExpiry)

	if s.durable == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn().Str("key", key).Msg("Cache store closed, skipping durable write.")
		return
	}
	select {
	case s.writes <- Entry{Key: key, Value: append([]byte(nil), value...), ExpiresAt: expiresAt}:
	default:
		s.metrics.DurableWriteError()
		s.logger.Warn().Str("key", key).Msg("Durable write backlog full, dropping durable write.")
	}
}

// writer drains the write queue so durable upserts land in the order Set was called.
func (s *Store) writer() {
	defer s.wg.Done()
	for entry := range s.writes {
		writeCtx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.durable.Upsert(writeCtx, entry); err != nil {
			s.metrics.DurableWriteError()
			s.logger.Error().Err(err).Str("key", entry.Key).Msg("Failed to write to durable cache in background.")
		}
		cancel()
	}
}

// Close drains queued durable writes and closes the durable tier.
func (s *Store) Close() error {
	if s.durable == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Closing durable cache tier...")
	return s.durable.Close()
}
