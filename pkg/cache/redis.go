package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis durable tier. URL takes
// precedence over Addr/Password/DB when set.
type RedisConfig struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// redisEnvelope is the JSON document stored per key.
type redisEnvelope struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// RedisStore is a DurableStore backed by Redis. Keys carry a native TTL and
// the envelope's expiresAt is checked again on read.
type RedisStore struct {
	redisClient *redis.Client
	prefix      string
	clock       clockwork.Clock
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a RedisStore. It pings the server before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, clock clockwork.Clock, logger zerolog.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", opts.Addr).Msg("Successfully connected to Redis.")

	return NewRedisStoreFromClient(rdb, cfg.KeyPrefix, clock, logger), nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership
// of the client and closes it on Close.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string, clock clockwork.Clock, logger zerolog.Logger) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{
		redisClient: rdb,
		prefix:      prefix,
		clock:       clock,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Fetch implements DurableStore.
func (s *RedisStore) Fetch(ctx context.Context, key string) (Entry, error) {
	cachedData, err := s.redisClient.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("redis get for %s: %w", key, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(cachedData, &env); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached entry.")
		return Entry{}, fmt.Errorf("failed to unmarshal entry %s: %w", key, err)
	}

	entry := Entry{Key: key, Value: env.Value, ExpiresAt: env.ExpiresAt}
	if entry.Expired(s.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	s.logger.Debug().Str("key", key).Msg("Redis cache hit.")
	return entry, nil
}

// Upsert implements DurableStore.
func (s *RedisStore) Upsert(ctx context.Context, entry Entry) error {
	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(s.clock.Now())
		if ttl <= 0 {
			return s.redisClient.Del(ctx, s.redisKey(entry.Key)).Err()
		}
	}

	jsonData, err := json.Marshal(redisEnvelope{Value: entry.Value, ExpiresAt: entry.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", entry.Key, err)
	}
	if err := s.redisClient.Set(ctx, s.redisKey(entry.Key), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	s.logger.Debug().Str("key", entry.Key).Msg("Successfully stored entry in Redis.")
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
