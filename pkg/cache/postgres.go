package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore is a DurableStore backed by a PostgreSQL table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewPostgresStore connects to dsn, pings, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, clock clockwork.Clock, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger.Info().Msg("Postgres cache store connected.")
	return &PostgresStore{
		pool:   pool,
		clock:  clock,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}, nil
}

// Fetch implements DurableStore.
func (s *PostgresStore) Fetch(ctx context.Context, key string) (Entry, error) {
	var (
		value     []byte
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM cache_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.clock.Now().UTC(),
	).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("postgres fetch %s: %w", key, err)
	}
	return Entry{Key: key, Value: value, ExpiresAt: expiresAt}, nil
}

// Upsert implements DurableStore.
func (s *PostgresStore) Upsert(ctx context.Context, entry Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET
		   value = EXCLUDED.value,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		entry.Key, entry.Value, entry.ExpiresAt, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres upsert %s: %w", entry.Key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info().Msg("Closing Postgres pool...")
	s.pool.Close()
	return nil
}
