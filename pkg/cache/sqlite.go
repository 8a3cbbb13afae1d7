package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore is a DurableStore backed by a local SQLite file, suitable for
// sharing a cache between processes on one host.
type SQLiteStore struct {
	sqlDB  *sql.DB
	clock  clockwork.Clock
	logger zerolog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the schema.
func OpenSQLiteStore(path string, clock clockwork.Clock, logger zerolog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under the WAL journal.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite cache store opened.")
	return &SQLiteStore{
		sqlDB:  sqlDB,
		clock:  clock,
		logger: logger.With().Str("component", "SQLiteStore").Logger(),
	}, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Fetch implements DurableStore.
func (s *SQLiteStore) Fetch(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries
		 WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, toMillis(s.clock.Now()),
	).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("sqlite fetch %s: %w", key, err)
	}

	entry := Entry{Key: key, Value: value}
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		entry.ExpiresAt = &t
	}
	return entry, nil
}

// Upsert implements DurableStore.
func (s *SQLiteStore) Upsert(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expiresAt sql.NullInt64
	if entry.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toMillis(*entry.ExpiresAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		entry.Key, entry.Value, expiresAt, toMillis(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert %s: %w", entry.Key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(s.clock.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
