package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStorage implements the Store interface on a single SQLite table.
// expires_at holds Unix nanoseconds; 0 means the key does not expire.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens the database, verifies the connection and creates
// the kv table if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func (ss *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if expiresAt != 0 && expired(ss.now(), time.Unix(0, expiresAt)) {
		return nil, ErrNotFound
	}
	return value, nil
}

func (ss *SQLiteStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := ss.now()
	var expiresAt int64
	if deadline := expiryFor(now, ttl); !deadline.IsZero() {
		expiresAt = deadline.UnixNano()
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to purge expired keys: %w", err)
	}

	return tx.Commit()
}

func (ss *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if _, err := ss.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
