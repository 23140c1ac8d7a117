package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is missing or its TTL has passed.
var ErrNotFound = errors.New("key not found")

// Store is a small expiring key/value store used to carry service state
// (cache snapshots, limiter windows) across restarts. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A positive ttl makes the key expire;
	// zero or negative keeps it until overwritten or deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and file handles.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, ...)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	RedisAddr      string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword  string `json:"-" yaml:"-"`
	RedisDB        int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPoolSize  int    `json:"redis_pool_size,omitempty" yaml:"redis_pool_size,omitempty"`
	RedisKeyPrefix string `json:"redis_key_prefix,omitempty" yaml:"redis_key_prefix,omitempty"`
}

// expiryFor converts a TTL into an absolute deadline. The zero time means
// the key never expires.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
