package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStorage implements the Store interface on Redis strings. Expiry is
// delegated to Redis key TTLs. All keys are namespaced with the configured
// prefix so several deployments can share one server.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to the configured Redis server and verifies it
// answers PING.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
		PoolSize: config.RedisPoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStorageFromClient(client, config.RedisKeyPrefix), nil
}

// NewRedisStorageFromClient wraps an existing client. The store takes
// ownership: Close closes the client.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// Client exposes the underlying connection so other components (the shared
// rate limiter) can reuse it.
func (rs *RedisStorage) Client() *redis.Client {
	return rs.client
}

// Key returns the namespaced Redis key for key.
func (rs *RedisStorage) Key(key string) string {
	if rs.prefix == "" {
		return key
	}
	return rs.prefix + ":" + key
}

func (rs *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := rs.client.Get(ctx, rs.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (rs *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := rs.client.Set(ctx, rs.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (rs *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.Key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
