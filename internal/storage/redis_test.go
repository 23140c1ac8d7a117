package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedisTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	s, err := NewRedisStorage(Config{RedisAddr: server.Addr(), RedisKeyPrefix: "test"})
	if err != nil {
		t.Fatalf("Failed to create redis storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, server
}

func TestRedisStorage(t *testing.T) {
	s, server := newRedisTestStorage(t)
	runStoreContract(t, s, server.FastForward)
}

func TestRedisStorageConcurrency(t *testing.T) {
	s, _ := newRedisTestStorage(t)
	runStoreConcurrency(t, s)
}

func TestRedisStorage_KeysArePrefixed(t *testing.T) {
	s, server := newRedisTestStorage(t)
	ctx := context.Background()

	if err := s.Set(ctx, "quotes:cache", []byte("[]"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !server.Exists("test:quotes:cache") {
		t.Errorf("Expected prefixed key, have %v", server.Keys())
	}
	if ttl := server.TTL("test:quotes:cache"); ttl != time.Hour {
		t.Errorf("Expected TTL of one hour, got %v", ttl)
	}
}

func TestRedisStorage_Unreachable(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := server.Addr()
	server.Close()

	if _, err := NewRedisStorage(Config{RedisAddr: addr}); err == nil {
		t.Error("Expected error when redis is unreachable")
	}
}

func TestNewRedisStorageFromClient(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	s := NewRedisStorageFromClient(client, "")
	defer s.Close()

	if s.Client() != client {
		t.Error("Expected the wrapped client to be exposed")
	}
	if s.Key("k") != "k" {
		t.Errorf("Expected unprefixed key, got %q", s.Key("k"))
	}
}
