package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStorage implements the Store interface using an in-process map.
// This provider is the default: state survives nothing but the process,
// which is exactly the degraded mode when no persistent store is configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}, nil
}

// Get returns a copy of the value stored under key.
func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || expired(m.now(), e.expiresAt) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

// Set stores a copy of value under key.
func (m *MemoryStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{
		value:     slices.Clone(value),
		expiresAt: expiryFor(m.now(), ttl),
	}
	m.evictExpiredLocked()
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) evictExpiredLocked() {
	now := m.now()
	for key, e := range m.entries {
		if expired(now, e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
