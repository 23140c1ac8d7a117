package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry holds a rate limiter and its last access time for cleanup.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter is an in-memory ClientLimiter backed by
// golang.org/x/time/rate. Each unique key gets its own token bucket. A
// background goroutine periodically evicts entries that have not been
// accessed within 2x the cleanup interval.
type TokenBucketLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int // requests per minute, for Info.Limit
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

var _ ClientLimiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter creates a limiter with the given requests-per-minute
// rate, burst size, and cleanup interval. It starts a background goroutine
// for eviction. A non-positive cleanup interval means five minutes.
func NewTokenBucketLimiter(requestsPerMinute int, burst int, cleanupInterval time.Duration) *TokenBucketLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	m := &TokenBucketLimiter{
		rate:            rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		limit:           requestsPerMinute,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*entry),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow checks whether a request from the given key should be allowed.
func (m *TokenBucketLimiter) Allow(key string) (bool, Info) {
	m.mu.Lock()
	e, exists := m.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(m.rate, m.burst),
		}
		m.entries[key] = e
	}
	e.lastSeen = time.Now()
	m.mu.Unlock()

	now := time.Now()
	allowed := e.limiter.AllowN(now, 1)

	tokens := e.limiter.TokensAt(now)
	remaining := int(math.Max(0, math.Floor(tokens)))

	// Time until the bucket is full again
	resetAt := now
	if tokensNeeded := float64(m.burst) - tokens; tokensNeeded > 0 {
		resetAt = now.Add(time.Duration(tokensNeeded / float64(m.rate) * float64(time.Second)))
	}

	info := Info{
		Limit:     m.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}

	if !allowed {
		// Time until the next token is available
		reservation := e.limiter.ReserveN(now, 1)
		info.RetryAfter = reservation.DelayFrom(now)
		reservation.CancelAt(now)
	}

	return allowed, info
}

// Close stops the background cleanup goroutine.
func (m *TokenBucketLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Len returns the number of tracked clients.
func (m *TokenBucketLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale(time.Now())
		}
	}
}

// evictStale removes entries not seen since 2x the cleanup interval before now.
func (m *TokenBucketLimiter) evictStale(now time.Time) {
	cutoff := now.Add(-2 * m.cleanupInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
