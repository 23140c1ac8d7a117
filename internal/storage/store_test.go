package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source for backends with an
// injectable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// runStoreContract exercises the behaviour every Store backend must share.
// advance moves the backend's notion of time forward; when nil the expiry
// checks are skipped.
func runStoreContract(t *testing.T, s Store, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("Missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Set and Get", func(t *testing.T) {
		if err := s.Set(ctx, "quotes:cache", []byte(`[{"id":1}]`), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "quotes:cache")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte(`[{"id":1}]`)) {
			t.Errorf("Expected stored value, got %q", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := s.Set(ctx, "overwrite", []byte("one"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Set(ctx, "overwrite", []byte("two"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "overwrite")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "two" {
			t.Errorf("Expected overwritten value, got %q", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Set(ctx, "doomed", []byte("x"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "doomed"); err != nil {
			t.Errorf("Deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("Returned value is a copy", func(t *testing.T) {
		if err := s.Set(ctx, "copy", []byte("abc"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, _ := s.Get(ctx, "copy")
		got[0] = 'z'
		again, _ := s.Get(ctx, "copy")
		if string(again) != "abc" {
			t.Errorf("Stored value changed through returned slice: %q", again)
		}
	})

	if advance == nil {
		return
	}

	t.Run("Expiry", func(t *testing.T) {
		if err := s.Set(ctx, "quotes:ratelimit", []byte(`{"count":3}`), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.Set(ctx, "forever", []byte("kept"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		advance(59 * time.Second)
		if _, err := s.Get(ctx, "quotes:ratelimit"); err != nil {
			t.Fatalf("Key expired too early: %v", err)
		}

		advance(2 * time.Second)
		if _, err := s.Get(ctx, "quotes:ratelimit"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected expired key to be gone, got %v", err)
		}
		if _, err := s.Get(ctx, "forever"); err != nil {
			t.Errorf("Key without TTL should survive, got %v", err)
		}
	})
}

func runStoreConcurrency(t *testing.T, s Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errCh := make(chan error, 40)

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := s.Set(ctx, fmt.Sprintf("key-%d", i%5), []byte(fmt.Sprintf("v%d", i)), time.Hour); err != nil {
				errCh <- err
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Get(ctx, fmt.Sprintf("key-%d", i%5)); err != nil && !errors.Is(err, ErrNotFound) {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent operation failed: %v", err)
	}
}
