package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotegate/internal/storage"
)

// StateKey is the store key holding the in-process window.
const StateKey = "quotes:ratelimit"

// Persisted copies the window of a FixedWindow to a store after every
// admission so a restarted process keeps honouring the budget it already
// spent. The copy is written by a background writer: admission never waits
// on the store, and write failures are logged only.
type Persisted struct {
	inner  *FixedWindow
	logger *slog.Logger
	writer *storage.Writer
}

var (
	_ Limiter  = (*Persisted)(nil)
	_ Reporter = (*Persisted)(nil)
)

// NewPersisted wraps inner. The state key expires when the window it
// describes ends. Call Close to stop the writer.
func NewPersisted(inner *FixedWindow, store storage.Store, logger *slog.Logger) *Persisted {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persisted{inner: inner, logger: logger}
	p.writer = storage.NewWriter(store, StateKey, p.snapshot, func(err error) {
		p.logger.Warn("Failed to persist rate limit window", "error", err)
	})
	return p
}

// TryAdmit implements Limiter.
func (p *Persisted) TryAdmit(ctx context.Context) (bool, Info, error) {
	admitted, info, err := p.inner.TryAdmit(ctx)
	if err == nil && admitted {
		p.writer.Notify()
	}
	return admitted, info, err
}

// Peek implements Reporter.
func (p *Persisted) Peek(ctx context.Context) (Info, error) {
	return p.inner.Peek(ctx)
}

// Flush writes the current window now.
func (p *Persisted) Flush(ctx context.Context) error {
	return p.writer.Flush(ctx)
}

// Close stops the writer after saving any window not yet written.
func (p *Persisted) Close() error {
	return p.writer.Close()
}

// snapshot returns the window with the time left in it. A window that has
// already ended is not written.
func (p *Persisted) snapshot() (any, time.Duration, bool) {
	state := p.inner.State()
	ttl := p.inner.remaining(state)
	if ttl <= 0 {
		return nil, 0, false
	}
	return state, ttl, true
}

// RestoreFrom seeds inner with the window saved in store. A missing key is
// not an error: the limiter simply starts a fresh window.
func RestoreFrom(ctx context.Context, inner *FixedWindow, store storage.Store) (bool, error) {
	var state State
	err := storage.GetJSON(ctx, store, StateKey, &state)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load rate limit window: %w", err)
	}

	inner.Restore(state)
	return true, nil
}
