package ratelimit

import (
	"context"
	"sync"
	"time"
)

// State is the fixed-window counter. It is exported so the window can be
// carried across restarts; callers never mutate a live limiter through it.
type State struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// FixedWindow admits at most limit requests per window. The window restarts
// at the first admission request made window or more after it began.
// Across a boundary up to 2*limit requests can pass in less than one window.
type FixedWindow struct {
	limit  int
	window time.Duration
	clock  Clock

	mu    sync.Mutex
	state State
}

var (
	_ Limiter  = (*FixedWindow)(nil)
	_ Reporter = (*FixedWindow)(nil)
)

// NewFixedWindow creates a limiter admitting limit requests per window.
// A nil clock means time.Now.
func NewFixedWindow(limit int, window time.Duration, clock Clock) *FixedWindow {
	if clock == nil {
		clock = time.Now
	}
	return &FixedWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		state:  State{WindowStart: clock()},
	}
}

// TryAdmit implements Limiter. The lock covers only the counter update.
func (f *FixedWindow) TryAdmit(ctx context.Context) (bool, Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock()
	elapsed := now.Sub(f.state.WindowStart)
	if elapsed >= f.window {
		f.state = State{Count: 0, WindowStart: now}
		elapsed = 0
	}

	info := Info{
		Limit:   f.limit,
		ResetAt: f.state.WindowStart.Add(f.window),
	}

	if f.state.Count >= f.limit {
		info.RetryAfter = f.window - elapsed
		return false, info, nil
	}

	f.state.Count++
	info.Remaining = f.limit - f.state.Count
	return true, info, nil
}

// Peek implements Reporter. An expired window reports the full limit.
func (f *FixedWindow) Peek(ctx context.Context) (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock()
	if now.Sub(f.state.WindowStart) >= f.window {
		return Info{Limit: f.limit, Remaining: f.limit, ResetAt: now.Add(f.window)}, nil
	}
	return Info{
		Limit:     f.limit,
		Remaining: max(f.limit-f.state.Count, 0),
		ResetAt:   f.state.WindowStart.Add(f.window),
	}, nil
}

// State returns a copy of the current window.
func (f *FixedWindow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Restore replaces the current window with s. Negative counts are clamped
// to zero and a window start in the future is moved to now.
func (f *FixedWindow) Restore(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock()
	if s.Count < 0 {
		s.Count = 0
	}
	if s.WindowStart.IsZero() || s.WindowStart.After(now) {
		s.WindowStart = now
	}
	f.state = s
}

// Limit returns the number of requests admitted per window.
func (f *FixedWindow) Limit() int { return f.limit }

// Window returns the window length.
func (f *FixedWindow) Window() time.Duration { return f.window }

// remaining returns how long the window in s still has to run.
func (f *FixedWindow) remaining(s State) time.Duration {
	return s.WindowStart.Add(f.window).Sub(f.clock())
}
