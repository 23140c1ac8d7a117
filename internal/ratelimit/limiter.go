// Package ratelimit provides the two admission controls of the service.
//
// The upstream budget (Limiter) is a fixed-window counter that decides whether
// one more request may be sent to the quotation API. It never blocks: a
// rejected caller receives the remaining wait time and chooses what to do.
// Fixed windows admit up to twice the limit across a window boundary; that is
// the accepted cost of O(1) state.
//
// The client limiter (ClientLimiter) throttles callers of the HTTP surface with
// per-client token buckets and comes with middleware that sets the standard
// rate limit response headers.
package ratelimit

import (
	"context"
	"time"
)

// Limiter is the outbound request budget. Implementations must be safe for
// concurrent use and must not sleep.
type Limiter interface {
	// TryAdmit consumes one slot of the current window if one is free.
	// On rejection Info.RetryAfter holds the time until the window resets.
	// A non-nil error means the decision could not be made.
	TryAdmit(ctx context.Context) (admitted bool, info Info, err error)
}

// Reporter reads the budget without consuming it.
type Reporter interface {
	Peek(ctx context.Context) (Info, error)
}

// ClientLimiter throttles inbound requests per client key. Implementations
// must be safe for concurrent use.
type ClientLimiter interface {
	// Allow checks whether a request identified by key should be allowed.
	// Returns whether the request is allowed and rate information for
	// populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the window resets or the bucket refills
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time
