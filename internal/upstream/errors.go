package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the upstream API answered that the quote does not exist.
	ErrNotFound = errors.New("quote not found upstream")

	// ErrUpstream matches every failure other than a confirmed absence:
	// transport errors, timeouts, unexpected status codes and bad bodies.
	ErrUpstream = errors.New("upstream request failed")
)

// Error describes a failed upstream call. It matches ErrUpstream with errors.Is.
type Error struct {
	Op         string // fetch_by_id, fetch_random or fetch_page
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrUpstream
}
