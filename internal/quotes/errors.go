package quotes

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"quotegate/internal/models"
)

// Kind classifies service failures for callers.
type Kind string

const (
	KindNotFound      Kind = "not_found"      // upstream confirmed no such id
	KindUpstreamError Kind = "upstream_error" // no confirmation either way
	KindRateLimited   Kind = "rate_limited"   // local budget exhausted
	KindInvalidInput  Kind = "invalid_input"  // malformed id or pagination
)

// ServiceError represents errors from the quotes service with HTTP context
type ServiceError struct {
	Kind       Kind
	Code       string
	Message    string
	StatusCode int
	RetryAfter time.Duration // set for KindRateLimited
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a ServiceError of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == kind
}

// Error constructors for common service errors

func NewNotFoundError(id int) *ServiceError {
	return &ServiceError{
		Kind:       KindNotFound,
		Code:       models.ErrorCodeNotFound,
		Message:    "Quote not found",
		StatusCode: http.StatusNotFound,
		Err:        fmt.Errorf("quote %d does not exist upstream", id),
	}
}

func NewUpstreamError(message string, err error) *ServiceError {
	return &ServiceError{
		Kind:       KindUpstreamError,
		Code:       models.ErrorCodeUpstreamError,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewLimiterUnavailableError reports that the request budget could not be
// checked, so no upstream call was attempted.
func NewLimiterUnavailableError(err error) *ServiceError {
	return &ServiceError{
		Kind:       KindUpstreamError,
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    "request budget unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewRateLimitedError(retryAfter time.Duration) *ServiceError {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return &ServiceError{
		Kind:       KindRateLimited,
		Code:       models.ErrorCodeRateLimited,
		Message:    "upstream request budget exhausted",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func NewInvalidInputError(message string, err error) *ServiceError {
	return &ServiceError{
		Kind:       KindInvalidInput,
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}
