// Package models - API response types and error handling.
// This file defines outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Quote and listing bodies keep the upstream wire shape so callers can switch transparently
// - Errors share one structure with a machine-readable code
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Invalid input: malformed id or pagination parameters (400)
// - Not found: upstream confirmed the quote does not exist (404)
// - Rate limited: the local upstream budget is exhausted (429)
// - Upstream error: the quotation API could not be reached or failed (502)
type ErrorResponse struct {
	Error      string            `json:"error"`                 // Human-readable error description
	Code       string            `json:"code,omitempty"`        // Machine-readable error code
	Details    map[string]string `json:"details,omitempty"`     // Field-specific error details
	RetryAfter int               `json:"retry_after,omitempty"` // Seconds until a retry may succeed
	Timestamp  time.Time         `json:"timestamp"`             // Error occurrence time
	RequestID  string            `json:"request_id,omitempty"`  // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Quote doesn't exist upstream
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Budget exhausted
	ErrorCodeUpstreamError      = "UPSTREAM_ERROR"      // 502: Quotation API failure
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
