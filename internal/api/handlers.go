package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"quotegate/internal/models"
	"quotegate/internal/quotes"
	"quotegate/internal/ratelimit"
	"quotegate/internal/version"
)

// Handlers contains HTTP handlers for the quote API
type Handlers struct {
	quoteService quotes.ServiceInterface
	budget       ratelimit.Reporter
	startedAt    time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithBudget reports the upstream request budget in health documents.
func WithBudget(budget ratelimit.Reporter) HandlerOption {
	return func(h *Handlers) {
		h.budget = budget
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(quoteService quotes.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		quoteService: quoteService,
		startedAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetQuote handles single quote requests
// GET /api/quotes/{id}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "quote id must be an integer")
		return
	}

	quote, err := h.quoteService.GetQuote(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, quote)
}

// GetRandomQuote handles random quote requests
// GET /api/quotes/random
func (h *Handlers) GetRandomQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quoteService.GetRandomQuote(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, quote)
}

// ListQuotes handles paginated listing requests
// GET /api/quotes?skip=0&limit=30
func (h *Handlers) ListQuotes(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", models.DefaultPageLimit)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	page, err := h.quoteService.ListQuotes(r.Context(), skip, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, page)
}

// HealthCheck handles health check requests
// GET /health
// A failing snapshot store or budget backend degrades the status; the cache
// keeps serving either way, so the response is always 200.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	stats := h.quoteService.Stats()
	response.AddComponent("cache", models.StatusHealthy, fmt.Sprintf("%d quotes cached", stats.CachedQuotes))
	response.AddMetric("cached_quotes", stats.CachedQuotes)
	response.AddMetric("cache_hits", stats.CacheHits)
	response.AddMetric("upstream_calls", stats.UpstreamCalls)
	response.AddMetric("rate_limited", stats.RateLimited)
	response.AddMetric("degraded_listings", stats.Degraded)

	if err := h.quoteService.CheckStore(r.Context()); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	if h.budget != nil {
		info, err := h.budget.Peek(r.Context())
		if err != nil {
			response.Status = models.StatusDegraded
			response.AddComponent("upstream_budget", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("upstream_budget", models.StatusHealthy,
				fmt.Sprintf("%d of %d requests left", info.Remaining, info.Limit))
			response.AddMetric("budget_remaining", info.Remaining)
			response.AddMetric("budget_limit", info.Limit)
			response.AddMetric("budget_reset_at", info.ResetAt.UTC().Format(time.RFC3339))
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeServiceError maps service failures to status codes and error bodies.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *quotes.ServiceError
	if !errors.As(err, &se) {
		slog.Error("Unclassified service error", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	errorResp := models.NewErrorResponse(se.Message, se.Code)
	if se.Kind == quotes.KindRateLimited {
		seconds := ratelimit.RetryAfterSeconds(se.RetryAfter.Seconds())
		errorResp.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	if se.StatusCode >= http.StatusInternalServerError {
		slog.Warn("Quote request failed", "path", r.URL.Path, "kind", se.Kind, "error", err)
	}
	h.writeJSONResponse(w, se.StatusCode, errorResp)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing left but to log.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
