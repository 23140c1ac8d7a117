package quotes

import (
	"context"

	"quotegate/internal/models"
)

// ServiceInterface defines the query operations exposed to the HTTP surface
type ServiceInterface interface {
	// GetQuote returns one quote, from the cache when possible
	GetQuote(ctx context.Context, id int) (models.Quote, error)

	// GetRandomQuote always asks upstream and caches the result
	GetRandomQuote(ctx context.Context) (models.Quote, error)

	// ListQuotes returns one upstream page; upstream failures yield an empty page
	ListQuotes(ctx context.Context, skip, limit int) (*models.QuotePage, error)

	// Stats reports cache and traffic counters
	Stats() Stats

	// CheckStore pings the persistent store, if any
	CheckStore(ctx context.Context) error
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
