// Package quotes answers quote queries from a local sorted cache and falls
// back to the upstream API under the outbound request budget.
//
// Lock discipline: the limiter lock is held only for the admission decision
// and the cache lock only for lookups and inserts. Upstream calls and store
// writes run with neither held.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"quotegate/internal/cache"
	"quotegate/internal/models"
	"quotegate/internal/ratelimit"
	"quotegate/internal/storage"
	"quotegate/internal/upstream"
)

// DefaultCacheTTL is how long a persisted cache snapshot stays valid.
const DefaultCacheTTL = time.Hour

// Service handles quote lookups and upstream budget enforcement.
type Service struct {
	cache   *cache.SortedCache
	limiter ratelimit.Limiter
	gateway upstream.Gateway
	logger  *slog.Logger

	store    storage.Store
	cacheTTL time.Duration
	writer   *storage.Writer

	flights   singleflight.Group
	flightMu  sync.Mutex
	pending   map[int]*flight
	flightSeq uint64

	cacheHits     atomic.Int64
	upstreamCalls atomic.Int64
	rateLimited   atomic.Int64
	degraded      atomic.Int64
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCache supplies a pre-populated cache.
func WithCache(c *cache.SortedCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithStore enables cache snapshots in store. A non-positive ttl means
// DefaultCacheTTL.
func WithStore(store storage.Store, ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		s.store = store
		s.cacheTTL = ttl
	}
}

// NewService creates a new quotes service with the given upstream gateway
// and request budget.
func NewService(gateway upstream.Gateway, limiter ratelimit.Limiter, opts ...Option) *Service {
	s := &Service{
		gateway:  gateway,
		limiter:  limiter,
		logger:   slog.Default(),
		cacheTTL: DefaultCacheTTL,
		pending:  make(map[int]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewSortedCache()
	}
	if s.store != nil {
		s.writer = storage.NewWriter(s.store, CacheKey, s.snapshot, func(err error) {
			s.logger.Warn("Cache snapshot not saved", "error", err)
		})
	}
	return s
}

// Close stops the snapshot writer after saving any change not yet written.
func (s *Service) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// GetQuote returns the quote with the given id. A cached quote is returned
// without consuming budget. Concurrent misses for one id share a single
// upstream call, which is abandoned without touching the cache once every
// caller waiting on it has gone.
func (s *Service) GetQuote(ctx context.Context, id int) (models.Quote, error) {
	if id <= 0 {
		return models.Quote{}, NewInvalidInputError("quote id must be a positive integer", fmt.Errorf("got %d", id))
	}

	if q, ok := s.cache.Lookup(id); ok {
		s.cacheHits.Add(1)
		return q, nil
	}

	f := s.joinFlight(ctx, id)
	defer s.leaveFlight(id, f)

	ch := s.flights.DoChan(f.key, func() (interface{}, error) {
		return s.fetchAndCache(f.ctx, id)
	})

	select {
	case <-ctx.Done():
		return models.Quote{}, NewUpstreamError("request cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.Quote{}, res.Err
		}
		return res.Val.(models.Quote), nil
	}
}

// flight is one upstream lookup shared by every caller waiting on an id.
// Its context is cancelled when the last waiter leaves.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// joinFlight registers the caller with the pending flight for id, starting
// a new one if there is none. The flight context carries ctx's values but
// not its deadline.
func (s *Service) joinFlight(ctx context.Context, id int) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f, ok := s.pending[id]
	if !ok {
		s.flightSeq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			key:    strconv.Itoa(id) + "/" + strconv.FormatUint(s.flightSeq, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		s.pending[id] = f
	}
	f.waiters++
	return f
}

func (s *Service) leaveFlight(id int, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.pending[id] == f {
		delete(s.pending, id)
	}
}

func (s *Service) fetchAndCache(ctx context.Context, id int) (models.Quote, error) {
	// A flight that finished just before this one started may have filled it.
	if q, ok := s.cache.Lookup(id); ok {
		s.cacheHits.Add(1)
		return q, nil
	}

	if err := s.admit(ctx); err != nil {
		return models.Quote{}, err
	}

	s.upstreamCalls.Add(1)
	q, err := s.gateway.FetchByID(ctx, id)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			s.logger.Debug("Quote not found upstream", "quote_id", id)
			return models.Quote{}, NewNotFoundError(id)
		}
		s.logger.Warn("Upstream fetch failed", "quote_id", id, "error", err)
		return models.Quote{}, NewUpstreamError("failed to fetch quote", err)
	}

	// Every caller gave up: the result is dropped.
	if err := ctx.Err(); err != nil {
		s.logger.Debug("Quote fetched after all callers left", "quote_id", id)
		return models.Quote{}, NewUpstreamError("request cancelled", err)
	}

	actual, inserted, err := s.cache.LoadOrInsert(q)
	if err != nil {
		return models.Quote{}, NewUpstreamError("upstream returned a malformed quote", err)
	}
	if inserted {
		s.persist()
	}
	return actual, nil
}

// GetRandomQuote fetches a random quote and keeps it in the cache.
func (s *Service) GetRandomQuote(ctx context.Context) (models.Quote, error) {
	if err := s.admit(ctx); err != nil {
		return models.Quote{}, err
	}

	s.upstreamCalls.Add(1)
	q, err := s.gateway.FetchRandom(ctx)
	if err != nil {
		s.logger.Warn("Upstream random fetch failed", "error", err)
		return models.Quote{}, NewUpstreamError("failed to fetch random quote", err)
	}

	inserted, err := s.cache.Insert(q)
	if err != nil {
		return models.Quote{}, NewUpstreamError("upstream returned a malformed quote", err)
	}
	if inserted {
		s.persist()
	}
	return q, nil
}

// ListQuotes returns one page of quotes and merges it into the cache.
// Once admitted, any upstream failure yields an empty page echoing skip and
// limit instead of an error.
func (s *Service) ListQuotes(ctx context.Context, skip, limit int) (*models.QuotePage, error) {
	req := models.ListQuotesRequest{Skip: skip, Limit: limit}
	if err := req.Validate(); err != nil {
		return nil, NewInvalidInputError("invalid pagination parameters", err)
	}

	if err := s.admit(ctx); err != nil {
		if IsKind(err, KindRateLimited) {
			return nil, err
		}
		s.degraded.Add(1)
		s.logger.Warn("Listing degraded: request budget unavailable", "error", err)
		return models.EmptyQuotePage(skip, limit), nil
	}

	s.upstreamCalls.Add(1)
	page, err := s.gateway.FetchPage(ctx, skip, limit)
	if err != nil {
		s.degraded.Add(1)
		s.logger.Warn("Listing degraded: upstream fetch failed", "skip", skip, "limit", limit, "error", err)
		return models.EmptyQuotePage(skip, limit), nil
	}

	// Validate the whole page first so a bad record leaves no trace.
	for i, q := range page.Quotes {
		if err := q.Validate(); err != nil {
			s.degraded.Add(1)
			s.logger.Warn("Listing degraded: malformed upstream record", "index", i, "error", err)
			return models.EmptyQuotePage(skip, limit), nil
		}
	}

	added, err := s.cache.BulkMerge(page.Quotes)
	if err != nil {
		s.logger.Error("Cache merge failed after validation", "error", err)
	}
	if added > 0 {
		s.persist()
	}

	quotes := page.Quotes
	if quotes == nil {
		quotes = []models.Quote{}
	}
	return &models.QuotePage{
		Quotes: quotes,
		Total:  page.Total,
		Skip:   skip,
		Limit:  limit,
	}, nil
}

// admit asks the limiter for one upstream slot.
func (s *Service) admit(ctx context.Context) error {
	admitted, info, err := s.limiter.TryAdmit(ctx)
	if err != nil {
		s.logger.Error("Rate limiter unavailable", "error", err)
		return NewLimiterUnavailableError(err)
	}
	if !admitted {
		s.rateLimited.Add(1)
		s.logger.Info("Upstream budget exhausted", "retry_after", info.RetryAfter.String())
		return NewRateLimitedError(info.RetryAfter)
	}
	return nil
}

// Stats is a point-in-time view of service counters.
type Stats struct {
	CachedQuotes  int   `json:"cached_quotes"`
	CacheHits     int64 `json:"cache_hits"`
	UpstreamCalls int64 `json:"upstream_calls"`
	RateLimited   int64 `json:"rate_limited"`
	Degraded      int64 `json:"degraded_listings"`
}

// Stats returns the current counters and cache size.
func (s *Service) Stats() Stats {
	return Stats{
		CachedQuotes:  s.cache.Len(),
		CacheHits:     s.cacheHits.Load(),
		UpstreamCalls: s.upstreamCalls.Load(),
		RateLimited:   s.rateLimited.Load(),
		Degraded:      s.degraded.Load(),
	}
}

// CheckStore pings the snapshot store. It returns nil when none is configured.
func (s *Service) CheckStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

// Cache exposes the underlying cache, read-only by convention.
func (s *Service) Cache() *cache.SortedCache {
	return s.cache
}
