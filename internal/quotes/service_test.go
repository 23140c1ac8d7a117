package quotes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quotegate/internal/cache"
	"quotegate/internal/models"
	"quotegate/internal/ratelimit"
	"quotegate/internal/storage"
	"quotegate/internal/upstream"
)

// MockGateway implements upstream.Gateway for testing
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FetchByID(ctx context.Context, id int) (models.Quote, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Quote), args.Error(1)
}

func (m *MockGateway) FetchRandom(ctx context.Context) (models.Quote, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Quote), args.Error(1)
}

func (m *MockGateway) FetchPage(ctx context.Context, skip, limit int) (models.QuotePage, error) {
	args := m.Called(ctx, skip, limit)
	return args.Get(0).(models.QuotePage), args.Error(1)
}

// stubLimiter returns a fixed decision.
type stubLimiter struct {
	admitted bool
	info     ratelimit.Info
	err      error
	calls    atomic.Int64
}

func (l *stubLimiter) TryAdmit(ctx context.Context) (bool, ratelimit.Info, error) {
	l.calls.Add(1)
	return l.admitted, l.info, l.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(gateway upstream.Gateway, limiter ratelimit.Limiter, opts ...Option) *Service {
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewService(gateway, limiter, opts...)
}

func newBudget(limit int) (*ratelimit.FixedWindow, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return ratelimit.NewFixedWindow(limit, 60*time.Second, clock.Now), clock
}

func TestGetQuote_MissThenHit(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)
	ctx := context.Background()

	want := models.Quote{ID: 5, Quote: "X", Author: "Y"}
	gateway.On("FetchByID", mock.Anything, 5).Return(want, nil).Once()

	got, err := svc.GetQuote(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []models.Quote{want}, svc.Cache().Snapshot())
	assert.Equal(t, 1, limiter.State().Count)

	again, err := svc.GetQuote(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, want, again)

	gateway.AssertNumberOfCalls(t, "FetchByID", 1)
	assert.Equal(t, 1, limiter.State().Count, "cache hits must not consume budget")

	stats := svc.Stats()
	assert.Equal(t, 1, stats.CachedQuotes)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.UpstreamCalls)
}

func TestGetQuote_RateLimitedNeverCallsUpstream(t *testing.T) {
	gateway := new(MockGateway)
	limiter, clock := newBudget(3)
	svc := newTestService(gateway, limiter)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		admitted, _, _ := limiter.TryAdmit(ctx)
		require.True(t, admitted)
	}
	clock.Advance(15 * time.Second)

	_, err := svc.GetQuote(ctx, 77)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 45*time.Second, se.RetryAfter)
	assert.Equal(t, 429, se.StatusCode)

	gateway.AssertNotCalled(t, "FetchByID", mock.Anything, mock.Anything)
	assert.Equal(t, 0, svc.Cache().Len())
	assert.Equal(t, int64(1), svc.Stats().RateLimited)
}

func TestGetQuote_CacheHitWhileRateLimited(t *testing.T) {
	gateway := new(MockGateway)
	limiter := &stubLimiter{admitted: false, info: ratelimit.Info{RetryAfter: time.Minute}}
	svc := newTestService(gateway, limiter, WithCache(cache.NewSortedCache(models.Quote{ID: 3, Quote: "cached"})))

	q, err := svc.GetQuote(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "cached", q.Quote)
	assert.Equal(t, int64(0), limiter.calls.Load())
}

func TestGetQuote_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		upstream   error
		wantKind   Kind
		wantStatus int
	}{
		{
			name:       "confirmed absence",
			upstream:   fmt.Errorf("fetch_by_id: %w", upstream.ErrNotFound),
			wantKind:   KindNotFound,
			wantStatus: 404,
		},
		{
			name:       "server failure",
			upstream:   &upstream.Error{Op: upstream.OpFetchByID, StatusCode: 500, Err: errors.New("Internal Server Error")},
			wantKind:   KindUpstreamError,
			wantStatus: 502,
		},
		{
			name:       "timeout",
			upstream:   &upstream.Error{Op: upstream.OpFetchByID, Err: context.DeadlineExceeded},
			wantKind:   KindUpstreamError,
			wantStatus: 502,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := new(MockGateway)
			limiter, _ := newBudget(60)
			svc := newTestService(gateway, limiter)

			gateway.On("FetchByID", mock.Anything, 9).Return(models.Quote{}, tt.upstream)

			_, err := svc.GetQuote(context.Background(), 9)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.wantKind))

			var se *ServiceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantStatus, se.StatusCode)
			assert.Equal(t, 0, svc.Cache().Len(), "failed fetches must leave no trace")
		})
	}
}

func TestGetQuote_InvalidID(t *testing.T) {
	gateway := new(MockGateway)
	limiter := &stubLimiter{admitted: true}
	svc := newTestService(gateway, limiter)

	for _, id := range []int{0, -1} {
		_, err := svc.GetQuote(context.Background(), id)
		assert.True(t, IsKind(err, KindInvalidInput), "id %d", id)
	}
	assert.Equal(t, int64(0), limiter.calls.Load())
	gateway.AssertNotCalled(t, "FetchByID", mock.Anything, mock.Anything)
}

func TestGetQuote_LimiterUnavailable(t *testing.T) {
	gateway := new(MockGateway)
	limiter := &stubLimiter{err: errors.New("redis down")}
	svc := newTestService(gateway, limiter)

	_, err := svc.GetQuote(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUpstreamError))

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
	gateway.AssertNotCalled(t, "FetchByID", mock.Anything, mock.Anything)
}

func TestGetQuote_ReturnsCachedCopyOnDuplicate(t *testing.T) {
	// Another path may cache the id while this fetch is in flight; the
	// existing record wins.
	existing := models.Quote{ID: 4, Quote: "first"}
	c := cache.NewSortedCache()
	gateway := new(MockGateway)
	gateway.On("FetchByID", mock.Anything, 4).
		Run(func(mock.Arguments) { _, _ = c.Insert(existing) }).
		Return(models.Quote{ID: 4, Quote: "second"}, nil)

	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter, WithCache(c))

	got, err := svc.GetQuote(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}

// blockingGateway holds FetchByID until released and counts calls.
type blockingGateway struct {
	upstream.Gateway
	release  chan struct{}
	started  chan struct{}
	calls    atomic.Int64
	returned atomic.Int64
}

func (g *blockingGateway) FetchByID(ctx context.Context, id int) (models.Quote, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	defer g.returned.Add(1)
	return models.Quote{ID: id, Quote: "shared", Author: "Anon"}, nil
}

func TestGetQuote_CoalescesConcurrentMisses(t *testing.T) {
	gateway := &blockingGateway{release: make(chan struct{}), started: make(chan struct{})}
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	const callers = 10
	results := make(chan models.Quote, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q, err := svc.GetQuote(context.Background(), 12)
		assert.NoError(t, err)
		results <- q
	}()
	<-gateway.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := svc.GetQuote(context.Background(), 12)
			assert.NoError(t, err)
			results <- q
		}()
	}

	// Let the followers reach the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gateway.release)
	wg.Wait()
	close(results)

	for q := range results {
		assert.Equal(t, 12, q.ID)
	}
	assert.Equal(t, int64(1), gateway.calls.Load())
	assert.Equal(t, 1, limiter.State().Count)
	assert.Equal(t, 1, svc.Cache().Len())
}

func TestGetQuote_TimedOutFetchLeavesCacheUntouched(t *testing.T) {
	gateway := &blockingGateway{release: make(chan struct{}), started: make(chan struct{})}
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.GetQuote(ctx, 8)
	assert.True(t, IsKind(err, KindUpstreamError))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The gateway answers only after the caller has gone.
	close(gateway.release)
	require.Eventually(t, func() bool { return gateway.returned.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return svc.Cache().Len() != 0 }, 100*time.Millisecond, 10*time.Millisecond)

	_, ok := svc.Cache().Lookup(8)
	assert.False(t, ok)
}

func TestGetQuote_CancelledCallerDoesNotFailOthers(t *testing.T) {
	gateway := &blockingGateway{release: make(chan struct{}), started: make(chan struct{})}
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := svc.GetQuote(ctx, 8)
		cancelledErr <- err
	}()
	<-gateway.started

	type result struct {
		q   models.Quote
		err error
	}
	waiting := make(chan result, 1)
	go func() {
		q, err := svc.GetQuote(context.Background(), 8)
		waiting <- result{q, err}
	}()

	// Let the second caller join the flight before the first leaves.
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.True(t, IsKind(<-cancelledErr, KindUpstreamError))

	close(gateway.release)
	res := <-waiting
	require.NoError(t, res.err)
	assert.Equal(t, 8, res.q.ID)
	assert.Equal(t, 1, svc.Cache().Len())
	assert.Equal(t, int64(1), gateway.calls.Load())
}

func TestGetQuote_NewCallerAfterAbandonedFlightFetchesAgain(t *testing.T) {
	gateway := &blockingGateway{release: make(chan struct{}), started: make(chan struct{})}
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.GetQuote(ctx, 3)
	require.Error(t, err)

	close(gateway.release)
	q, err := svc.GetQuote(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, q.ID)
	assert.Equal(t, int64(2), gateway.calls.Load())
	assert.Equal(t, 1, svc.Cache().Len())
}

func TestGetRandomQuote(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	gateway.On("FetchRandom", mock.Anything).Return(models.Quote{ID: 31, Quote: "R"}, nil).Twice()

	for i := 0; i < 2; i++ {
		q, err := svc.GetRandomQuote(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 31, q.ID)
	}

	assert.Equal(t, 2, limiter.State().Count, "random quotes always consume budget")
	assert.Equal(t, 1, svc.Cache().Len())
	gateway.AssertExpectations(t)
}

func TestGetRandomQuote_DuplicateKeepsExisting(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	old := models.Quote{ID: 5, Quote: "old"}
	svc := newTestService(gateway, limiter, WithCache(cache.NewSortedCache(old)))

	gateway.On("FetchRandom", mock.Anything).Return(models.Quote{ID: 5, Quote: "new"}, nil)

	q, err := svc.GetRandomQuote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", q.Quote)

	cached, _ := svc.Cache().Lookup(5)
	assert.Equal(t, "old", cached.Quote)
}

func TestGetRandomQuote_Failures(t *testing.T) {
	t.Run("upstream error", func(t *testing.T) {
		gateway := new(MockGateway)
		limiter, _ := newBudget(60)
		svc := newTestService(gateway, limiter)
		gateway.On("FetchRandom", mock.Anything).Return(models.Quote{}, &upstream.Error{Op: upstream.OpFetchRandom, StatusCode: 503, Err: errors.New("down")})

		_, err := svc.GetRandomQuote(context.Background())
		assert.True(t, IsKind(err, KindUpstreamError))
		assert.Equal(t, 0, svc.Cache().Len())
	})

	t.Run("rate limited", func(t *testing.T) {
		gateway := new(MockGateway)
		svc := newTestService(gateway, &stubLimiter{info: ratelimit.Info{RetryAfter: 2 * time.Second}})

		_, err := svc.GetRandomQuote(context.Background())
		assert.True(t, IsKind(err, KindRateLimited))
		gateway.AssertNotCalled(t, "FetchRandom", mock.Anything)
	})
}

func TestListQuotes_MergesPage(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	gateway.On("FetchPage", mock.Anything, 0, 2).Return(models.QuotePage{
		Quotes: []models.Quote{{ID: 2, Quote: "b"}, {ID: 1, Quote: "a"}},
		Total:  100,
		Skip:   0,
		Limit:  2,
	}, nil)

	page, err := svc.ListQuotes(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 100, page.Total)
	assert.Equal(t, 0, page.Skip)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Quotes, 2)

	snap := svc.Cache().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 1, snap[0].ID)
	assert.Equal(t, 2, snap[1].ID)
}

func TestListQuotes_UpstreamFailureDegrades(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	seed := models.Quote{ID: 50, Quote: "seed"}
	svc := newTestService(gateway, limiter, WithCache(cache.NewSortedCache(seed)))

	gateway.On("FetchPage", mock.Anything, 0, 30).Return(models.QuotePage{}, &upstream.Error{Op: upstream.OpFetchPage, StatusCode: 500, Err: errors.New("boom")})

	page, err := svc.ListQuotes(context.Background(), 0, 30)
	require.NoError(t, err)
	assert.Equal(t, &models.QuotePage{Quotes: []models.Quote{}, Total: 0, Skip: 0, Limit: 30}, page)
	assert.Equal(t, []models.Quote{seed}, svc.Cache().Snapshot())
	assert.Equal(t, int64(1), svc.Stats().Degraded)
}

func TestListQuotes_MalformedRecordDegrades(t *testing.T) {
	gateway := new(MockGateway)
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter)

	gateway.On("FetchPage", mock.Anything, 10, 3).Return(models.QuotePage{
		Quotes: []models.Quote{{ID: 11}, {ID: 0, Quote: "missing id"}, {ID: 13}},
		Total:  100,
	}, nil)

	page, err := svc.ListQuotes(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Empty(t, page.Quotes)
	assert.Equal(t, 10, page.Skip)
	assert.Equal(t, 3, page.Limit)
	assert.Equal(t, 0, svc.Cache().Len())
}

func TestListQuotes_InvalidInput(t *testing.T) {
	tests := []struct {
		name        string
		skip, limit int
	}{
		{name: "negative skip", skip: -1, limit: 10},
		{name: "zero limit", skip: 0, limit: 0},
		{name: "limit above maximum", skip: 0, limit: models.MaxPageLimit + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := new(MockGateway)
			limiter := &stubLimiter{admitted: true}
			svc := newTestService(gateway, limiter)

			_, err := svc.ListQuotes(context.Background(), tt.skip, tt.limit)
			assert.True(t, IsKind(err, KindInvalidInput))
			assert.Equal(t, int64(0), limiter.calls.Load())
		})
	}
}

func TestListQuotes_RateLimited(t *testing.T) {
	gateway := new(MockGateway)
	svc := newTestService(gateway, &stubLimiter{info: ratelimit.Info{RetryAfter: 5 * time.Second}})

	page, err := svc.ListQuotes(context.Background(), 0, 30)
	assert.Nil(t, page)
	assert.True(t, IsKind(err, KindRateLimited))
	gateway.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestListQuotes_LimiterUnavailableDegrades(t *testing.T) {
	gateway := new(MockGateway)
	svc := newTestService(gateway, &stubLimiter{err: errors.New("redis down")})

	page, err := svc.ListQuotes(context.Background(), 0, 30)
	require.NoError(t, err)
	assert.Equal(t, models.EmptyQuotePage(0, 30), page)
	gateway.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SnapshotRoundTrip(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	gateway := new(MockGateway)
	gateway.On("FetchByID", mock.Anything, 5).Return(models.Quote{ID: 5, Quote: "X", Author: "Y"}, nil).Once()
	limiter, _ := newBudget(60)

	first := newTestService(gateway, limiter, WithStore(store, time.Hour))
	_, err = first.GetQuote(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	restarted := newTestService(new(MockGateway), &stubLimiter{}, WithStore(store, time.Hour))
	loaded, err := restarted.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	q, err := restarted.GetQuote(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "X", q.Quote)
}

func TestService_LoadSnapshotSkipsMalformed(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, CacheKey, []byte(`[{"id":3},{"id":0},{"id":1}]`), time.Hour))

	svc := newTestService(new(MockGateway), &stubLimiter{}, WithStore(store, 0))
	t.Cleanup(func() { svc.Close() })
	loaded, err := svc.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, svc.Cache().Len())
}

func TestService_LoadSnapshotMissingOrCorrupt(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()
	svc := newTestService(new(MockGateway), &stubLimiter{}, WithStore(store, 0))
	t.Cleanup(func() { svc.Close() })

	loaded, err := svc.LoadSnapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, loaded)

	require.NoError(t, store.Set(ctx, CacheKey, []byte("garbage"), time.Hour))
	_, err = svc.LoadSnapshot(ctx)
	assert.Error(t, err)
}

func TestService_WithoutStore(t *testing.T) {
	svc := newTestService(new(MockGateway), &stubLimiter{})
	ctx := context.Background()

	loaded, err := svc.LoadSnapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, loaded)
	assert.NoError(t, svc.SaveSnapshot(ctx))
	assert.NoError(t, svc.CheckStore(ctx))
	assert.NoError(t, svc.Close())
}

// slowStore delays every Set.
type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s slowStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	time.Sleep(s.delay)
	return s.Store.Set(ctx, key, value, ttl)
}

func TestService_SlowStoreDoesNotDelayLookups(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	gateway := &blockingGateway{release: make(chan struct{}), started: make(chan struct{})}
	close(gateway.release)
	limiter, _ := newBudget(60)
	svc := newTestService(gateway, limiter, WithStore(slowStore{Store: store, delay: 200 * time.Millisecond}, time.Hour))
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for id := 1; id <= 5; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetQuote(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 150*time.Millisecond, "lookups waited on the snapshot store")

	require.NoError(t, svc.Close())
	var saved []models.Quote
	require.NoError(t, storage.GetJSON(ctx, store, CacheKey, &saved))
	assert.Len(t, saved, 5)
}

func TestService_SaveSnapshotWritesNow(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	ctx := context.Background()
	c := cache.NewSortedCache(models.Quote{ID: 2, Quote: "Two", Author: "B"})
	svc := newTestService(new(MockGateway), &stubLimiter{}, WithCache(c), WithStore(store, time.Hour))
	t.Cleanup(func() { svc.Close() })

	require.NoError(t, svc.SaveSnapshot(ctx))

	var saved []models.Quote
	require.NoError(t, storage.GetJSON(ctx, store, CacheKey, &saved))
	require.Len(t, saved, 1)
	assert.Equal(t, 2, saved[0].ID)
}
