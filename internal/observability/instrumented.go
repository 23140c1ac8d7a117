package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"quotegate/internal/models"
	"quotegate/internal/quotes"
	"quotegate/internal/ratelimit"
	"quotegate/internal/storage"
	"quotegate/internal/upstream"
)

const instrumentationName = "quotegate"

// operationMetrics is the span, latency and error trio shared by the
// decorators below.
type operationMetrics struct {
	prefix   string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func newOperationMetrics(prefix, what string) (*operationMetrics, error) {
	meter := otel.Meter(instrumentationName + "/" + prefix)

	duration, err := meter.Float64Histogram(
		prefix+".operation.duration",
		metric.WithDescription("Duration of "+what+" operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		prefix+".operation.errors",
		metric.WithDescription("Number of failed "+what+" operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &operationMetrics{
		prefix:   prefix,
		tracer:   otel.Tracer(instrumentationName + "/" + prefix),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (m *operationMetrics) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := m.tracer.Start(ctx, m.prefix+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String(m.prefix+".operation", operation),
		}, attrs...)...),
	)
	return ctx, span, time.Now()
}

// end records the outcome. Errors for which expected returns true are
// normal results and count as successes.
func (m *operationMetrics) end(ctx context.Context, span trace.Span, operation string, start time.Time, err error, expected func(error) bool) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil && (expected == nil || !expected(err)) {
		m.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InstrumentedStore wraps a storage.Store with tracing and metrics.
// Missing keys are not errors.
type InstrumentedStore struct {
	inner storage.Store
	m     *operationMetrics
}

var _ storage.Store = (*InstrumentedStore)(nil)

func NewInstrumentedStore(inner storage.Store) (*InstrumentedStore, error) {
	m, err := newOperationMetrics("storage", "storage")
	if err != nil {
		return nil, err
	}
	return &InstrumentedStore{inner: inner, m: m}, nil
}

func isStoreMiss(err error) bool { return errors.Is(err, storage.ErrNotFound) }

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span, start := s.m.start(ctx, "Get", attribute.String("key", key))
	value, err := s.inner.Get(ctx, key)
	s.m.end(ctx, span, "Get", start, err, isStoreMiss)
	return value, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span, start := s.m.start(ctx, "Set",
		attribute.String("key", key),
		attribute.Int("bytes", len(value)),
	)
	err := s.inner.Set(ctx, key, value, ttl)
	s.m.end(ctx, span, "Set", start, err, nil)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, span, start := s.m.start(ctx, "Delete", attribute.String("key", key))
	err := s.inner.Delete(ctx, key)
	s.m.end(ctx, span, "Delete", start, err, nil)
	return err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span, start := s.m.start(ctx, "Ping")
	err := s.inner.Ping(ctx)
	s.m.end(ctx, span, "Ping", start, err, nil)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// InstrumentedGateway wraps an upstream.Gateway. A confirmed absence is a
// normal answer and is not counted as an error.
type InstrumentedGateway struct {
	inner upstream.Gateway
	m     *operationMetrics
}

var _ upstream.Gateway = (*InstrumentedGateway)(nil)

func NewInstrumentedGateway(inner upstream.Gateway) (*InstrumentedGateway, error) {
	m, err := newOperationMetrics("upstream", "upstream API")
	if err != nil {
		return nil, err
	}
	return &InstrumentedGateway{inner: inner, m: m}, nil
}

func isUpstreamMiss(err error) bool { return errors.Is(err, upstream.ErrNotFound) }

func (g *InstrumentedGateway) FetchByID(ctx context.Context, id int) (models.Quote, error) {
	ctx, span, start := g.m.start(ctx, upstream.OpFetchByID, attribute.Int("quote.id", id))
	q, err := g.inner.FetchByID(ctx, id)
	g.m.end(ctx, span, upstream.OpFetchByID, start, err, isUpstreamMiss)
	return q, err
}

func (g *InstrumentedGateway) FetchRandom(ctx context.Context) (models.Quote, error) {
	ctx, span, start := g.m.start(ctx, upstream.OpFetchRandom)
	q, err := g.inner.FetchRandom(ctx)
	g.m.end(ctx, span, upstream.OpFetchRandom, start, err, nil)
	return q, err
}

func (g *InstrumentedGateway) FetchPage(ctx context.Context, skip, limit int) (models.QuotePage, error) {
	ctx, span, start := g.m.start(ctx, upstream.OpFetchPage,
		attribute.Int("page.skip", skip),
		attribute.Int("page.limit", limit),
	)
	page, err := g.inner.FetchPage(ctx, skip, limit)
	g.m.end(ctx, span, upstream.OpFetchPage, start, err, nil)
	return page, err
}

// InstrumentedLimiter counts admission decisions of a ratelimit.Limiter.
type InstrumentedLimiter struct {
	inner     ratelimit.Limiter
	decisions metric.Int64Counter
}

var _ ratelimit.Limiter = (*InstrumentedLimiter)(nil)

func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	meter := otel.Meter(instrumentationName + "/ratelimit")
	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Upstream budget decisions by result (admitted, rejected, error)"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	return &InstrumentedLimiter{inner: inner, decisions: decisions}, nil
}

func (l *InstrumentedLimiter) TryAdmit(ctx context.Context) (bool, ratelimit.Info, error) {
	admitted, info, err := l.inner.TryAdmit(ctx)

	result := "admitted"
	switch {
	case err != nil:
		result = "error"
	case !admitted:
		result = "rejected"
	}
	l.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("ratelimit.decision", trace.WithAttributes(
			attribute.String("result", result),
			attribute.Int("remaining", info.Remaining),
		))
	}
	return admitted, info, err
}

// RegisterServiceGauges exports the service counters as observable gauges
// read on each collection.
func RegisterServiceGauges(stats func() quotes.Stats) error {
	meter := otel.Meter(instrumentationName + "/quotes")

	cached, err := meter.Int64ObservableGauge("quotes.cache.size",
		metric.WithDescription("Number of quotes held in the cache"),
		metric.WithUnit("{quote}"))
	if err != nil {
		return err
	}
	hits, err := meter.Int64ObservableCounter("quotes.cache.hits",
		metric.WithDescription("Lookups answered from the cache"))
	if err != nil {
		return err
	}
	degraded, err := meter.Int64ObservableCounter("quotes.listings.degraded",
		metric.WithDescription("Listings answered with an empty page after a failure"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(cached, int64(s.CachedQuotes))
		o.ObserveInt64(hits, s.CacheHits)
		o.ObserveInt64(degraded, s.Degraded)
		return nil
	}, cached, hits, degraded)
	return err
}
