package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-redis/redis/v8"

	"quotegate/internal/models"
	"quotegate/internal/observability"
	"quotegate/internal/quotes"
	"quotegate/internal/ratelimit"
	"quotegate/internal/storage"
	"quotegate/internal/upstream"
	"quotegate/internal/version"
)

// components is everything main needs to serve and to shut down.
type components struct {
	store   storage.Store
	service *quotes.Service
	budget  ratelimit.Reporter
	closers []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}
}

// buildStore opens the configured snapshot store. A store that cannot be
// opened is replaced by an in-memory one: persistence is an optimisation.
func buildStore(cfg *models.Config, log *slog.Logger) storage.Store {
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		log.Warn("Snapshot store unavailable, continuing in memory",
			"storage_type", cfg.Storage.Type, "error", err)
		store, _ = storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	}
	return store
}

// redisClient reuses the store's client when the store is Redis.
func redisClient(cfg *models.Config, store storage.Store) (*redis.Client, bool) {
	if rs, ok := store.(*storage.RedisStorage); ok {
		return rs.Client(), false
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
		PoolSize: cfg.Storage.Redis.PoolSize,
	}), true
}

// buildLimiter creates the upstream budget. The memory backend persists its
// window to store and resumes it on startup; the redis backend keeps the
// counter in Redis only. The returned closer may be nil.
func buildLimiter(ctx context.Context, cfg *models.Config, rawStore, store storage.Store, log *slog.Logger) (ratelimit.Limiter, ratelimit.Reporter, func() error) {
	up := cfg.Upstream

	if up.LimiterBackend == models.LimiterBackendRedis {
		client, owned := redisClient(cfg, rawStore)
		key := storage.NewRedisStorageFromClient(client, cfg.Storage.Redis.KeyPrefix).Key(ratelimit.StateKey)
		limiter := ratelimit.NewRedisFixedWindow(client, key, up.RateLimit, up.Window(), nil)
		log.Info("Using shared upstream budget", "backend", "redis", "key", key)
		if owned {
			return limiter, limiter, client.Close
		}
		return limiter, limiter, nil
	}

	window := ratelimit.NewFixedWindow(up.RateLimit, up.Window(), nil)
	restored, err := ratelimit.RestoreFrom(ctx, window, store)
	switch {
	case err != nil:
		log.Warn("Rate limit window not restored, starting fresh", "error", err)
	case restored:
		log.Info("Rate limit window restored", "count", window.State().Count)
	}
	persisted := ratelimit.NewPersisted(window, store, log)
	return persisted, persisted, persisted.Close
}

// assemble builds the quote service and its collaborators from cfg.
func assemble(ctx context.Context, cfg *models.Config, log *slog.Logger, httpClient *http.Client) (*components, error) {
	c := &components{}

	rawStore := buildStore(cfg, log)
	c.closers = append(c.closers, rawStore.Close)

	var store storage.Store = rawStore
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(rawStore)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to instrument store: %w", err)
		}
		store = instrumented
	}

	httpGateway, err := upstream.NewHTTPGateway(upstream.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: version.UserAgent(cfg.Upstream.UserAgent),
	}, httpClient)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create upstream gateway: %w", err)
	}
	var gateway upstream.Gateway = httpGateway

	limiter, budget, closeLimiter := buildLimiter(ctx, cfg, rawStore, store, log)
	if closeLimiter != nil {
		c.closers = append(c.closers, closeLimiter)
	}

	if cfg.Metrics.Enabled {
		if gateway, err = observability.NewInstrumentedGateway(httpGateway); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to instrument gateway: %w", err)
		}
		if limiter, err = observability.NewInstrumentedLimiter(limiter); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to instrument limiter: %w", err)
		}
	}

	service := quotes.NewService(gateway, limiter,
		quotes.WithLogger(log),
		quotes.WithStore(store, cfg.Storage.CacheTTL),
	)
	c.closers = append(c.closers, service.Close)

	loaded, err := service.LoadSnapshot(ctx)
	if err != nil {
		log.Warn("Cache snapshot not loaded, starting empty", "error", err)
	} else if loaded > 0 {
		log.Info("Cache snapshot loaded", "quotes", loaded)
	}

	if cfg.Metrics.Enabled {
		if err := observability.RegisterServiceGauges(service.Stats); err != nil {
			log.Warn("Service gauges not registered", "error", err)
		}
	}

	c.store = store
	c.service = service
	c.budget = budget
	return c, nil
}
