package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotegate/internal/api"
	"quotegate/internal/config"
	"quotegate/internal/logger"
	"quotegate/internal/observability"
	"quotegate/internal/ratelimit"
	"quotegate/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	writeConfig = flag.String("write-config", "", "Write an example configuration to this path and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *writeConfig != "" {
		if err := config.SaveExample(*writeConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *writeConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Build store, upstream gateway, budget and quote service
	c, err := assemble(context.Background(), cfg, logger.Component(log, "quotes"), nil)
	if err != nil {
		slog.Error("Failed to initialize quote service", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	handlers := api.NewHandlers(c.service, api.WithBudget(c.budget))

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.Security.ClientRateLimit.Enabled {
		rl := cfg.Security.ClientRateLimit
		proxies, err := ratelimit.ParseTrustedProxies(rl.TrustedProxies)
		if err != nil {
			slog.Error("Invalid trusted proxies", "error", err)
			os.Exit(1)
		}
		clientLimiter := ratelimit.NewTokenBucketLimiter(rl.RequestsPerMinute, rl.BurstSize, rl.CleanupInterval)
		defer clientLimiter.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(
			ratelimit.Middleware(clientLimiter, ratelimit.WithTrustedProxies(proxies)),
		))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"upstream", cfg.Upstream.BaseURL,
			"rate_limit", cfg.Upstream.RateLimit,
			"time_window", cfg.Upstream.Window(),
			"storage_type", cfg.Storage.Type,
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}
		serverErr <- err
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Final flush so a restart resumes with a warm cache
	if err := c.service.SaveSnapshot(ctx); err != nil {
		slog.Warn("Final cache snapshot failed", "error", err)
	}

	slog.Info("Server shutdown complete")
}
