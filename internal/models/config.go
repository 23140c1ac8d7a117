// Package models - Service configuration and operational settings.
// This file defines configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, upstream, storage, etc.)
// - Defaults that work out of the box against the public quotation API
// - Validation to catch misconfigurations before the server starts
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeRedis    = "redis"
)

// Limiter backend constants
const (
	LimiterBackendMemory = "memory"
	LimiterBackendRedis  = "redis"
)

// Default upstream settings, mirroring the quotes package defaults.
const (
	DefaultUpstreamBaseURL    = "https://dummyjson.com"
	DefaultUpstreamRateLimit  = 60
	DefaultUpstreamTimeWindow = 60
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Upstream: quotation API location and outbound request budget
// - Storage: persistent snapshot store for cache and limiter state
// - Security: inbound client rate limiting
// - Logging: structured logging and output configuration
// - Metrics: Prometheus metrics endpoint
// - Observability: tracing
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`           // Quotation API and request budget
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Snapshot persistence settings
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Inbound protection
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// UpstreamConfig describes the quotation API and the outbound budget.
// RateLimit requests are admitted per TimeWindow seconds.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	RateLimit      int           `yaml:"rate_limit" json:"rate_limit"`
	TimeWindow     int           `yaml:"time_window" json:"time_window"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	LimiterBackend string        `yaml:"limiter_backend" json:"limiter_backend"`
}

// Window returns TimeWindow as a duration.
func (uc UpstreamConfig) Window() time.Duration {
	return time.Duration(uc.TimeWindow) * time.Second
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	CacheTTL time.Duration  `yaml:"cache_ttl" json:"cache_ttl"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type SecurityConfig struct {
	ClientRateLimit ClientRateLimitConfig `yaml:"client_rate_limit" json:"client_rate_limit"`
}

// ClientRateLimitConfig throttles callers of the HTTP surface. It is unrelated
// to the upstream budget.
type ClientRateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	// TrustedProxies lists the CIDR ranges or addresses allowed to name the
	// client through X-Forwarded-For and X-Real-IP. Empty trusts nobody.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - 60 requests per 60 seconds: the documented budget of the public quotation API
// - Memory storage: no external dependencies; state is rebuilt from upstream after restart
// - One hour cache snapshot TTL: persisted cache content is refreshed at least hourly
// - Client rate limiting on: the HTTP surface should not be the weakest link
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"*"},
				MaxAge:         86400,
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:        DefaultUpstreamBaseURL,
			RateLimit:      DefaultUpstreamRateLimit,
			TimeWindow:     DefaultUpstreamTimeWindow,
			Timeout:        10 * time.Second,
			UserAgent:      "quotegate",
			LimiterBackend: LimiterBackendMemory,
		},
		Storage: StorageConfig{
			Type:     StorageTypeMemory,
			Path:     "./data/quotes.json",
			CacheTTL: time.Hour,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "quotegate",
			},
		},
		Security: SecurityConfig{
			ClientRateLimit: ClientRateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				BurstSize:         20,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "quotegate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if c.Upstream.LimiterBackend == LimiterBackendRedis && c.Storage.Redis.Addr == "" {
		return errors.New("invalid upstream config: redis limiter backend requires storage.redis.addr")
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.BaseURL == "" {
		return errors.New("base url cannot be empty")
	}
	u, err := url.Parse(uc.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must use http or https, got %q", u.Scheme)
	}

	if uc.RateLimit <= 0 {
		return errors.New("rate limit must be positive")
	}

	if uc.TimeWindow <= 0 {
		return errors.New("time window must be positive")
	}

	if uc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	if !slices.Contains([]string{LimiterBackendMemory, LimiterBackendRedis}, uc.LimiterBackend) {
		return fmt.Errorf("invalid limiter backend: %s", uc.LimiterBackend)
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite, StorageTypeRedis}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.CacheTTL <= 0 {
		return errors.New("cache TTL must be positive")
	}

	switch stc.Type {
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("Redis address is required when storage type is redis")
		}
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	rl := sec.ClientRateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.RequestsPerMinute <= 0 {
		return errors.New("client requests per minute must be positive")
	}
	if rl.BurstSize <= 0 {
		return errors.New("client burst size must be positive")
	}
	if rl.CleanupInterval <= 0 {
		return errors.New("client cleanup interval must be positive")
	}
	for _, proxy := range rl.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
