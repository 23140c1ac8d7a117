package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quotegate/internal/models"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// warnUnknownKeys logs keys the config structure does not recognise.
// Unknown keys are ignored by the lenient decode, which usually hides a typo.
func warnUnknownKeys(data []byte) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var scratch models.Config
	if err := dec.Decode(&scratch); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			for _, msg := range typeErr.Errors {
				if strings.Contains(msg, "not found in type") {
					slog.Warn("Ignoring unknown config key", "detail", msg)
				}
			}
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Malformed numeric or duration values are logged and skipped.
func loadFromEnvironment(config *models.Config) {
	// Upstream API, under the names operators already use for it
	setString("QUOTES_API_BASE_URL", &config.Upstream.BaseURL)
	setInt("QUOTES_API_RATE_LIMIT", &config.Upstream.RateLimit)
	setInt("QUOTES_API_TIME_WINDOW", &config.Upstream.TimeWindow)
	setDuration("QUOTES_API_TIMEOUT", &config.Upstream.Timeout)
	setString("QUOTEGATE_USER_AGENT", &config.Upstream.UserAgent)
	setString("QUOTEGATE_LIMITER_BACKEND", &config.Upstream.LimiterBackend)

	// Server configuration
	setInt("QUOTEGATE_PORT", &config.Server.Port)
	setString("QUOTEGATE_HOST", &config.Server.Host)
	setDuration("QUOTEGATE_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("QUOTEGATE_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration("QUOTEGATE_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	setBool("QUOTEGATE_TLS_ENABLED", &config.Server.TLSEnabled)
	setString("QUOTEGATE_TLS_CERT_FILE", &config.Server.TLSCertFile)
	setString("QUOTEGATE_TLS_KEY_FILE", &config.Server.TLSKeyFile)
	setBool("QUOTEGATE_CORS_ENABLED", &config.Server.CORS.Enabled)
	if origins := os.Getenv("QUOTEGATE_CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.CORS.AllowedOrigins = splitAndTrim(origins)
	}

	// Storage configuration
	setString("QUOTEGATE_STORAGE_TYPE", &config.Storage.Type)
	setString("QUOTEGATE_STORAGE_PATH", &config.Storage.Path)
	setDuration("QUOTEGATE_CACHE_TTL", &config.Storage.CacheTTL)
	setString("QUOTEGATE_DATABASE_DSN", &config.Storage.Database.DSN)
	setInt("QUOTEGATE_DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	setInt("QUOTEGATE_DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	setString("QUOTEGATE_REDIS_ADDR", &config.Storage.Redis.Addr)
	setString("QUOTEGATE_REDIS_PASSWORD", &config.Storage.Redis.Password)
	setInt("QUOTEGATE_REDIS_DB", &config.Storage.Redis.DB)
	setInt("QUOTEGATE_REDIS_POOL_SIZE", &config.Storage.Redis.PoolSize)
	setString("QUOTEGATE_REDIS_KEY_PREFIX", &config.Storage.Redis.KeyPrefix)

	// Inbound client rate limiting
	setBool("QUOTEGATE_CLIENT_RATE_LIMIT_ENABLED", &config.Security.ClientRateLimit.Enabled)
	setInt("QUOTEGATE_CLIENT_RATE_LIMIT_RPM", &config.Security.ClientRateLimit.RequestsPerMinute)
	setInt("QUOTEGATE_CLIENT_RATE_LIMIT_BURST", &config.Security.ClientRateLimit.BurstSize)
	if proxies := os.Getenv("QUOTEGATE_TRUSTED_PROXIES"); proxies != "" {
		config.Security.ClientRateLimit.TrustedProxies = splitAndTrim(proxies)
	}

	// Logging configuration
	setString("QUOTEGATE_LOG_LEVEL", &config.Logging.Level)
	setString("QUOTEGATE_LOG_FORMAT", &config.Logging.Format)
	setString("QUOTEGATE_LOG_OUTPUT", &config.Logging.Output)
	setString("QUOTEGATE_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	setBool("QUOTEGATE_METRICS_ENABLED", &config.Metrics.Enabled)
	setString("QUOTEGATE_METRICS_PATH", &config.Metrics.Path)
	setInt("QUOTEGATE_METRICS_PORT", &config.Metrics.Port)
	setString("QUOTEGATE_SERVICE_NAME", &config.Observability.ServiceName)
	setBool("QUOTEGATE_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	setString("QUOTEGATE_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	setString("QUOTEGATE_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	if rate := os.Getenv("QUOTEGATE_TRACING_SAMPLE_RATE"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil {
			config.Observability.Tracing.SampleRate = f
		} else {
			slog.Warn("Ignoring malformed environment value", "name", "QUOTEGATE_TRACING_SAMPLE_RATE", "value", rate)
		}
	}
}

func setString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment value", "name", name, "value", v)
		return
	}
	*dst = n
}

func setBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// setDuration accepts Go durations ("1m30s") and bare integers as seconds.
func setDuration(name string, dst *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	slog.Warn("Ignoring malformed environment value", "name", name, "value", v)
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

const exampleHeader = `# quotegate configuration
#
# Every key may also be set through the environment. The upstream settings use
# QUOTES_API_BASE_URL, QUOTES_API_RATE_LIMIT, QUOTES_API_TIME_WINDOW (seconds)
# and QUOTES_API_TIMEOUT; everything else uses QUOTEGATE_<SECTION>_<KEY>.
#
# upstream.limiter_backend: memory (per process) or redis (shared budget)
# storage.type: memory, json, sqlite, postgres or redis
`

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/quotegate.db"
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, append([]byte(exampleHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
