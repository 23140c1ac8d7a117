package storage

import (
	"fmt"

	"quotegate/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
// This allows for easy extensibility and provider swapping without code changes.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: single JSON document on disk
//   - memory: in-process map (default, nothing survives a restart)
//   - postgres: PostgreSQL table through a pgx pool
//   - sqlite: SQLite table (pure Go driver)
//   - redis: Redis strings with native expiry
func (f *Factory) Create(config models.StorageConfig) (Store, error) {
	storageConfig := ConfigFromModel(config)

	switch config.Type {
	case models.StorageTypeJSON:
		return NewJSONStorage(storageConfig)
	case models.StorageTypeMemory:
		return NewMemoryStorage(storageConfig)
	case models.StorageTypePostgres:
		return NewPostgresStorage(storageConfig)
	case models.StorageTypeSQLite:
		return NewSQLiteStorage(storageConfig)
	case models.StorageTypeRedis:
		return NewRedisStorage(storageConfig)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StorageTypeJSON,
		models.StorageTypeMemory,
		models.StorageTypePostgres,
		models.StorageTypeSQLite,
		models.StorageTypeRedis,
	}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeJSON:
		if config.Path == "" {
			return fmt.Errorf("path is required for JSON storage")
		}
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}

// ConfigFromModel flattens the service storage settings into backend options.
func ConfigFromModel(config models.StorageConfig) Config {
	return Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		RedisAddr:        config.Redis.Addr,
		RedisPassword:    config.Redis.Password,
		RedisDB:          config.Redis.DB,
		RedisPoolSize:    config.Redis.PoolSize,
		RedisKeyPrefix:   config.Redis.KeyPrefix,
	}
}
