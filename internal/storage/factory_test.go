package storage

import (
	"path/filepath"
	"testing"

	"quotegate/internal/models"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		providers := factory.GetSupportedProviders()
		expected := []string{"json", "memory", "postgres", "sqlite", "redis"}

		if len(providers) != len(expected) {
			t.Errorf("Expected %d providers, got %d", len(expected), len(providers))
		}

		for i, provider := range expected {
			if i >= len(providers) || providers[i] != provider {
				t.Errorf("Expected provider %s at index %d, got %v", provider, i, providers)
			}
		}
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{
				name:      "valid json config",
				config:    models.StorageConfig{Type: "json", Path: "/tmp/test.json"},
				expectErr: false,
			},
			{
				name:      "valid memory config",
				config:    models.StorageConfig{Type: "memory"},
				expectErr: false,
			},
			{
				name:      "invalid storage type",
				config:    models.StorageConfig{Type: "invalid"},
				expectErr: true,
			},
			{
				name:      "json without path",
				config:    models.StorageConfig{Type: "json"},
				expectErr: true,
			},
			{
				name:      "sqlite without dsn",
				config:    models.StorageConfig{Type: "sqlite"},
				expectErr: true,
			},
			{
				name:      "redis without address",
				config:    models.StorageConfig{Type: "redis"},
				expectErr: true,
			},
			{
				name: "valid redis config",
				config: models.StorageConfig{
					Type:  "redis",
					Redis: models.RedisConfig{Addr: "localhost:6379"},
				},
				expectErr: false,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr && err == nil {
					t.Error("Expected error but got none")
				}
				if !tt.expectErr && err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			})
		}
	})

	t.Run("CreateMemoryStorage", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("Failed to create memory storage: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*MemoryStorage); !ok {
			t.Errorf("Expected *MemoryStorage, got %T", s)
		}
	})

	t.Run("CreateJSONStorage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		s, err := factory.Create(models.StorageConfig{Type: "json", Path: path})
		if err != nil {
			t.Fatalf("Failed to create JSON storage: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*JSONStorage); !ok {
			t.Errorf("Expected *JSONStorage, got %T", s)
		}
	})

	t.Run("CreateSQLiteStorage", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "state.db")
		s, err := factory.Create(models.StorageConfig{
			Type:     "sqlite",
			Database: models.DatabaseConfig{DSN: dsn},
		})
		if err != nil {
			t.Fatalf("Failed to create SQLite storage: %v", err)
		}
		defer s.Close()

		if _, ok := s.(*SQLiteStorage); !ok {
			t.Errorf("Expected *SQLiteStorage, got %T", s)
		}
	})

	t.Run("CreateUnsupportedStorage", func(t *testing.T) {
		_, err := factory.Create(models.StorageConfig{Type: "unsupported"})
		if err == nil {
			t.Error("Expected error for unsupported storage type")
		}
	})
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(models.StorageConfig{
		Type:     "redis",
		Database: models.DatabaseConfig{DSN: "postgres://x", MaxOpenConns: 7},
		Redis:    models.RedisConfig{Addr: "r:6379", DB: 2, KeyPrefix: "qg"},
	})

	if cfg.ConnectionString != "postgres://x" || cfg.MaxOpenConns != 7 {
		t.Errorf("Database settings not carried over: %+v", cfg)
	}
	if cfg.RedisAddr != "r:6379" || cfg.RedisDB != 2 || cfg.RedisKeyPrefix != "qg" {
		t.Errorf("Redis settings not carried over: %+v", cfg)
	}
}
