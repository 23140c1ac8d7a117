package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// JSONStorage implements the Store interface on a single JSON document.
// Every write rewrites the document through a temporary file and a rename,
// so a crash never leaves a half-written file behind.
type JSONStorage struct {
	filePath string
	mu       sync.RWMutex
	data     *JSONData
	now      func() time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Entries     map[string]JSONEntry `json:"entries"`
	LastUpdated time.Time            `json:"last_updated"`
}

// JSONEntry is one stored value. ExpiresAt is omitted for keys without a TTL.
type JSONEntry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath: config.Path,
		now:      time.Now,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{
			Entries:     map[string]JSONEntry{},
			LastUpdated: time.Now(),
		})
	}
	return nil
}

func (j *JSONStorage) loadData() error {
	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if len(fileData) > 0 {
		if err := json.Unmarshal(fileData, &data); err != nil {
			return fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
	}
	if data.Entries == nil {
		data.Entries = map[string]JSONEntry{}
	}

	j.data = &data
	return nil
}

// saveData writes data to a sibling temp file and renames it into place.
func (j *JSONStorage) saveData(data *JSONData) error {
	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func (j *JSONStorage) Get(ctx context.Context, key string) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.data.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.ExpiresAt != nil && expired(j.now(), *e.ExpiresAt) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.Value), nil
}

func (j *JSONStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	entry := JSONEntry{Value: slices.Clone(value)}
	if deadline := expiryFor(now, ttl); !deadline.IsZero() {
		entry.ExpiresAt = &deadline
	}

	next := j.cloneLocked(now)
	next.Entries[key] = entry
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

func (j *JSONStorage) Delete(ctx context.Context, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.data.Entries[key]; !ok {
		return nil
	}

	next := j.cloneLocked(j.now())
	delete(next.Entries, key)
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

// Ping checks that the backing file is still readable.
func (j *JSONStorage) Ping(ctx context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("storage file unavailable: %w", err)
	}
	return nil
}

func (j *JSONStorage) Close() error {
	return nil
}

// cloneLocked copies the live entries so a failed write leaves j.data intact.
// Expired entries are dropped on the way.
func (j *JSONStorage) cloneLocked(now time.Time) *JSONData {
	next := &JSONData{
		Entries:     make(map[string]JSONEntry, len(j.data.Entries)+1),
		LastUpdated: now,
	}
	for k, e := range j.data.Entries {
		if e.ExpiresAt != nil && expired(now, *e.ExpiresAt) {
			continue
		}
		next.Entries[k] = e
	}
	return next
}
