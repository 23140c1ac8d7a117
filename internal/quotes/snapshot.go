package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quotegate/internal/models"
	"quotegate/internal/storage"
)

// CacheKey is the store key holding the cache snapshot.
const CacheKey = "quotes:cache"

// LoadSnapshot merges the stored cache snapshot into the cache and returns
// how many quotes were added. A missing snapshot adds nothing and is not an
// error; malformed records in it are skipped.
func (s *Service) LoadSnapshot(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	var snapshot []models.Quote
	err := storage.GetJSON(ctx, s.store, CacheKey, &snapshot)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cache snapshot: %w", err)
	}

	valid := snapshot[:0]
	for _, q := range snapshot {
		if q.Validate() == nil {
			valid = append(valid, q)
		}
	}
	if skipped := len(snapshot) - len(valid); skipped > 0 {
		s.logger.Warn("Skipped malformed quotes in cache snapshot", "count", skipped)
	}

	return s.cache.BulkMerge(valid)
}

// SaveSnapshot writes the whole cache to the store with the cache TTL.
func (s *Service) SaveSnapshot(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("failed to save cache snapshot: %w", err)
	}
	return nil
}

// persist schedules a background snapshot after a change.
func (s *Service) persist() {
	if s.writer != nil {
		s.writer.Notify()
	}
}

func (s *Service) snapshot() (any, time.Duration, bool) {
	return s.cache.Snapshot(), s.cacheTTL, true
}
