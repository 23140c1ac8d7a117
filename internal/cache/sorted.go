// Package cache holds the ordered, append-only quote cache used by the quotes
// service. Quotes are kept in strictly increasing ID order so membership tests
// and insert positions are found by binary search.
package cache

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"quotegate/internal/models"
)

// ErrInvalidQuote is returned when a record without a positive ID is offered
// to the cache.
var ErrInvalidQuote = errors.New("invalid quote")

// SortedCache is an ID-ordered set of quotes. Entries are only ever added:
// an insert for an ID that is already present leaves the existing record in
// place. It is safe for concurrent use.
type SortedCache struct {
	mu     sync.RWMutex
	quotes []models.Quote
}

// NewSortedCache builds a cache from seed records given in any order.
// Malformed seed records are skipped.
func NewSortedCache(seed ...models.Quote) *SortedCache {
	c := &SortedCache{quotes: make([]models.Quote, 0, len(seed))}
	for _, q := range seed {
		if q.Validate() != nil {
			continue
		}
		c.loadOrInsertLocked(q)
	}
	return c
}

// FindInsertPosition returns the leftmost index i such that every cached ID
// before i is smaller than id and every ID from i on is greater or equal.
// It is defined for any id, returning 0 or Len() outside the cached range.
func (c *SortedCache) FindInsertPosition(id int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findInsertPosition(c.quotes, id)
}

// Lookup returns the cached quote with the given ID.
func (c *SortedCache) Lookup(id int) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := findInsertPosition(c.quotes, id)
	if i < len(c.quotes) && c.quotes[i].ID == id {
		return c.quotes[i], true
	}
	return models.Quote{}, false
}

// Insert adds q unless a quote with the same ID is already cached.
// It reports whether the cache changed.
func (c *SortedCache) Insert(q models.Quote) (bool, error) {
	_, inserted, err := c.LoadOrInsert(q)
	return inserted, err
}

// LoadOrInsert returns the cached quote for q.ID if there is one; otherwise it
// stores q and returns it. The boolean reports whether q was stored.
func (c *SortedCache) LoadOrInsert(q models.Quote) (models.Quote, bool, error) {
	if err := q.Validate(); err != nil {
		return models.Quote{}, false, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	actual, inserted := c.loadOrInsertLocked(q)
	return actual, inserted, nil
}

// BulkMerge inserts every record of qs that is not already cached and returns
// how many were added. The resulting content does not depend on the order of
// qs. A malformed record stops the merge: records before it stay merged and
// nothing after it is applied.
func (c *SortedCache) BulkMerge(qs []models.Quote) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for i, q := range qs {
		if err := q.Validate(); err != nil {
			return added, fmt.Errorf("%w at index %d: %v", ErrInvalidQuote, i, err)
		}
		if _, inserted := c.loadOrInsertLocked(q); inserted {
			added++
		}
	}
	return added, nil
}

// Snapshot returns a copy of the cached quotes in ID order.
func (c *SortedCache) Snapshot() []models.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.quotes)
}

// Len returns the number of cached quotes.
func (c *SortedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

func (c *SortedCache) loadOrInsertLocked(q models.Quote) (models.Quote, bool) {
	i := findInsertPosition(c.quotes, q.ID)
	if i < len(c.quotes) && c.quotes[i].ID == q.ID {
		return c.quotes[i], false
	}
	c.quotes = slices.Insert(c.quotes, i, q)
	return q, true
}

// findInsertPosition is a lower-bound binary search over an ID-sorted slice.
func findInsertPosition(quotes []models.Quote, id int) int {
	lo, hi := 0, len(quotes)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if quotes[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
