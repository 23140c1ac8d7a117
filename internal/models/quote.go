// Package models - Quote records and listing shapes.
// This file defines the quote entity shared by the cache, the upstream gateway,
// the persistence layer and the HTTP surface.
//
// Identity Rules:
// - A quote is identified by its upstream-assigned integer ID
// - Equality and ordering consider the ID only
// - Records are immutable once fetched; the cache never rewrites them
package models

import "fmt"

// Default and maximum listing sizes. DefaultPageLimit matches the page size
// the upstream quotation API uses when no limit is given.
const (
	DefaultPageLimit = 30
	MaxPageLimit     = 100
)

// Quote is a single quotation as returned by the upstream API.
type Quote struct {
	ID     int    `json:"id" yaml:"id"`
	Quote  string `json:"quote" yaml:"quote"`
	Author string `json:"author" yaml:"author"`
}

// Validate reports whether the quote carries a usable identifier.
// Text fields are not checked: upstream owns their content.
func (q Quote) Validate() error {
	if q.ID <= 0 {
		return fmt.Errorf("quote id must be positive, got %d", q.ID)
	}
	return nil
}

// QuotePage is the paginated listing returned to callers.
type QuotePage struct {
	Quotes []Quote `json:"quotes"`
	Total  int     `json:"total"`
	Skip   int     `json:"skip"`
	Limit  int     `json:"limit"`
}

// EmptyQuotePage builds the degraded listing result: no quotes, zero total,
// echoing the requested window.
func EmptyQuotePage(skip, limit int) *QuotePage {
	return &QuotePage{
		Quotes: []Quote{},
		Total:  0,
		Skip:   skip,
		Limit:  limit,
	}
}

// ListQuotesRequest carries the pagination window of a listing query.
type ListQuotesRequest struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// Validate checks the pagination window.
func (r *ListQuotesRequest) Validate() error {
	if r.Skip < 0 {
		return fmt.Errorf("skip cannot be negative, got %d", r.Skip)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", r.Limit)
	}
	if r.Limit > MaxPageLimit {
		return fmt.Errorf("limit cannot exceed %d, got %d", MaxPageLimit, r.Limit)
	}
	return nil
}
