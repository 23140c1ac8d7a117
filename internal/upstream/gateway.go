// Package upstream talks to the remote quotation API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quotegate/internal/models"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20

	OpFetchByID   = "fetch_by_id"
	OpFetchRandom = "fetch_random"
	OpFetchPage   = "fetch_page"
)

// Gateway fetches quotes from the quotation API. The core only distinguishes
// success, confirmed absence (ErrNotFound) and failure (ErrUpstream).
type Gateway interface {
	FetchByID(ctx context.Context, id int) (models.Quote, error)
	FetchRandom(ctx context.Context) (models.Quote, error)
	FetchPage(ctx context.Context, skip, limit int) (models.QuotePage, error)
}

// Config configures an HTTPGateway.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPGateway implements Gateway over the dummyjson-style REST API:
// /quotes/{id}, /quotes/random and /quotes?skip=&limit=.
type HTTPGateway struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway validates the base URL and builds a gateway. A nil client
// gets a default one with the configured timeout.
func NewHTTPGateway(cfg Config, client *http.Client) (*HTTPGateway, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https, got %q", cfg.BaseURL)
	}

	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPGateway{
		baseURL:   base,
		client:    client,
		userAgent: cfg.UserAgent,
	}, nil
}

// FetchByID retrieves one quote. A 404 is reported as ErrNotFound.
func (g *HTTPGateway) FetchByID(ctx context.Context, id int) (models.Quote, error) {
	var q models.Quote
	if err := g.getJSON(ctx, OpFetchByID, "/quotes/"+strconv.Itoa(id), nil, &q); err != nil {
		return models.Quote{}, err
	}
	if err := q.Validate(); err != nil {
		return models.Quote{}, &Error{Op: OpFetchByID, StatusCode: http.StatusOK, Err: err}
	}
	if q.ID != id {
		return models.Quote{}, &Error{
			Op:         OpFetchByID,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("asked for quote %d, got %d", id, q.ID),
		}
	}
	return q, nil
}

// FetchRandom retrieves a random quote.
func (g *HTTPGateway) FetchRandom(ctx context.Context) (models.Quote, error) {
	var q models.Quote
	if err := g.getJSON(ctx, OpFetchRandom, "/quotes/random", nil, &q); err != nil {
		return models.Quote{}, notFoundAsFailure(OpFetchRandom, err)
	}
	if err := q.Validate(); err != nil {
		return models.Quote{}, &Error{Op: OpFetchRandom, StatusCode: http.StatusOK, Err: err}
	}
	return q, nil
}

// pageBody mirrors the listing document; Quotes is a pointer so a missing
// array can be told apart from an empty one.
type pageBody struct {
	Quotes *[]models.Quote `json:"quotes"`
	Total  int             `json:"total"`
	Skip   int             `json:"skip"`
	Limit  int             `json:"limit"`
}

// FetchPage retrieves one listing page. The records are returned as sent;
// callers validate them before caching.
func (g *HTTPGateway) FetchPage(ctx context.Context, skip, limit int) (models.QuotePage, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(skip))
	query.Set("limit", strconv.Itoa(limit))

	var body pageBody
	if err := g.getJSON(ctx, OpFetchPage, "/quotes", query, &body); err != nil {
		return models.QuotePage{}, notFoundAsFailure(OpFetchPage, err)
	}
	if body.Quotes == nil {
		return models.QuotePage{}, &Error{Op: OpFetchPage, StatusCode: http.StatusOK, Err: errors.New("response has no quotes array")}
	}

	return models.QuotePage{
		Quotes: *body.Quotes,
		Total:  body.Total,
		Skip:   skip,
		Limit:  limit,
	}, nil
}

func (g *HTTPGateway) getJSON(ctx context.Context, op, path string, query url.Values, dst any) error {
	endpoint := *g.baseURL
	endpoint.Path = g.baseURL.Path + path
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseSize+1)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, body)
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, body)
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if len(data) > maxResponseSize {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", maxResponseSize)}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode body: %w", err)}
	}
	return nil
}

// notFoundAsFailure turns a 404 on an endpoint that should always exist into
// an ordinary upstream failure.
func notFoundAsFailure(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &Error{Op: op, StatusCode: http.StatusNotFound, Err: errors.New(http.StatusText(http.StatusNotFound))}
	}
	return err
}
