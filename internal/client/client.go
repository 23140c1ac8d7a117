// Package client is a Go client for the quotegate HTTP API.
//
// Requests rejected with 429 are retried with exponential backoff. A
// Retry-After header from the server raises the next delay to at least the
// advertised wait. Every other failure is returned at once.
package client

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

	"github.com/cenkalti/backoff/v4"

	"quotegate/internal/models"
)

const (
	DefaultRetries         = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxWait         = 2 * time.Minute
	DefaultTimeout         = 15 * time.Second

	maxBodySize = 1 << 20
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("quotegate: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("quotegate: %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one quotegate instance.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	userAgent       string
	retries         int
	initialInterval time.Duration
	maxWait         time.Duration
	notify          backoff.Notify
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetries sets how many times a rate limited request is retried.
// Zero disables retries.
func WithRetries(n int) Option {
	return func(cl *Client) { cl.retries = max(n, 0) }
}

func WithInitialInterval(d time.Duration) Option {
	return func(cl *Client) { cl.initialInterval = d }
}

// WithMaxWait caps a single wait between attempts, Retry-After included.
func WithMaxWait(d time.Duration) Option {
	return func(cl *Client) { cl.maxWait = d }
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithNotify registers a callback run before each retry.
func WithNotify(fn backoff.Notify) Option {
	return func(cl *Client) { cl.notify = fn }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:         u,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		retries:         DefaultRetries,
		initialInterval: DefaultInitialInterval,
		maxWait:         DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetQuote fetches one quote by id.
func (c *Client) GetQuote(ctx context.Context, id int) (models.Quote, error) {
	var q models.Quote
	err := c.get(ctx, "/api/quotes/"+strconv.Itoa(id), nil, &q)
	return q, err
}

// RandomQuote fetches a random quote.
func (c *Client) RandomQuote(ctx context.Context) (models.Quote, error) {
	var q models.Quote
	err := c.get(ctx, "/api/quotes/random", nil, &q)
	return q, err
}

// ListQuotes fetches one page. The server answers an upstream failure with
// an empty page rather than an error.
func (c *Client) ListQuotes(ctx context.Context, skip, limit int) (models.QuotePage, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(skip))
	query.Set("limit", strconv.Itoa(limit))

	var page models.QuotePage
	err := c.get(ctx, "/api/quotes", query, &page)
	return page, err
}

// Health fetches the health report.
func (c *Client) Health(ctx context.Context) (models.HealthCheckResponse, error) {
	var h models.HealthCheckResponse
	err := c.get(ctx, "/health", nil, &h)
	return h, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	b := &retryAfterBackOff{
		BackOff: c.newBackOff(),
		maxWait: c.maxWait,
	}

	op := func() error {
		err := c.do(ctx, path, query, dst)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			b.wait = apiErr.RetryAfter
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), c.notify)
}

func (c *Client) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	if c.maxWait > 0 {
		eb.MaxInterval = c.maxWait
	}
	eb.MaxElapsedTime = 0
	bf := backoff.WithMaxRetries(eb, uint64(c.retries))
	bf.Reset()
	return bf
}

func (c *Client) do(ctx context.Context, path string, query url.Values, dst any) error {
	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, data)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, data []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var body models.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
		if body.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(body.RetryAfter) * time.Second
		}
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// retryAfterBackOff stretches the next delay to the server's Retry-After.
// Both the advertised wait and the computed delay are capped at maxWait.
type retryAfterBackOff struct {
	backoff.BackOff
	wait    time.Duration
	maxWait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.wait > next {
		next = b.wait
	}
	b.wait = 0
	if b.maxWait > 0 && next > b.maxWait {
		next = b.maxWait
	}
	return next
}
