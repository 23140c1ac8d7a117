package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"quotegate/internal/models"
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	proxies *TrustedProxies
}

// WithTrustedProxies lets the listed proxies name the client through
// forwarding headers. Without it every request is keyed by its peer address.
func WithTrustedProxies(proxies *TrustedProxies) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.proxies = proxies
	}
}

// Middleware returns HTTP middleware that throttles callers per client IP.
// Rate limit headers are set on every response; denied requests get 429 with
// Retry-After and a JSON error body.
func Middleware(limiter ClientLimiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.proxies.ClientIP(r)

			allowed, info := limiter.Allow(key)

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfterSecs := RetryAfterSeconds(info.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.RetryAfter = retryAfterSecs
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Client rate limit exceeded",
					"client", key,
					"limit", info.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one, as
// required by the Retry-After header.
func RetryAfterSeconds(seconds float64) int {
	secs := int(seconds)
	if float64(secs) < seconds {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// TrustedProxies is the set of peers whose X-Forwarded-For and X-Real-IP
// headers are believed. A nil *TrustedProxies trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies accepts CIDR ranges and bare addresses.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			t.prefixes = append(t.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		addr = addr.Unmap()
		t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return t, nil
}

// Trusts reports whether ip belongs to a trusted proxy.
func (t *TrustedProxies) Trusts(ip string) bool {
	if t == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range t.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address requests from r are counted against. The
// forwarding headers are read only when the peer is a trusted proxy, and
// X-Forwarded-For is walked from the right so a client cannot choose its
// own key by prepending entries.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	if !t.Trusts(peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			client = hop
			if !t.Trusts(hop) {
				break
			}
		}
		if client != "" {
			return client
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if _, err := netip.ParseAddr(xri); err == nil {
			return xri
		}
	}
	return peer
}

func peerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
