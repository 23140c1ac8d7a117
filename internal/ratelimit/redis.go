package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript checks and increments the shared counter atomically.
// Rejections leave the counter untouched; the key's PTTL is the time left in
// the window. Returns {admitted, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= limit then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], window)
		ttl = window
	end
	return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {1, count, ttl}
`)

// RedisFixedWindow is a fixed-window limiter whose counter lives in Redis so
// every instance of the service draws from one upstream budget.
type RedisFixedWindow struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
	clock  Clock
}

var (
	_ Limiter  = (*RedisFixedWindow)(nil)
	_ Reporter = (*RedisFixedWindow)(nil)
)

// NewRedisFixedWindow creates a shared limiter stored under key.
// A nil clock means time.Now; it only affects Info.ResetAt.
func NewRedisFixedWindow(client *redis.Client, key string, limit int, window time.Duration, clock Clock) *RedisFixedWindow {
	if clock == nil {
		clock = time.Now
	}
	return &RedisFixedWindow{
		client: client,
		key:    key,
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// TryAdmit implements Limiter.
func (r *RedisFixedWindow) TryAdmit(ctx context.Context) (bool, Info, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{r.key}, r.limit, r.window.Milliseconds()).Result()
	if err != nil {
		return false, Info{}, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return false, Info{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	admitted, _ := values[0].(int64)
	count, _ := values[1].(int64)
	ttlMillis, _ := values[2].(int64)

	ttl := time.Duration(ttlMillis) * time.Millisecond
	info := Info{
		Limit:     r.limit,
		Remaining: max(r.limit-int(count), 0),
		ResetAt:   r.clock().Add(ttl),
	}
	if admitted != 1 {
		info.RetryAfter = ttl
		return false, info, nil
	}
	return true, info, nil
}

// Peek implements Reporter with plain reads; a missing key is a fresh window.
func (r *RedisFixedWindow) Peek(ctx context.Context) (Info, error) {
	count, err := r.client.Get(ctx, r.key).Int()
	if errors.Is(err, redis.Nil) {
		return Info{Limit: r.limit, Remaining: r.limit, ResetAt: r.clock().Add(r.window)}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	ttl, err := r.client.PTTL(ctx, r.key).Result()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read rate limit ttl: %w", err)
	}
	if ttl < 0 {
		ttl = r.window
	}
	return Info{
		Limit:     r.limit,
		Remaining: max(r.limit-count, 0),
		ResetAt:   r.clock().Add(ttl),
	}, nil
}
