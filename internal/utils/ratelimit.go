package utils

import (
	"context" // Context for Redis operations
	"fmt"     // Key formatting
	"math"    // Rounding retry-after
	"strings" // Key normalization
	"time"    // Window durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Fixed window counter: the first hit in a window sets its expiry
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter counts attempts per scope and subject in Redis
type RateLimiter struct {
	client redis.Scripter // Redis client, nil disables limiting
	prefix string         // Key namespace
}

// NewRateLimiter creates a RateLimiter. An empty prefix defaults to "banking:rate_limit".
func NewRateLimiter(client redis.Scripter, prefix string) *RateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "banking:rate_limit"
	}
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow consumes one attempt. It reports whether the attempt is within limit and, when it is not,
// how many seconds remain in the window.
func (r *RateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return true, 0, nil // Limiting disabled
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return true, 0, nil // Nothing to key on
	}

	windowMs := max(window.Milliseconds(), 1000)
	raw, err := rateLimitScript.Run(ctx, r.client, []string{r.key(scope, subject)}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limiter response: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected rate limiter count: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}

	if count <= int64(limit) {
		return true, 0, nil
	}
	return false, max(int(math.Ceil(float64(ttlMs)/1000)), 1), nil
}

func (r *RateLimiter) key(scope, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, strings.ToLower(subject))
}
