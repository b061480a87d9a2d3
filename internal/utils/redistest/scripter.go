// Package redistest provides an in-memory stand-in for the Redis rate limit script.
package redistest

import (
	"context" // Scripter signature
	"sync"    // Concurrent requests
	"time"    // Window expiry

	"github.com/redis/go-redis/v9" // Redis client types
)

// Counter answers the fixed window counter script with {count, ttl_ms} the way Redis does
type Counter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

type window struct {
	count   int64
	expires time.Time
}

var _ redis.Scripter = (*Counter)(nil)

// NewCounter creates an empty Counter on the wall clock
func NewCounter() *Counter {
	return &Counter{windows: make(map[string]window), now: time.Now}
}

// SetClock replaces the clock used for window expiry
func (c *Counter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Counter) incr(keys []string, args []any) *redis.Cmd {
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, redis.ErrClosed)
	}
	ms, ok := args[0].(int64)
	if !ok {
		return redis.NewCmdResult(nil, redis.ErrClosed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.windows[keys[0]]
	if !ok || !now.Before(w.expires) {
		w = window{expires: now.Add(time.Duration(ms) * time.Millisecond)} // First hit opens the window
	}
	w.count++
	c.windows[keys[0]] = w
	return redis.NewCmdResult([]any{w.count, w.expires.Sub(now).Milliseconds()}, nil)
}

func (c *Counter) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return c.incr(keys, args)
}

func (c *Counter) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return c.incr(keys, args)
}

func (c *Counter) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return c.incr(keys, args)
}

func (c *Counter) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return c.incr(keys, args)
}

func (c *Counter) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	exists := make([]bool, len(hashes))
	for i := range exists {
		exists[i] = true
	}
	return redis.NewBoolSliceResult(exists, nil)
}

func (c *Counter) ScriptLoad(_ context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult(script, nil)
}
