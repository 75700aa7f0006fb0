package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript approximates a sliding window from two fixed windows.
// The previous window's count is weighted by how much of it still overlaps.
//
// KEYS[1] current window counter, KEYS[2] previous window counter
// ARGV[1] limit, ARGV[2] now (ms), ARGV[3] window (ms)
// Returns {allowed, remaining}
var slidingWindowScript = redis.NewScript(`
local current  = tonumber(redis.call("GET", KEYS[1]) or "0")
local previous = tonumber(redis.call("GET", KEYS[2]) or "0")
local limit    = tonumber(ARGV[1])
local now      = tonumber(ARGV[2])
local window   = tonumber(ARGV[3])

local elapsed  = (now % window) / window
local weighted = previous * (1 - elapsed) + current
if weighted >= limit then
  return {0, 0}
end

local value = redis.call("INCR", KEYS[1])
if value == 1 then
  redis.call("PEXPIRE", KEYS[1], window * 2 + 1000)
end
local remaining = limit - (previous * (1 - elapsed) + value)
if remaining < 0 then
  remaining = 0
end
return {1, math.floor(remaining)}
`)

// RedisLimiter implements Limiter on a shared Redis instance
type RedisLimiter struct {
	client redis.Scripter
	config *Config
	now    func() time.Time
}

// NewRedisLimiter creates a sliding-window limiter backed by Redis
func NewRedisLimiter(client redis.Scripter, config *Config) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisLimiter{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// WithClock overrides the time source
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

// Limit records an attempt for identity
func (l *RedisLimiter) Limit(ctx context.Context, identity string) (*Result, error) {
	identity = Identity(identity)
	windowMs := l.config.Window.Milliseconds()
	if windowMs <= 0 {
		return nil, fmt.Errorf("invalid rate limit window: %s", l.config.Window)
	}

	nowMs := l.now().UnixMilli()
	bucket := nowMs / windowMs
	keys := []string{
		fmt.Sprintf("%s:%s:%d", l.config.KeyPrefix, identity, bucket),
		fmt.Sprintf("%s:%s:%d", l.config.KeyPrefix, identity, bucket-1),
	}

	values, err := slidingWindowScript.Run(ctx, l.client, keys, l.config.Limit, nowMs, windowMs).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected rate limit reply: %v", values)
	}

	return &Result{
		Allowed:   values[0] == 1,
		Limit:     l.config.Limit,
		Remaining: int(values[1]),
		Reset:     time.UnixMilli((bucket + 1) * windowMs),
	}, nil
}
