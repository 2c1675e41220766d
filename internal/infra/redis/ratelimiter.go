package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/entitlements/pkg/logger"
)

// slidingWindow trims entries older than the window, then admits the request
// if fewer than limit remain. It returns {allowed, remaining, reset_ms}.
var slidingWindow = redis.NewScript(`
local key, now, window, limit, member = KEYS[1], tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local used = redis.call('ZCARD', key)
if used < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - used - 1, now + window}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {0, 0, reset}
`)

// RateLimiter is a sliding-window-log limiter shared by every API replica.
type RateLimiter struct {
	client *Client
	prefix string
	limit  int
	window time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// RateLimitResult is the outcome of one Allow call.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAt is zero unless the request was rejected.
	RetryAt time.Time
}

// NewRateLimiter creates a limiter admitting limit requests per window for
// each key under prefix.
func NewRateLimiter(client *Client, prefix string, limit int, window time.Duration, log *logger.Logger) (*RateLimiter, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case prefix == "":
		return nil, errors.New("key prefix is required")
	case limit <= 0:
		return nil, errors.New("limit must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	case log == nil:
		return nil, errors.New("logger is required")
	}

	return &RateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		logger: log,
		now:    time.Now,
	}, nil
}

// Allow consumes one slot for key if one is free.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	now := rl.now().UnixMilli()
	done := Timed("ratelimit_allow")
	vals, err := slidingWindow.Run(ctx, rl.client.rdb, []string{rl.prefix + ":" + key},
		now, rl.window.Milliseconds(), rl.limit, fmt.Sprintf("%d-%s", now, uuid.NewString())).Int64Slice()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected reply %v", vals)
	}

	res := &RateLimitResult{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}
	DefaultMetrics.RecordRateLimitResult(rl.prefix, res.Allowed)

	if !res.Allowed {
		res.RetryAt = res.ResetAt
		rl.logger.Debug("rate limit exceeded", "key", key, "retry_at", res.RetryAt)
	}
	return res, nil
}

// Limit is the number of requests admitted per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}
