package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Counter increments an expiring integer. Both the Redis and the in-memory
// key/value backends satisfy it.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements fixed window rate limiting over a Counter. The
// window starts at the first request for a key and ends when the counter's
// TTL expires.
type RateLimiter struct {
	counter Counter
	logger  *zap.Logger
	config  RateLimitConfig
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(counter Counter, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		logger:  logger,
		config:  config,
	}
}

// Limit returns the configured maximum requests per window.
func (r *RateLimiter) Limit() int {
	return r.config.Limit
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	counterKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.counter.Incr(ctx, counterKey, r.config.Window)
	if err != nil {
		return nil, fmt.Errorf("rate limit incr failed: %w", err)
	}

	remaining := r.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	result := &RateLimitResult{
		Allowed:   count <= int64(r.config.Limit),
		Remaining: remaining,
		ResetAt:   time.Now().Add(r.config.Window),
	}

	if !result.Allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", r.config.Limit),
		)
	}
	return result, nil
}
