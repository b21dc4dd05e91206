// Package redis provides Redis-backed implementations of the gate's
// outbound ports, for deployments running several gate instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/workly/workly-gate/internal/domain/ratelimit"
)

// ErrUnavailable wraps Redis command failures.
var ErrUnavailable = errors.New("rate limit store unavailable")

// RateLimiter implements ratelimit.RateLimiter as a fixed window counter
// shared through Redis. Each window is its own key, expiring with the
// window.
type RateLimiter struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter creates a limiter over client.
func NewRateLimiter(client goredis.UniversalClient, opts ...Option) *RateLimiter {
	r := &RateLimiter{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow implements ratelimit.RateLimiter. The window capacity is
// limit.Burst when set, else limit.Rate.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit ratelimit.Limit) (ratelimit.Result, error) {
	period := limit.Period
	if period <= 0 {
		period = time.Second
	}
	capacity := limit.Burst
	if capacity <= 0 {
		capacity = max(limit.Rate, 1)
	}

	now := r.now()
	windowStart := now.Truncate(period)
	resetAfter := windowStart.Add(period).Sub(now)
	windowKey := key + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)

	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, windowKey)
		pipe.PExpire(ctx, windowKey, period)
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count := int(incr.Val())
	if count > capacity {
		return ratelimit.Result{
			Allowed:    false,
			RetryAfter: resetAfter,
			ResetAfter: resetAfter,
		}, nil
	}
	return ratelimit.Result{
		Allowed:    true,
		Remaining:  capacity - count,
		ResetAfter: resetAfter,
	}, nil
}

// Ping checks connectivity.
func (r *RateLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RateLimiter) Close() error {
	return r.client.Close()
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*RateLimiter)(nil)
