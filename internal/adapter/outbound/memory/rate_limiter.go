// Package memory provides in-memory implementations of the gate's outbound
// ports, for single-instance deployments and tests.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/workly/workly-gate/internal/domain/ratelimit"
)

// Default cleanup settings for RateLimiter.
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxTTL          = time.Hour
)

// RateLimiter implements ratelimit.RateLimiter with GCRA.
// State is one theoretical arrival time per key; a background sweeper
// removes idle keys.
type RateLimiter struct {
	mu    sync.Mutex
	cells map[string]time.Time

	cleanupInterval time.Duration
	maxTTL          time.Duration
	now             func() time.Time
	logger          *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithCleanup sets the sweep interval and the idle time after which a key
// is dropped.
func WithCleanup(interval, maxTTL time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if interval > 0 {
			r.cleanupInterval = interval
		}
		if maxTTL > 0 {
			r.maxTTL = maxTTL
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// WithRateLimiterLogger sets the logger used by the sweeper.
func WithRateLimiterLogger(logger *slog.Logger) RateLimiterOption {
	return func(r *RateLimiter) { r.logger = logger }
}

// NewRateLimiter creates an in-memory limiter.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		cells:           make(map[string]time.Time),
		cleanupInterval: DefaultCleanupInterval,
		maxTTL:          DefaultMaxTTL,
		now:             time.Now,
		logger:          slog.Default(),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow implements ratelimit.RateLimiter. A request is admitted when its
// arrival would not push the key's theoretical arrival time more than one
// burst ahead of now.
func (r *RateLimiter) Allow(_ context.Context, key string, limit ratelimit.Limit) (ratelimit.Result, error) {
	rate := max(limit.Rate, 1)
	burst := limit.Burst
	if burst <= 0 {
		burst = rate
	}
	period := limit.Period
	if period <= 0 {
		period = time.Second
	}
	emission := period / time.Duration(rate)
	tolerance := time.Duration(burst) * emission

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tat, ok := r.cells[key]
	if !ok || tat.Before(now) {
		tat = now
	}
	next := tat.Add(emission)

	if ahead := next.Sub(now); ahead > tolerance {
		return ratelimit.Result{
			Allowed:    false,
			RetryAfter: ahead - tolerance,
			ResetAfter: tat.Sub(now),
		}, nil
	}

	r.cells[key] = next
	ahead := next.Sub(now)
	remaining := int((tolerance - ahead) / emission)
	return ratelimit.Result{
		Allowed:    true,
		Remaining:  min(max(remaining, 0), burst),
		ResetAfter: ahead,
	}, nil
}

// StartCleanup runs the sweeper until ctx is done or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *RateLimiter) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	removed := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("rate limiter sweep", "removed_keys", removed, "remaining_keys", len(r.cells))
	}
}

// Stop stops the sweeper and waits for it. Safe to call more than once.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*RateLimiter)(nil)
