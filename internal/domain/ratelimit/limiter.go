package ratelimit

import "context"

// RateLimiter checks and consumes capacity for a key.
// Implementations: in-memory GCRA (single instance), Redis fixed window
// (shared across instances).
type RateLimiter interface {
	// Allow consumes one event for key under limit.
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}
