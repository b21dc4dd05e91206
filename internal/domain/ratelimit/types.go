// Package ratelimit defines per-client request limits applied in front of
// the gate.
package ratelimit

import (
	"fmt"
	"time"
)

// Limit is a rate of Rate events per Period with bursts up to Burst.
type Limit struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// PerMinute returns a Limit of rate requests per minute with an equal burst.
func PerMinute(rate int) Limit {
	return Limit{Rate: rate, Burst: rate, Period: time.Minute}
}

// Result is the outcome of a limiter check.
type Result struct {
	Allowed bool
	// Remaining requests before the limit is hit.
	Remaining int
	// RetryAfter is meaningful only when Allowed is false.
	RetryAfter time.Duration
	// ResetAfter is the time until the limiter is back to full capacity.
	ResetAfter time.Duration
}

// KeyType identifies what a limiter key is derived from.
type KeyType string

const (
	// KeyTypeIP limits by client address.
	KeyTypeIP KeyType = "ip"
)

// FormatKey returns "ratelimit:{type}:{value}".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyType, value)
}
