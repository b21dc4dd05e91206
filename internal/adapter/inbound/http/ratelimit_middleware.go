package http

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/workly/workly-gate/internal/domain/ratelimit"
)

// RateLimitMiddleware rejects clients that exceed limit with 429 and a
// Retry-After header. Keys are per client IP. Limiter errors fail open.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, limit ratelimit.Limit, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		if logger == nil {
			logger = slog.Default()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			if ip == "" {
				ip = remoteHost(r)
			}

			res, err := limiter.Allow(r.Context(), ratelimit.FormatKey(ratelimit.KeyTypeIP, ip), limit)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", "ip", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))

			if !res.Allowed {
				if metrics != nil {
					metrics.RateLimitedTotal.Inc()
				}
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limited",
					"message": "too many requests",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
