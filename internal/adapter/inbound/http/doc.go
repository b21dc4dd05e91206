// Package http provides the inbound HTTP adapter for the gate.
//
// The transport sits in front of the Workly application. Every request
// outside the bypass list has its Supabase session refreshed, is classified
// by path, and is either forwarded upstream or redirected.
//
// # Usage
//
//	gate := http.NewGate(accessService, route.NewPathFilter(nil))
//	transport := http.NewHTTPTransport(gate, reverseProxy,
//	    http.WithAddr(":8080"),
//	    http.WithRateLimiter(limiter, ratelimit.PerMinute(600)),
//	    http.WithOpsHandler(ops.Routes()),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Outcomes
//
//	forward    - request proxied upstream, identity headers set
//	302        - Location is the login page (with returnUrl and message) or home
//	429        - per-IP rate limit exceeded, Retry-After set
//
// Cookies rotated by the session provider are written as Set-Cookie on both
// forwarded and redirected responses.
//
// # Forwarded Headers
//
//	X-Workly-User-Id     - authenticated user id (client copies are stripped)
//	X-Workly-User-Email  - authenticated user email, when known
//	X-Request-ID         - request correlation id
//
// # Operator Endpoints
//
//	GET /_gate/health     - component health, 503 when degraded
//	GET /_gate/metrics    - Prometheus metrics
//	GET /_gate/stats      - decision counts since start
//	GET /_gate/decisions  - recent access decisions (operator key)
//	GET /_gate/routes     - how a path is classified and decided (operator key)
//
// With no operator keys configured, the key-guarded endpoints answer
// loopback clients only.
package http
