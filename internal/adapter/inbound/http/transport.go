package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/workly/workly-gate/internal/domain/ratelimit"
)

// HTTPTransport is the inbound adapter that puts the gate in front of the
// upstream application.
type HTTPTransport struct {
	gate            *Gate
	upstream        http.Handler
	ops             http.Handler
	server          *http.Server
	listener        net.Listener
	addr            string
	logger          *slog.Logger
	metrics         *Metrics
	limiter         ratelimit.RateLimiter
	limit           ratelimit.Limit
	tracerProvider  trace.TracerProvider
	tracing         bool
	shutdownTimeout time.Duration
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics records request metrics for every request, operator
// endpoints included.
func WithMetrics(m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
	}
}

// WithRateLimiter enables per-IP rate limiting in front of the gate.
func WithRateLimiter(limiter ratelimit.RateLimiter, limit ratelimit.Limit) Option {
	return func(t *HTTPTransport) {
		t.limiter = limiter
		t.limit = limit
	}
}

// WithOpsHandler serves OpsPrefix from h instead of forwarding upstream.
func WithOpsHandler(h http.Handler) Option {
	return func(t *HTTPTransport) {
		t.ops = h
	}
}

// WithTracing starts a server span per request using tp.
// A nil tp uses the global provider.
func WithTracing(tp trace.TracerProvider) Option {
	return func(t *HTTPTransport) {
		t.tracing = true
		t.tracerProvider = tp
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// NewHTTPTransport creates the transport. upstream receives every allowed
// request.
func NewHTTPTransport(gate *Gate, upstream http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		gate:            gate,
		upstream:        upstream,
		addr:            "127.0.0.1:8080",
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Handler builds the full handler chain.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - Record duration and status (outermost to capture full duration)
//  2. RequestID - Extract/generate request ID and enrich logger
//  3. RealIP - Extract client IP from X-Forwarded-For
//  4. Tracing - Server span, propagated downstream
//  5. Operator endpoints under OpsPrefix, otherwise:
//  6. RateLimit - Per-IP limit
//  7. Gate - Session refresh and access decision
//  8. Upstream
func (t *HTTPTransport) Handler() http.Handler {
	var app http.Handler = t.upstream
	app = t.gate.Handler(app)
	app = RateLimitMiddleware(t.limiter, t.limit, t.metrics, t.logger)(app)

	var handler http.Handler = app
	if t.ops != nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, OpsPrefix) {
				t.ops.ServeHTTP(w, r)
				return
			}
			app.ServeHTTP(w, r)
		})
	}

	if t.tracing {
		handler = TracingMiddleware(t.tracerProvider, nil)(handler)
	}
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	return handler
}

// Listen binds the listen address. Start calls it when needed; calling it
// first lets callers learn the bound address.
func (t *HTTPTransport) Listen() (net.Addr, error) {
	if t.listener != nil {
		return t.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return nil, err
	}
	t.listener = ln
	return ln.Addr(), nil
}

// Start serves HTTP until the context is cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if _, err := t.Listen(); err != nil {
		return err
	}

	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(t.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", t.listener.Addr().String())
		err := t.server.Serve(t.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		if t.listener != nil {
			return t.listener.Close()
		}
		return nil
	}
	return t.shutdown()
}
