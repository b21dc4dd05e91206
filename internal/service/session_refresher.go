// Package service contains the gate's request-path services: session
// refresh, access evaluation, and decision auditing.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/workly/workly-gate/internal/ctxkey"
	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/session"
)

const tracerName = "github.com/workly/workly-gate/internal/service"

// Refresh outcomes reported to the result observer.
const (
	RefreshAuthenticated = "authenticated"
	RefreshNoSession     = "no_session"
	RefreshInvalid       = "invalid"
	RefreshUnavailable   = "unavailable"
	RefreshError         = "error"
)

// loggerFromContext retrieves the enriched logger from context.
// Uses the same key as HTTP middleware for request_id enrichment.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// SessionRefresher resolves the current user through the session provider.
// The provider may rotate tokens by writing through the cookie store; the
// refresher never refreshes tokens itself and never retries.
type SessionRefresher struct {
	provider session.Provider
	logger   *slog.Logger
	tracer   trace.Tracer
	observe  func(result string)
}

// RefresherOption configures a SessionRefresher.
type RefresherOption func(*SessionRefresher)

// WithRefreshObserver registers fn to receive the outcome of every refresh.
func WithRefreshObserver(fn func(result string)) RefresherOption {
	return func(r *SessionRefresher) { r.observe = fn }
}

// WithTracer overrides the tracer used for session.refresh spans.
func WithTracer(t trace.Tracer) RefresherOption {
	return func(r *SessionRefresher) { r.tracer = t }
}

// NewSessionRefresher creates a SessionRefresher.
func NewSessionRefresher(provider session.Provider, logger *slog.Logger, opts ...RefresherOption) *SessionRefresher {
	r := &SessionRefresher{
		provider: provider,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh returns the current user, or nil when the request carries no
// valid session. Provider errors are logged and downgraded to nil.
func (r *SessionRefresher) Refresh(ctx context.Context, cookies session.CookieStore) *auth.User {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = r.logger
	}

	ctx, span := r.tracer.Start(ctx, "session.refresh")
	defer span.End()

	user, err := r.provider.GetCurrentUser(ctx, cookies)
	result := classifyRefresh(user, err)
	span.SetAttributes(
		attribute.Bool("user.authenticated", result == RefreshAuthenticated),
		attribute.String("session.result", result),
	)
	if r.observe != nil {
		r.observe(result)
	}

	switch result {
	case RefreshAuthenticated:
		return user
	case RefreshNoSession:
		logger.Debug("no session cookie")
	case RefreshInvalid:
		logger.Info("session rejected", "error", err)
	case RefreshUnavailable:
		span.SetStatus(codes.Error, "provider unavailable")
		logger.Warn("session provider unavailable", "error", err)
	default:
		if err != nil {
			span.RecordError(err)
		}
		logger.Error("session lookup failed", "error", err)
	}
	return nil
}

func classifyRefresh(user *auth.User, err error) string {
	switch {
	case err == nil && user != nil:
		return RefreshAuthenticated
	case errors.Is(err, session.ErrNoSession):
		return RefreshNoSession
	case errors.Is(err, session.ErrInvalidSession):
		return RefreshInvalid
	case errors.Is(err, session.ErrProviderUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return RefreshUnavailable
	default:
		return RefreshError
	}
}
