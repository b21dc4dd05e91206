package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/workly/workly-gate/internal/domain/access"
	"github.com/workly/workly-gate/internal/domain/audit"
	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/route"
	"github.com/workly/workly-gate/internal/domain/session"
)

// DecisionRecorder accepts audit records without blocking the caller.
type DecisionRecorder interface {
	Record(record audit.DecisionRecord)
}

// AccessRequest is the part of an inbound request the gate decides on.
type AccessRequest struct {
	RequestID string
	Method    string
	Path      string
	SourceIP  string
	UserAgent string
	// Received is when the request reached the gate. Zero means now.
	Received time.Time
}

// AccessOutcome is the result of evaluating one request.
type AccessOutcome struct {
	// User is nil for anonymous requests.
	User     *auth.User
	Category route.Category
	Decision access.Decision
	// Location is the redirect target, empty when the request is allowed.
	Location string
}

// AccessService runs the per-request pipeline: session refresh, route
// classification, access decision, audit.
type AccessService struct {
	refresher  *SessionRefresher
	classifier *route.Classifier
	engine     *access.Engine
	recorder   DecisionRecorder
	logger     *slog.Logger
	observe    func(category, decision string)
	now        func() time.Time
}

// AccessOption configures an AccessService.
type AccessOption func(*AccessService)

// WithDecisionRecorder sends every decision to rec.
func WithDecisionRecorder(rec DecisionRecorder) AccessOption {
	return func(s *AccessService) { s.recorder = rec }
}

// WithDecisionObserver registers fn to receive every category/decision pair.
func WithDecisionObserver(fn func(category, decision string)) AccessOption {
	return func(s *AccessService) { s.observe = fn }
}

// WithAccessClock replaces time.Now, for tests.
func WithAccessClock(now func() time.Time) AccessOption {
	return func(s *AccessService) { s.now = now }
}

// NewAccessService creates an AccessService.
func NewAccessService(
	refresher *SessionRefresher,
	classifier *route.Classifier,
	engine *access.Engine,
	logger *slog.Logger,
	opts ...AccessOption,
) *AccessService {
	s := &AccessService{
		refresher:  refresher,
		classifier: classifier,
		engine:     engine,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate resolves the user through cookies, classifies req.Path and
// decides. Cookie changes made by the provider are left in cookies for the
// caller to apply to the response, whatever the decision.
func (s *AccessService) Evaluate(ctx context.Context, req AccessRequest, cookies session.CookieStore) AccessOutcome {
	received := req.Received
	if received.IsZero() {
		received = s.now()
	}

	user := s.refresher.Refresh(ctx, cookies)
	category := s.classifier.Classify(req.Path)
	decision := s.engine.Decide(category, user, req.Path)

	out := AccessOutcome{
		User:     user,
		Category: category,
		Decision: decision,
		Location: s.engine.Location(decision),
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("user.authenticated", user != nil),
		attribute.String("route.category", category.String()),
		attribute.String("access.decision", decision.Kind.String()),
	)

	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	if !decision.Allowed() {
		logger.Debug("request redirected",
			"path", req.Path,
			"category", category.String(),
			"decision", decision.Kind.String(),
			"location", out.Location,
		)
	}

	if s.observe != nil {
		s.observe(category.String(), decision.Kind.String())
	}
	if s.recorder != nil {
		s.recorder.Record(s.buildRecord(req, out, received))
	}
	return out
}

func (s *AccessService) buildRecord(req AccessRequest, out AccessOutcome, received time.Time) audit.DecisionRecord {
	rec := audit.DecisionRecord{
		Timestamp:     received.UTC(),
		RequestID:     req.RequestID,
		Method:        req.Method,
		Path:          req.Path,
		Category:      out.Category.String(),
		Decision:      out.Decision.Kind.String(),
		Reason:        string(out.Decision.Reason),
		SourceIP:      req.SourceIP,
		UserAgent:     req.UserAgent,
		LatencyMicros: s.now().Sub(received).Microseconds(),
	}
	if out.User != nil {
		rec.UserID = out.User.ID
		rec.SessionFingerprint = SessionFingerprint(out.User.SessionID)
	}
	return rec
}

// SessionFingerprint returns a 16-hex-digit xxhash of a provider session
// id, or "" when id is empty. It correlates audit records for one session
// without storing anything that could be replayed.
func SessionFingerprint(id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(id))
}
