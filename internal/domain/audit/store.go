package audit

import (
	"context"
	"time"
)

// DefaultQueryLimit and MaxQueryLimit bound Query results.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// AuditStore persists decision records.
type AuditStore interface {
	// Append stores records. Must not block the request path for long.
	Append(ctx context.Context, records ...DecisionRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter selects decision records. Zero fields match everything.
type Filter struct {
	// Since excludes records older than this time.
	Since    time.Time
	Decision string
	Category string
	UserID   string
	// Limit caps the result size; 0 means DefaultQueryLimit.
	Limit int
}

// EffectiveLimit clamps f.Limit to (0, MaxQueryLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r satisfies every set field of f.
func (f Filter) Matches(r DecisionRecord) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Decision != "" && r.Decision != f.Decision {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	return true
}

// QueryStore provides read access to recent decisions, newest first.
type QueryStore interface {
	Query(ctx context.Context, filter Filter) ([]DecisionRecord, error)
}
