// Package audit contains domain types for the access decision audit trail.
package audit

import "time"

// DecisionRecord is one audited gate decision.
type DecisionRecord struct {
	// Timestamp is when the request reached the gate (UTC).
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with request logs.
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	// Category is the route category: public, protected or admin.
	Category string `json:"category"`
	// Decision is allow, redirect_login or redirect_home.
	Decision string `json:"decision"`
	// Reason is the redirect message code, if any.
	Reason string `json:"reason,omitempty"`
	// UserID is empty for anonymous requests.
	UserID string `json:"user_id,omitempty"`
	// SessionFingerprint is a short hash of the provider session id,
	// never the session itself.
	SessionFingerprint string `json:"session_fingerprint,omitempty"`
	SourceIP           string `json:"source_ip,omitempty"`
	UserAgent          string `json:"user_agent,omitempty"`
	// LatencyMicros is the time spent in the gate, provider round-trip
	// included.
	LatencyMicros int64 `json:"latency_us"`
}
