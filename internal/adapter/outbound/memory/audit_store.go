package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/workly/workly-gate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore writes decision records as JSON lines and keeps the most recent
// ones in a ring buffer for the operator decisions endpoint.
type AuditStore struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder *json.Encoder

	ring  []audit.DecisionRecord
	next  int
	count int
}

// NewAuditStore creates a store writing JSON lines to w. A nil writer keeps
// records in memory only. capacity <= 0 uses the default of 1000.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &AuditStore{
		writer: w,
		ring:   make([]audit.DecisionRecord, capacity),
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append implements audit.AuditStore.
func (s *AuditStore) Append(_ context.Context, records ...audit.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return fmt.Errorf("encode decision record: %w", err)
			}
		}
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.count < len(s.ring) {
			s.count++
		}
	}
	return nil
}

// Flush implements audit.AuditStore. Writes are unbuffered, so it only
// syncs file outputs.
func (s *AuditStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

// Close implements audit.AuditStore. It closes file outputs other than
// stdout and stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query implements audit.QueryStore over the ring buffer, newest first.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	result := make([]audit.DecisionRecord, 0, min(limit, s.count))
	for i := 0; i < s.count && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		if rec := s.ring[idx]; filter.Matches(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Len returns the number of records held in the ring buffer.
func (s *AuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Compile-time interface verification.
var (
	_ audit.AuditStore = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
