package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/workly/workly-gate/internal/domain/access"
)

// StatsService keeps process-lifetime decision counters for the operator
// stats endpoint. Safe for concurrent use.
type StatsService struct {
	allowed       atomic.Int64
	redirectLogin atomic.Int64
	redirectHome  atomic.Int64

	mu         sync.Mutex
	categories map[string]int64

	started time.Time
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		categories: make(map[string]int64),
		started:    time.Now(),
	}
}

// RecordDecision counts one decision. Its signature matches
// WithDecisionObserver.
func (s *StatsService) RecordDecision(category, decision string) {
	switch decision {
	case access.KindAllow.String():
		s.allowed.Add(1)
	case access.KindRedirectLogin.String():
		s.redirectLogin.Add(1)
	case access.KindRedirectHome.String():
		s.redirectHome.Add(1)
	}
	if category == "" {
		return
	}
	s.mu.Lock()
	s.categories[category]++
	s.mu.Unlock()
}

// Stats is a snapshot of the decision counters.
type Stats struct {
	Allowed       int64            `json:"allowed"`
	RedirectLogin int64            `json:"redirect_login"`
	RedirectHome  int64            `json:"redirect_home"`
	Categories    map[string]int64 `json:"categories"`
	Since         time.Time        `json:"since"`
}

// Total returns the number of decisions in the snapshot.
func (s Stats) Total() int64 {
	return s.Allowed + s.RedirectLogin + s.RedirectHome
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	cats := make(map[string]int64, len(s.categories))
	for k, v := range s.categories {
		cats[k] = v
	}
	since := s.started
	s.mu.Unlock()

	return Stats{
		Allowed:       s.allowed.Load(),
		RedirectLogin: s.redirectLogin.Load(),
		RedirectHome:  s.redirectHome.Load(),
		Categories:    cats,
		Since:         since,
	}
}

// Reset sets all counters to zero and restarts the window.
func (s *StatsService) Reset() {
	s.allowed.Store(0)
	s.redirectLogin.Store(0)
	s.redirectHome.Store(0)

	s.mu.Lock()
	s.categories = make(map[string]int64)
	s.started = time.Now()
	s.mu.Unlock()
}
