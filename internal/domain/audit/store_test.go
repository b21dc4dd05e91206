package audit

import (
	"testing"
	"time"
)

func TestFilter_Matches(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	rec := DecisionRecord{
		Timestamp: now,
		Decision:  "redirect_login",
		Category:  "protected",
		UserID:    "",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"decision match", Filter{Decision: "redirect_login"}, true},
		{"decision mismatch", Filter{Decision: "allow"}, false},
		{"category mismatch", Filter{Category: "admin"}, false},
		{"user mismatch", Filter{UserID: "u1"}, false},
		{"since before", Filter{Since: now.Add(-time.Minute)}, true},
		{"since after", Filter{Since: now.Add(time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_EffectiveLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultQueryLimit},
		{-3, DefaultQueryLimit},
		{10, 10},
		{MaxQueryLimit + 1, MaxQueryLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
