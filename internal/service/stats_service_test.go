package service

import (
	"sync"
	"testing"
)

func TestStatsService_RecordAndGet(t *testing.T) {
	s := NewStatsService()

	s.RecordDecision("public", "allow")
	s.RecordDecision("protected", "allow")
	s.RecordDecision("protected", "redirect_login")
	s.RecordDecision("admin", "redirect_home")
	s.RecordDecision("admin", "redirect_home")

	stats := s.GetStats()

	if stats.Allowed != 2 {
		t.Errorf("Allowed = %d, want 2", stats.Allowed)
	}
	if stats.RedirectLogin != 1 {
		t.Errorf("RedirectLogin = %d, want 1", stats.RedirectLogin)
	}
	if stats.RedirectHome != 2 {
		t.Errorf("RedirectHome = %d, want 2", stats.RedirectHome)
	}
	if stats.Total() != 5 {
		t.Errorf("Total() = %d, want 5", stats.Total())
	}
	if stats.Categories["protected"] != 2 || stats.Categories["admin"] != 2 || stats.Categories["public"] != 1 {
		t.Errorf("Categories = %v", stats.Categories)
	}
	if stats.Since.IsZero() {
		t.Error("Since should be set")
	}
}

func TestStatsService_UnknownDecisionCountsCategoryOnly(t *testing.T) {
	s := NewStatsService()

	s.RecordDecision("public", "teapot")
	s.RecordDecision("", "allow")

	stats := s.GetStats()
	if stats.Total() != 1 {
		t.Errorf("Total() = %d, want 1", stats.Total())
	}
	if len(stats.Categories) != 1 || stats.Categories["public"] != 1 {
		t.Errorf("Categories = %v", stats.Categories)
	}
}

func TestStatsService_Reset(t *testing.T) {
	s := NewStatsService()

	s.RecordDecision("protected", "allow")
	s.RecordDecision("protected", "redirect_login")
	before := s.GetStats().Since

	s.Reset()

	stats := s.GetStats()
	if stats.Total() != 0 || len(stats.Categories) != 0 {
		t.Errorf("after Reset, stats should be all zero: got %+v", stats)
	}
	if stats.Since.Before(before) {
		t.Error("Reset should restart the window")
	}
}

func TestStatsService_SnapshotIsCopy(t *testing.T) {
	s := NewStatsService()
	s.RecordDecision("public", "allow")

	snap := s.GetStats()
	snap.Categories["public"] = 100

	if got := s.GetStats().Categories["public"]; got != 1 {
		t.Errorf("internal category count = %d, want 1", got)
	}
}

func TestStatsService_ConcurrentAccess(t *testing.T) {
	s := NewStatsService()

	const goroutines = 50
	const opsPerGoroutine = 200

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				s.RecordDecision("public", "allow")
			}
		}()
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				s.RecordDecision("protected", "redirect_login")
			}
		}()
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				_ = s.GetStats()
			}
		}()
	}
	wg.Wait()

	stats := s.GetStats()
	if stats.Allowed != goroutines*opsPerGoroutine {
		t.Errorf("Allowed = %d, want %d", stats.Allowed, goroutines*opsPerGoroutine)
	}
	if stats.RedirectLogin != goroutines*opsPerGoroutine {
		t.Errorf("RedirectLogin = %d, want %d", stats.RedirectLogin, goroutines*opsPerGoroutine)
	}
}
