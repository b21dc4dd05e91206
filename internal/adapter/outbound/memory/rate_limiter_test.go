package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/workly/workly-gate/internal/domain/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now))
	limit := ratelimit.Limit{Rate: 10, Burst: 3, Period: time.Second}
	ctx := context.Background()

	for i := range 3 {
		res, err := limiter.Allow(ctx, "k", limit)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed within burst", i)
		}
		if res.Remaining != 2-i {
			t.Errorf("request %d Remaining = %d, want %d", i, res.Remaining, 2-i)
		}
	}

	res, _ := limiter.Allow(ctx, "k", limit)
	if res.Allowed {
		t.Fatal("request beyond burst should be denied")
	}
	if res.RetryAfter != 100*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 100ms", res.RetryAfter)
	}
}

func TestRateLimiter_RecoversAfterEmissionInterval(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now))
	limit := ratelimit.Limit{Rate: 1, Burst: 1, Period: time.Second}
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "k", limit); !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if res, _ := limiter.Allow(ctx, "k", limit); res.Allowed {
		t.Fatal("second immediate request should be denied")
	}
	clock.Advance(time.Second)
	if res, _ := limiter.Allow(ctx, "k", limit); !res.Allowed {
		t.Fatal("request after one period should be allowed")
	}
}

func TestRateLimiter_KeyIsolation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now))
	limit := ratelimit.Limit{Rate: 1, Burst: 1, Period: time.Minute}
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "a", limit)
	if res, _ := limiter.Allow(ctx, "a", limit); res.Allowed {
		t.Error("key a should be exhausted")
	}
	if res, _ := limiter.Allow(ctx, "b", limit); !res.Allowed {
		t.Error("key b should be unaffected by key a")
	}
	if got := limiter.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestRateLimiter_ZeroValuesDefaulted(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	res, err := limiter.Allow(context.Background(), "k", ratelimit.Limit{})
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !res.Allowed {
		t.Error("zero limit should default to one request per second")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	limit := ratelimit.Limit{Rate: 1000, Burst: 1000, Period: time.Second}
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				if _, err := limiter.Allow(ctx, fmt.Sprintf("k-%d-%d", g, i%5), limit); err != nil {
					t.Errorf("Allow() error = %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if got := limiter.Size(); got != 100 {
		t.Errorf("Size() = %d, want 100", got)
	}
}

func TestRateLimiter_SweepRemovesIdleKeys(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	limiter := NewRateLimiter(WithClock(clock.Now), WithCleanup(time.Minute, 10*time.Minute))
	ctx := context.Background()
	limit := ratelimit.PerMinute(60)

	_, _ = limiter.Allow(ctx, "idle", limit)
	clock.Advance(20 * time.Minute)
	_, _ = limiter.Allow(ctx, "fresh", limit)

	limiter.sweep()

	if got := limiter.Size(); got != 1 {
		t.Errorf("Size() after sweep = %d, want 1", got)
	}
}

func TestRateLimiter_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiter(WithCleanup(10*time.Millisecond, time.Millisecond))
	limiter.StartCleanup(context.Background())
	_, _ = limiter.Allow(context.Background(), "k", ratelimit.PerMinute(10))
	time.Sleep(30 * time.Millisecond)
	limiter.Stop()
	limiter.Stop()
}

func TestRateLimiter_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	limiter := NewRateLimiter(WithCleanup(10*time.Millisecond, time.Minute))
	limiter.StartCleanup(ctx)
	cancel()
	limiter.wg.Wait()
}
