package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/workly/workly-gate/internal/service"
)

// HealthResponse is the JSON response from the health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Sizer reports the number of tracked entries of a component.
type Sizer interface {
	Size() int
}

// Pinger checks that a remote dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStater reports the session provider circuit breaker state.
type BreakerStater interface {
	BreakerState() string
}

// HealthChecker verifies component health.
type HealthChecker struct {
	limiter      any
	auditService *service.AuditService
	provider     BreakerStater
	version      string
	pingTimeout  time.Duration
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available. The limiter is inspected
// for Sizer (in-memory) or Pinger (shared store).
func NewHealthChecker(
	limiter any,
	auditService *service.AuditService,
	provider BreakerStater,
	version string,
) *HealthChecker {
	return &HealthChecker{
		limiter:      limiter,
		auditService: auditService,
		provider:     provider,
		version:      version,
		pingTimeout:  time.Second,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	switch l := h.limiter.(type) {
	case nil:
		checks["rate_limiter"] = "not configured"
	case Pinger:
		pctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		err := l.Ping(pctx)
		cancel()
		if err != nil {
			// Requests fail open, so a down store degrades limiting only.
			checks["rate_limiter"] = "degraded: " + err.Error()
		} else {
			checks["rate_limiter"] = "ok"
		}
	case Sizer:
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", l.Size())
	default:
		checks["rate_limiter"] = "ok"
	}

	// Check audit service channel depth
	if h.auditService != nil {
		depth := h.auditService.ChannelDepth()
		capacity := h.auditService.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.auditService.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	// An open breaker only means anonymous treatment; the gate still serves.
	if h.provider != nil {
		checks["session_provider"] = "breaker " + h.provider.BreakerState()
	} else {
		checks["session_provider"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
