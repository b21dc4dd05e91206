package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workly/workly-gate/internal/domain/access"
	"github.com/workly/workly-gate/internal/domain/audit"
	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/route"
	"github.com/workly/workly-gate/internal/service"
)

// OpsPrefix is the path prefix served by the gate itself. Requests under it
// never reach the gate middleware or the upstream.
const OpsPrefix = "/_gate/"

// OpsHandler serves the gate's operator endpoints.
type OpsHandler struct {
	health     *HealthChecker
	gatherer   prometheus.Gatherer
	decisions  audit.QueryStore
	keys       *auth.OperatorKeyService
	classifier *route.Classifier
	filter     *route.PathFilter
	engine     *access.Engine
	stats      *service.StatsService
	logger     *slog.Logger
}

// OpsOption configures an OpsHandler.
type OpsOption func(*OpsHandler)

// WithHealthChecker serves /_gate/health from hc.
func WithHealthChecker(hc *HealthChecker) OpsOption {
	return func(h *OpsHandler) { h.health = hc }
}

// WithGatherer serves /_gate/metrics from g.
func WithGatherer(g prometheus.Gatherer) OpsOption {
	return func(h *OpsHandler) { h.gatherer = g }
}

// WithDecisionStore enables /_gate/decisions.
func WithDecisionStore(s audit.QueryStore) OpsOption {
	return func(h *OpsHandler) { h.decisions = s }
}

// WithOperatorKeys guards the inspection endpoints with bearer keys.
func WithOperatorKeys(keys *auth.OperatorKeyService) OpsOption {
	return func(h *OpsHandler) { h.keys = keys }
}

// WithRouteTable enables /_gate/routes.
func WithRouteTable(classifier *route.Classifier, filter *route.PathFilter, engine *access.Engine) OpsOption {
	return func(h *OpsHandler) {
		h.classifier = classifier
		h.filter = filter
		h.engine = engine
	}
}

// WithStats serves /_gate/stats from s.
func WithStats(s *service.StatsService) OpsOption {
	return func(h *OpsHandler) { h.stats = s }
}

// WithOpsLogger sets the logger.
func WithOpsLogger(logger *slog.Logger) OpsOption {
	return func(h *OpsHandler) { h.logger = logger }
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(opts ...OpsOption) *OpsHandler {
	h := &OpsHandler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mux for OpsPrefix.
func (h *OpsHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	if h.health != nil {
		mux.Handle("GET "+OpsPrefix+"health", h.health.Handler())
	} else {
		mux.HandleFunc("GET "+OpsPrefix+"health", func(w http.ResponseWriter, _ *http.Request) {
			h.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Checks: map[string]string{}})
		})
	}
	if h.gatherer != nil {
		mux.Handle("GET "+OpsPrefix+"metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	if h.stats != nil {
		mux.HandleFunc("GET "+OpsPrefix+"stats", func(w http.ResponseWriter, _ *http.Request) {
			h.respondJSON(w, http.StatusOK, h.stats.GetStats())
		})
	}
	mux.Handle("GET "+OpsPrefix+"decisions", h.requireOperator(http.HandlerFunc(h.handleDecisions)))
	mux.Handle("GET "+OpsPrefix+"routes", h.requireOperator(http.HandlerFunc(h.handleRoutes)))

	return opsHeaders(mux)
}

// opsHeaders sets restrictive security headers on every operator response.
// Operator endpoints serve JSON, CSV and metrics text only.
func opsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// requireOperator admits a request carrying a valid operator key. With no
// keys configured only loopback clients are admitted.
func (h *OpsHandler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !h.keys.Enabled(ctx) {
			if isLoopback(r) {
				next.ServeHTTP(w, r)
				return
			}
			h.respondError(w, http.StatusForbidden, "operator endpoints are loopback-only when no keys are configured")
			return
		}

		raw, _ := bearerToken(r)
		key, err := h.keys.Validate(ctx, raw)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidOperatorKey) {
				LoggerFromContext(ctx).Error("operator key check failed", "error", err)
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="workly-gate"`)
			h.respondError(w, http.StatusUnauthorized, "invalid operator key")
			return
		}
		LoggerFromContext(ctx).Debug("operator request", "key", key.Name, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// DecisionsResponse is the JSON response of /_gate/decisions.
type DecisionsResponse struct {
	Records []audit.DecisionRecord `json:"records"`
	Count   int                    `json:"count"`
}

func (h *OpsHandler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		h.respondError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}
	filter, err := parseDecisionFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.decisions.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("decision query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "decision query failed")
		return
	}
	if records == nil {
		records = []audit.DecisionRecord{}
	}

	if r.URL.Query().Get("format") == "csv" {
		writeDecisionsCSV(w, records)
		return
	}
	h.respondJSON(w, http.StatusOK, DecisionsResponse{Records: records, Count: len(records)})
}

func writeDecisionsCSV(w http.ResponseWriter, records []audit.DecisionRecord) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=decisions.csv")
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	defer writer.Flush()
	_ = writer.Write([]string{
		"timestamp", "request_id", "method", "path", "category", "decision",
		"reason", "user_id", "session_fingerprint", "source_ip", "latency_us",
	})
	for _, rec := range records {
		_ = writer.Write([]string{
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.RequestID,
			rec.Method,
			rec.Path,
			rec.Category,
			rec.Decision,
			rec.Reason,
			rec.UserID,
			rec.SessionFingerprint,
			rec.SourceIP,
			strconv.FormatInt(rec.LatencyMicros, 10),
		})
	}
}

func parseDecisionFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID: q.Get("user_id"),
	}
	if d := q.Get("decision"); d != "" {
		switch d {
		case access.KindAllow.String(), access.KindRedirectLogin.String(), access.KindRedirectHome.String():
			filter.Decision = d
		default:
			return filter, fmt.Errorf("invalid decision filter: must be 'allow', 'redirect_login' or 'redirect_home'")
		}
	}
	if c := q.Get("category"); c != "" {
		switch c {
		case route.CategoryPublic.String(), route.CategoryProtected.String(), route.CategoryAdmin.String():
			filter.Category = c
		default:
			return filter, fmt.Errorf("invalid category filter: must be 'public', 'protected' or 'admin'")
		}
	}
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filter.Since = t
		} else if d, derr := time.ParseDuration(s); derr == nil && d > 0 {
			filter.Since = time.Now().Add(-d)
		} else {
			return filter, fmt.Errorf("invalid since: use RFC3339 or a duration such as '15m'")
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid limit: must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

// RoutePreview is the decision a path would get for one kind of visitor.
type RoutePreview struct {
	Decision string `json:"decision" yaml:"decision"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// RouteResponse is the JSON response of /_gate/routes.
type RouteResponse struct {
	Path     string                  `json:"path" yaml:"path"`
	Bypass   bool                    `json:"bypass" yaml:"bypass"`
	Category string                  `json:"category" yaml:"category"`
	Preview  map[string]RoutePreview `json:"preview,omitempty" yaml:"preview,omitempty"`
}

// Sample visitors used for route previews.
var (
	previewMember = &auth.User{ID: "preview-member"}
	previewAdmin  = &auth.User{ID: "preview-admin", Role: auth.RoleAdmin}
)

func (h *OpsHandler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil || h.engine == nil {
		h.respondError(w, http.StatusServiceUnavailable, "route table not configured")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" || path[0] != '/' {
		h.respondError(w, http.StatusBadRequest, "path must start with '/'")
		return
	}

	h.respondJSON(w, http.StatusOK, PreviewRoute(h.classifier, h.filter, h.engine, path))
}

// PreviewRoute reports how the gate treats path for an anonymous visitor,
// a signed-in member and an admin.
func PreviewRoute(classifier *route.Classifier, filter *route.PathFilter, engine *access.Engine, path string) RouteResponse {
	category := classifier.Classify(path)
	resp := RouteResponse{
		Path:     path,
		Category: category.String(),
	}
	if filter != nil && filter.Bypass(path) {
		resp.Bypass = true
		return resp
	}

	resp.Preview = make(map[string]RoutePreview, 3)
	for name, user := range map[string]*auth.User{
		"anonymous": nil,
		"member":    previewMember,
		"admin":     previewAdmin,
	} {
		d := engine.Decide(category, user, path)
		resp.Preview[name] = RoutePreview{
			Decision: d.Kind.String(),
			Location: engine.Location(d),
		}
	}
	return resp
}

func (h *OpsHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *OpsHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
