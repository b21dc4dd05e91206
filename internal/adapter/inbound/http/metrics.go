package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "workly_gate"

// Metrics holds all Prometheus metrics for the gate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	AccessDecisions  *prometheus.CounterVec
	SessionRefreshes *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	AuditDropsTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of requests handled by the gate",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, upstream included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		AccessDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "access_decisions_total",
				Help:      "Access decisions by route category and outcome",
			},
			[]string{"category", "decision"},
		),
		SessionRefreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_refresh_total",
				Help:      "Session provider lookups by result",
			},
			[]string{"result"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
	}
}

// RegisterGauges registers callback gauges for component sizes.
// Nil callbacks are skipped.
func RegisterGauges(reg prometheus.Registerer, rateLimitKeys, auditQueueDepth func() int) {
	if rateLimitKeys != nil {
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_keys",
			Help:      "Number of active rate limit keys",
		}, func() float64 { return float64(rateLimitKeys()) })
	}
	if auditQueueDepth != nil {
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "audit_queue_depth",
			Help:      "Audit records waiting to be written",
		}, func() float64 { return float64(auditQueueDepth()) })
	}
}

// ObserveDecision counts one access decision. Safe on a nil receiver.
func (m *Metrics) ObserveDecision(category, decision string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(category, decision).Inc()
}

// ObserveRefresh counts one session lookup. Safe on a nil receiver.
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.SessionRefreshes.WithLabelValues(result).Inc()
}

// ObserveAuditDrop counts one dropped audit record. Safe on a nil receiver.
func (m *Metrics) ObserveAuditDrop() {
	if m == nil {
		return
	}
	m.AuditDropsTotal.Inc()
}
