package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the governance core
type Metrics struct {
	// Authorization metrics
	DecisionsTotal         *prometheus.CounterVec
	PolicyFaultsTotal      *prometheus.CounterVec
	EvaluationDuration     *prometheus.HistogramVec
	DecisionCacheHitsTotal prometheus.Counter
	DecisionCacheMissTotal prometheus.Counter

	// Rate limit metrics
	RateLimitChecksTotal     *prometheus.CounterVec
	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitCheckDuration   prometheus.Histogram
	AdaptiveAdjustmentFactor *prometheus.GaugeVec

	// Tenant isolation metrics
	IsolationViolationsTotal *prometheus.CounterVec
	ActiveContexts           prometheus.Gauge
	RegisteredResources      prometheus.Gauge

	// Audit metrics
	AuditEntriesTotal prometheus.Counter
	AuditTrimsTotal   prometheus.Counter
	AuditLogSize      prometheus.Gauge

	// Pipeline metrics
	AdmissionsTotal   *prometheus.CounterVec
	AdmissionDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all governance Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_authz_decisions_total",
				Help: "Total authorization decisions by decision and combining algorithm",
			},
			[]string{"decision", "algorithm"},
		),
		PolicyFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_authz_policy_faults_total",
				Help: "Total policy evaluation faults (errored or panicking policies)",
			},
			[]string{"policy_id"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_authz_evaluation_duration_seconds",
				Help:    "Authorization evaluation duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1},
			},
			[]string{"algorithm"},
		),
		DecisionCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_authz_decision_cache_hits_total",
				Help: "Total decision cache hits",
			},
		),
		DecisionCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_authz_decision_cache_misses_total",
				Help: "Total decision cache misses",
			},
		),
		RateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_ratelimit_checks_total",
				Help: "Total rate limit checks by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_ratelimit_rejections_total",
				Help: "Total rate limit rejections by limiting gate",
			},
			[]string{"gate"},
		),
		RateLimitCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "governance_ratelimit_check_duration_seconds",
				Help:    "Rate limit check duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .005, .01},
			},
		),
		AdaptiveAdjustmentFactor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governance_ratelimit_adaptive_adjustment_factor",
				Help: "Current adaptive rate limit adjustment factor per tenant",
			},
			[]string{"tenant_id"},
		),
		IsolationViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_tenant_isolation_violations_total",
				Help: "Total tenant isolation violations by kind",
			},
			[]string{"kind"},
		),
		ActiveContexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governance_tenant_active_contexts",
				Help: "Number of currently registered tenant contexts",
			},
		),
		RegisteredResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governance_tenant_registered_resources",
				Help: "Number of resources bound to a tenant",
			},
		),
		AuditEntriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_audit_entries_total",
				Help: "Total audit entries appended",
			},
		),
		AuditTrimsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "governance_audit_trims_total",
				Help: "Total audit log overflow trims",
			},
		),
		AuditLogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governance_audit_log_size",
				Help: "Current number of retained audit entries",
			},
		),
		AdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_admissions_total",
				Help: "Total admission pipeline outcomes by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		AdmissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governance_admission_duration_seconds",
				Help:    "Full admission pipeline duration in seconds",
				Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5},
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.DecisionsTotal,
		m.PolicyFaultsTotal,
		m.EvaluationDuration,
		m.DecisionCacheHitsTotal,
		m.DecisionCacheMissTotal,
		m.RateLimitChecksTotal,
		m.RateLimitRejectionsTotal,
		m.RateLimitCheckDuration,
		m.AdaptiveAdjustmentFactor,
		m.IsolationViolationsTotal,
		m.ActiveContexts,
		m.RegisteredResources,
		m.AuditEntriesTotal,
		m.AuditTrimsTotal,
		m.AuditLogSize,
		m.AdmissionsTotal,
		m.AdmissionDuration,
	)

	return m
}

// NopMetrics returns a metrics set backed by a throwaway registry.
// Useful in tests and for components constructed without observability wiring.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveAdmission records one admission pipeline outcome and its duration
func (m *Metrics) ObserveAdmission(stage, outcome string, start time.Time) {
	m.AdmissionsTotal.WithLabelValues(stage, outcome).Inc()
	m.AdmissionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
