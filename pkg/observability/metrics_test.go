package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if metrics.DecisionsTotal == nil {
		t.Error("DecisionsTotal is nil")
	}
	if metrics.PolicyFaultsTotal == nil {
		t.Error("PolicyFaultsTotal is nil")
	}
	if metrics.RateLimitChecksTotal == nil {
		t.Error("RateLimitChecksTotal is nil")
	}
	if metrics.RateLimitRejectionsTotal == nil {
		t.Error("RateLimitRejectionsTotal is nil")
	}
	if metrics.IsolationViolationsTotal == nil {
		t.Error("IsolationViolationsTotal is nil")
	}
	if metrics.ActiveContexts == nil {
		t.Error("ActiveContexts is nil")
	}
	if metrics.AuditEntriesTotal == nil {
		t.Error("AuditEntriesTotal is nil")
	}
	if metrics.AdmissionsTotal == nil {
		t.Error("AdmissionsTotal is nil")
	}
}

func TestNewMetrics_AllRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	// Touch each vector so it shows up in a gather pass.
	metrics.DecisionsTotal.WithLabelValues("ALLOW", "deny_overrides").Inc()
	metrics.PolicyFaultsTotal.WithLabelValues("p1").Inc()
	metrics.EvaluationDuration.WithLabelValues("deny_overrides").Observe(0.001)
	metrics.RateLimitChecksTotal.WithLabelValues("allowed").Inc()
	metrics.RateLimitRejectionsTotal.WithLabelValues("bucket").Inc()
	metrics.AdaptiveAdjustmentFactor.WithLabelValues("tenant-a").Set(0.5)
	metrics.IsolationViolationsTotal.WithLabelValues("cross_tenant_access").Inc()
	metrics.AdmissionsTotal.WithLabelValues("rate", "rejected").Inc()
	metrics.AdmissionDuration.WithLabelValues("rejected").Observe(0.002)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 17 {
		t.Errorf("Expected 17 metric families, got %d", len(families))
	}
}

func TestMetrics_CountersAndGauges(t *testing.T) {
	metrics := NopMetrics()

	metrics.DecisionCacheHitsTotal.Inc()
	metrics.DecisionCacheHitsTotal.Inc()
	if got := testutil.ToFloat64(metrics.DecisionCacheHitsTotal); got != 2 {
		t.Errorf("Expected 2 cache hits, got %v", got)
	}

	metrics.ActiveContexts.Set(3)
	if got := testutil.ToFloat64(metrics.ActiveContexts); got != 3 {
		t.Errorf("Expected 3 active contexts, got %v", got)
	}

	metrics.IsolationViolationsTotal.WithLabelValues("rebind_attempt").Inc()
	if got := testutil.ToFloat64(metrics.IsolationViolationsTotal.WithLabelValues("rebind_attempt")); got != 1 {
		t.Errorf("Expected 1 rebind violation, got %v", got)
	}
}

func TestObserveAdmission(t *testing.T) {
	metrics := NopMetrics()

	start := time.Now().Add(-10 * time.Millisecond)
	metrics.ObserveAdmission("authorization", "allowed", start)
	metrics.ObserveAdmission("authorization", "allowed", start)
	metrics.ObserveAdmission("isolation", "rejected", start)

	if got := testutil.ToFloat64(metrics.AdmissionsTotal.WithLabelValues("authorization", "allowed")); got != 2 {
		t.Errorf("Expected 2 allowed admissions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.AdmissionsTotal.WithLabelValues("isolation", "rejected")); got != 1 {
		t.Errorf("Expected 1 rejected admission, got %v", got)
	}
}

func TestNopMetrics_IsolatedRegistries(t *testing.T) {
	a := NopMetrics()
	b := NopMetrics()

	a.AuditEntriesTotal.Inc()
	if got := testutil.ToFloat64(b.AuditEntriesTotal); got != 0 {
		t.Errorf("Expected independent registries, got %v", got)
	}
}
