package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

const (
	minLoadFactor = 0.1
	maxLoadFactor = 2.0

	errorHistorySize = 100
	errorRateWindow  = 300 * time.Second
)

type errorRecord struct {
	at   time.Time
	kind string
}

// AdaptiveLimiter wraps a Limiter and scales each tenant's config with the
// reported system load and that tenant's recent error rate. The derived
// config is installed only for the duration of a single check and the prior
// config is restored unconditionally afterward.
type AdaptiveLimiter struct {
	base *Limiter

	mu         sync.Mutex
	loadFactor float64
	errors     map[string][]errorRecord
	checkLocks map[string]*sync.Mutex

	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// AdaptiveOption configures an AdaptiveLimiter
type AdaptiveOption func(*AdaptiveLimiter)

// WithAdaptiveClock overrides the wall clock, for tests
func WithAdaptiveClock(now func() time.Time) AdaptiveOption {
	return func(a *AdaptiveLimiter) { a.now = now }
}

// WithAdaptiveLogger sets the adaptive limiter's logger
func WithAdaptiveLogger(logger *observability.Logger) AdaptiveOption {
	return func(a *AdaptiveLimiter) { a.logger = logger }
}

// WithAdaptiveMetrics sets the adaptive limiter's metrics
func WithAdaptiveMetrics(m *observability.Metrics) AdaptiveOption {
	return func(a *AdaptiveLimiter) { a.metrics = m }
}

// NewAdaptiveLimiter wraps base with a system load factor of 1.0
func NewAdaptiveLimiter(base *Limiter, opts ...AdaptiveOption) *AdaptiveLimiter {
	a := &AdaptiveLimiter{
		base:       base,
		loadFactor: 1.0,
		errors:     make(map[string][]errorRecord),
		checkLocks: make(map[string]*sync.Mutex),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = observability.NopLogger()
	}
	if a.metrics == nil {
		a.metrics = observability.NopMetrics()
	}
	return a
}

// UpdateSystemLoad records an externally-reported load factor, clamped to
// [0.1, 2.0]. Values above 1.0 shrink tenant limits, values below grow them.
func (a *AdaptiveLimiter) UpdateSystemLoad(factor float64) {
	clamped := math.Min(maxLoadFactor, math.Max(minLoadFactor, factor))
	a.mu.Lock()
	a.loadFactor = clamped
	a.mu.Unlock()
	a.logger.WithField("load_factor", clamped).Debug("system load updated")
}

// SystemLoad returns the current clamped load factor
func (a *AdaptiveLimiter) SystemLoad() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadFactor
}

// RecordError appends a timestamped error to the tenant's bounded history.
// Only the most recent 100 errors per tenant are retained.
func (a *AdaptiveLimiter) RecordError(tenantID, errorType string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := append(a.errors[tenantID], errorRecord{at: a.now(), kind: errorType})
	if len(history) > errorHistorySize {
		history = history[len(history)-errorHistorySize:]
	}
	a.errors[tenantID] = history
}

// RecentErrors counts the tenant's errors inside the trailing error-rate
// window
func (a *AdaptiveLimiter) RecentErrors(tenantID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recentErrorsLocked(tenantID, a.now())
}

func (a *AdaptiveLimiter) recentErrorsLocked(tenantID string, now time.Time) int {
	cutoff := now.Add(-errorRateWindow)
	n := 0
	for _, rec := range a.errors[tenantID] {
		if !rec.at.Before(cutoff) {
			n++
		}
	}
	return n
}

// AdaptiveConfig derives the tenant's load-adjusted config. The adjustment
// factor is (1/load) * max(0.1, 1 - error_rate*10), where error_rate is the
// count of errors in the trailing 300 seconds divided by 300. Integer fields
// are floored, with a floor of 1 so the derived config stays valid.
func (a *AdaptiveLimiter) AdaptiveConfig(tenantID string) Config {
	a.mu.Lock()
	load := a.loadFactor
	recent := a.recentErrorsLocked(tenantID, a.now())
	a.mu.Unlock()

	errorRate := float64(recent) / errorRateWindow.Seconds()
	factor := (1 / load) * math.Max(0.1, 1-errorRate*10)
	a.metrics.AdaptiveAdjustmentFactor.WithLabelValues(tenantID).Set(factor)

	base := a.baseConfig(tenantID)
	return Config{
		RequestsPerSecond: scaleInt(base.RequestsPerSecond, factor),
		RequestsPerMinute: scaleInt(base.RequestsPerMinute, factor),
		RequestsPerHour:   scaleInt(base.RequestsPerHour, factor),
		BurstCapacity:     scaleInt(base.BurstCapacity, factor),
		WindowSeconds:     scaleInt(base.WindowSeconds, factor),
		RefillRate:        base.RefillRate * factor,
	}
}

// Check installs the derived config, runs the base check, and restores the
// tenant's prior state. The restore runs on every path out of the check.
// Checks for the same tenant are serialized so an overlapping check can
// never capture a derived config as the tenant's prior state.
func (a *AdaptiveLimiter) Check(tenantID string, op tenant.Operation, tokens int) error {
	lock := a.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	derived := a.AdaptiveConfig(tenantID)
	prior, hadOverride := a.base.TenantConfig(tenantID)

	if err := a.base.SetTenantConfig(tenantID, derived); err != nil {
		return err
	}
	defer func() {
		if hadOverride {
			_ = a.base.SetTenantConfig(tenantID, prior)
		} else {
			a.base.RemoveTenantConfig(tenantID)
		}
	}()

	return a.base.Check(tenantID, op, tokens)
}

// tenantLock returns the mutex serializing swap-and-restore for one tenant
func (a *AdaptiveLimiter) tenantLock(tenantID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.checkLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		a.checkLocks[tenantID] = l
	}
	return l
}

func (a *AdaptiveLimiter) baseConfig(tenantID string) Config {
	a.base.mu.Lock()
	defer a.base.mu.Unlock()
	return a.base.configLocked(tenantID)
}

func scaleInt(v int, factor float64) int {
	scaled := int(math.Floor(float64(v) * factor))
	if scaled < 1 {
		return 1
	}
	return scaled
}
