// Package ratelimit provides per-tenant admission throttling: a lazily
// refilled token bucket guarding bursts, three sliding windows guarding
// sustained throughput at second, minute and hour granularity, and an
// adaptive wrapper that scales a tenant's limits with reported system load
// and recent error rate. All state is in-memory; distributed counters are a
// caller concern.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

type granularity struct {
	name   string
	window time.Duration
	limit  func(Config) int
}

// Checked in increasing window-size order; the first gate at or over its
// limit rejects.
var granularities = []granularity{
	{"second", time.Second, func(c Config) int { return c.RequestsPerSecond }},
	{"minute", time.Minute, func(c Config) int { return c.RequestsPerMinute }},
	{"hour", time.Hour, func(c Config) int { return c.RequestsPerHour }},
}

// Limiter enforces rate limits per tenant and operation. One mutex guards
// all structural state; checks are in-memory and never block on I/O.
type Limiter struct {
	mu            sync.Mutex
	defaultConfig Config
	tenantConfigs map[string]Config
	buckets       map[string]*tokenBucket
	windows       map[string]*slidingWindow
	allowed       map[string]int64
	rejected      map[string]int64

	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// LimiterOption configures a Limiter
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the wall clock, for tests
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithLimiterLogger sets the limiter's logger
func WithLimiterLogger(logger *observability.Logger) LimiterOption {
	return func(l *Limiter) { l.logger = logger }
}

// WithLimiterMetrics sets the limiter's metrics
func WithLimiterMetrics(m *observability.Metrics) LimiterOption {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter creates a limiter with the given default config, applied to
// tenants without an explicit override
func NewLimiter(defaultConfig Config, opts ...LimiterOption) (*Limiter, error) {
	if err := defaultConfig.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		defaultConfig: defaultConfig,
		tenantConfigs: make(map[string]Config),
		buckets:       make(map[string]*tokenBucket),
		windows:       make(map[string]*slidingWindow),
		allowed:       make(map[string]int64),
		rejected:      make(map[string]int64),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = observability.NopLogger()
	}
	if l.metrics == nil {
		l.metrics = observability.NopMetrics()
	}
	return l, nil
}

// Check admits or rejects a request costing tokens (minimum 1). The token
// bucket is consulted first, then the sliding windows from second to hour;
// no window records the request unless every gate passes.
func (l *Limiter) Check(tenantID string, op tenant.Operation, tokens int) error {
	if tokens <= 0 {
		tokens = 1
	}
	start := time.Now()
	defer func() {
		l.metrics.RateLimitCheckDuration.Observe(time.Since(start).Seconds())
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cfg := l.configLocked(tenantID)

	bucket := l.bucketLocked(tenantID, op, cfg, now)
	if ok, retryAfter := bucket.consume(float64(tokens), now); !ok {
		return l.rejectLocked(tenantID, op, "bucket", retryAfter)
	}

	wins := make([]*slidingWindow, len(granularities))
	for i, g := range granularities {
		w := l.windowLocked(tenantID, op, g, now)
		if w.count(now) >= g.limit(cfg) {
			return l.rejectLocked(tenantID, op, g.name, g.window)
		}
		wins[i] = w
	}
	for _, w := range wins {
		w.record(now)
	}

	l.allowed[tenantID]++
	l.metrics.RateLimitChecksTotal.WithLabelValues("allowed").Inc()
	return nil
}

func (l *Limiter) rejectLocked(tenantID string, op tenant.Operation, gate string, retryAfter time.Duration) error {
	l.rejected[tenantID]++
	l.metrics.RateLimitChecksTotal.WithLabelValues("rejected").Inc()
	l.metrics.RateLimitRejectionsTotal.WithLabelValues(gate).Inc()
	l.logger.WithFields(map[string]interface{}{
		"tenant_id":   tenantID,
		"operation":   string(op),
		"gate":        gate,
		"retry_after": retryAfter.String(),
	}).Debug("rate limit exceeded")
	return &LimitExceededError{
		TenantID:   tenantID,
		Operation:  op,
		Gate:       gate,
		RetryAfter: retryAfter,
	}
}

// BucketStatus describes the token bucket's current state
type BucketStatus struct {
	Capacity   float64 `json:"capacity"`
	Available  float64 `json:"available"`
	RefillRate float64 `json:"refill_rate"`
}

// WindowStatus describes one sliding-window gate's current state
type WindowStatus struct {
	Granularity string    `json:"granularity"`
	Limit       int       `json:"limit"`
	Used        int       `json:"used"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
}

// Status is a point-in-time report for one tenant and operation
type Status struct {
	Bucket  BucketStatus   `json:"bucket"`
	Windows []WindowStatus `json:"windows"`
}

// Status reports current bucket and window state without admitting or
// recording anything. Stale window entries are evicted as a side effect of
// the read.
func (l *Limiter) Status(tenantID string, op tenant.Operation) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cfg := l.configLocked(tenantID)

	bucket := l.bucketLocked(tenantID, op, cfg, now)
	st := Status{
		Bucket: BucketStatus{
			Capacity:   bucket.capacity,
			Available:  bucket.available(now),
			RefillRate: bucket.refillRate,
		},
	}

	for _, g := range granularities {
		w := l.windowLocked(tenantID, op, g, now)
		used := w.count(now)
		limit := g.limit(cfg)
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		resetAt := now
		if oldest := w.oldest(); !oldest.IsZero() {
			resetAt = oldest.Add(g.window)
		}
		st.Windows = append(st.Windows, WindowStatus{
			Granularity: g.name,
			Limit:       limit,
			Used:        used,
			Remaining:   remaining,
			ResetAt:     resetAt,
		})
	}
	return st
}

// SetTenantConfig replaces the tenant's config and resets the tenant's
// bucket and windows. Partial quota never carries across a config change.
func (l *Limiter) SetTenantConfig(tenantID string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tenantConfigs[tenantID] = cfg
	l.resetTenantLocked(tenantID)
	return nil
}

// SetDefaultConfig replaces the default config applied to tenants without
// an explicit override. Existing buckets and windows are untouched; they
// pick up the new limits as they are recreated.
func (l *Limiter) SetDefaultConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultConfig = cfg
	return nil
}

// RemoveTenantConfig drops the tenant's override, reverting it to the
// default config, and resets the tenant's bucket and windows
func (l *Limiter) RemoveTenantConfig(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tenantConfigs, tenantID)
	l.resetTenantLocked(tenantID)
}

// TenantConfig returns the tenant's explicit override, if any
func (l *Limiter) TenantConfig(tenantID string) (Config, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg, ok := l.tenantConfigs[tenantID]
	return cfg, ok
}

// TenantStats summarizes one tenant's limiter state
type TenantStats struct {
	TenantID      string `json:"tenant_id"`
	Allowed       int64  `json:"allowed"`
	Rejected      int64  `json:"rejected"`
	Config        Config `json:"config"`
	ActiveBuckets int    `json:"active_buckets"`
	ActiveWindows int    `json:"active_windows"`
}

// GetTenantStats reports allowed/rejected counters and active state for a
// tenant. Snapshot-consistent, not linearizable.
func (l *Limiter) GetTenantStats(tenantID string) TenantStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := TenantStats{
		TenantID: tenantID,
		Allowed:  l.allowed[tenantID],
		Rejected: l.rejected[tenantID],
		Config:   l.configLocked(tenantID),
	}
	prefix := tenantID + ":"
	for key := range l.buckets {
		if strings.HasPrefix(key, prefix) {
			stats.ActiveBuckets++
		}
	}
	for key := range l.windows {
		if strings.HasPrefix(key, prefix) {
			stats.ActiveWindows++
		}
	}
	return stats
}

// Cleanup drops buckets and windows untouched for longer than maxIdle and
// returns how many entries were removed. Meant to run on a janitor schedule.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-maxIdle)
	removed := 0
	for key, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	for key, w := range l.windows {
		w.evict(now)
		if len(w.times) == 0 && w.lastTouch.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.WithField("removed", removed).Debug("rate limiter idle state cleaned up")
	}
	return removed
}

func (l *Limiter) configLocked(tenantID string) Config {
	if cfg, ok := l.tenantConfigs[tenantID]; ok {
		return cfg
	}
	return l.defaultConfig
}

func (l *Limiter) bucketLocked(tenantID string, op tenant.Operation, cfg Config, now time.Time) *tokenBucket {
	key := fmt.Sprintf("%s:%s", tenantID, op)
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(cfg.BurstCapacity, cfg.RefillRate, now)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) windowLocked(tenantID string, op tenant.Operation, g granularity, now time.Time) *slidingWindow {
	key := fmt.Sprintf("%s:%s:%s", tenantID, op, g.name)
	w, ok := l.windows[key]
	if !ok {
		w = newSlidingWindow(g.window)
		w.lastTouch = now
		l.windows[key] = w
	}
	return w
}

func (l *Limiter) resetTenantLocked(tenantID string) {
	prefix := tenantID + ":"
	for key := range l.buckets {
		if strings.HasPrefix(key, prefix) {
			delete(l.buckets, key)
		}
	}
	for key := range l.windows {
		if strings.HasPrefix(key, prefix) {
			delete(l.windows, key)
		}
	}
}
