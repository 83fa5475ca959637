// Package audit provides the in-memory audit trail for authorization
// decisions. The log is an ordered sequence capped at a maximum entry count;
// on overflow it is batch-trimmed to the most recent half rather than
// evicting one entry at a time, bounding both memory and trim frequency.
// Entries are never persisted.
package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// Default capacity bounds for the in-memory log
const (
	DefaultMaxEntries  = 10000
	DefaultTrimEntries = 5000
)

// Entry is a single audit record for one authorization check
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	TenantID     string                 `json:"tenant_id"`
	UserID       string                 `json:"user_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Operation    tenant.Operation       `json:"operation"`
	ResourceType tenant.ResourceType    `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Decision     string                 `json:"decision"`
	Reason       string                 `json:"reason,omitempty"`
	PolicyID     string                 `json:"policy_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Filter selects entries from the log. Zero values match everything.
type Filter struct {
	TenantID     string
	UserID       string
	Operation    tenant.Operation
	ResourceType tenant.ResourceType
	ResourceID   string
	Decision     string
	PolicyID     string
	Since        time.Time
	Until        time.Time
}

func (f Filter) matches(e *Entry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Decision != "" && !strings.EqualFold(e.Decision, f.Decision) {
		return false
	}
	if f.PolicyID != "" && e.PolicyID != f.PolicyID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Stats summarizes the retained entries
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	ByDecision   map[string]int `json:"by_decision"`
	ByTenant     map[string]int `json:"by_tenant"`
	OldestEntry  time.Time      `json:"oldest_entry,omitzero"`
	NewestEntry  time.Time      `json:"newest_entry,omitzero"`
}

// Log is the bounded in-memory audit log. All mutations run under the log's
// mutex; reads return copies so callers never alias internal state.
type Log struct {
	mu      sync.Mutex
	entries []*Entry
	max     int
	trimTo  int

	logger  *observability.Logger
	metrics *observability.Metrics
}

// LogOption configures a Log
type LogOption func(*Log)

// WithCapacity overrides the overflow cap and post-trim size
func WithCapacity(max, trimTo int) LogOption {
	return func(l *Log) {
		if max > 0 && trimTo > 0 && trimTo <= max {
			l.max = max
			l.trimTo = trimTo
		}
	}
}

// WithLogLogger sets the log's logger
func WithLogLogger(logger *observability.Logger) LogOption {
	return func(l *Log) { l.logger = logger }
}

// WithLogMetrics sets the log's metrics
func WithLogMetrics(m *observability.Metrics) LogOption {
	return func(l *Log) { l.metrics = m }
}

// NewLog creates an audit log with the default 10,000/5,000 capacity bounds
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		max:    DefaultMaxEntries,
		trimTo: DefaultTrimEntries,
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
	return l
}

// Append stamps the entry with an id and timestamp (when unset) and appends
// it, trimming the log to the most recent trimTo entries on overflow.
func (l *Log) Append(e *Entry) {
	if e == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	l.metrics.AuditEntriesTotal.Inc()

	if len(l.entries) > l.max {
		// Batch trim, not a ring buffer: drop the oldest half in one move.
		keep := l.entries[len(l.entries)-l.trimTo:]
		trimmed := make([]*Entry, len(keep))
		copy(trimmed, keep)
		l.entries = trimmed
		l.metrics.AuditTrimsTotal.Inc()
		l.logger.WithField("retained", len(trimmed)).Debug("audit log trimmed after overflow")
	}
	l.metrics.AuditLogSize.Set(float64(len(l.entries)))
}

// Search returns up to limit matching entries, newest first. limit <= 0
// means no limit.
func (l *Log) Search(filter Filter, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if filter.matches(l.entries[i]) {
			out = append(out, *l.entries[i])
		}
	}
	return out
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// GetStats summarizes the retained entries
func (l *Log) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		TotalEntries: len(l.entries),
		ByDecision:   make(map[string]int),
		ByTenant:     make(map[string]int),
	}
	for _, e := range l.entries {
		stats.ByDecision[e.Decision]++
		stats.ByTenant[e.TenantID]++
	}
	if len(l.entries) > 0 {
		stats.OldestEntry = l.entries[0].Timestamp
		stats.NewestEntry = l.entries[len(l.entries)-1].Timestamp
	}
	return stats
}

// Close releases the retained entries. The log remains usable but empty.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.metrics.AuditLogSize.Set(0)
}
