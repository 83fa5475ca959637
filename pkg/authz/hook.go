// Package authz provides the authorization hook: the entry point request
// handlers call to get an admission decision from the policy decision point,
// with every check recorded in the audit trail. Reading the audit trail is
// itself an authorized, tenant-scoped operation.
package authz

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/michaelayoade/dotmac-governance/pkg/audit"
	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// DeniedError reports an authorization denial to callers that want an error
// instead of inspecting the Result
type DeniedError struct {
	Result policy.Result
}

func (e *DeniedError) Error() string {
	if e.Result.PolicyID != "" {
		return fmt.Sprintf("authorization denied by policy %s: %s", e.Result.PolicyID, e.Result.Reason)
	}
	return fmt.Sprintf("authorization denied: %s", e.Result.Reason)
}

// Hook wraps a decision point with audit logging and an optional expirable
// decision cache.
type Hook struct {
	pdp      *policy.DecisionPoint
	auditLog *audit.Log
	cache    *lru.LRU[string, policy.Result]

	logger  *observability.Logger
	metrics *observability.Metrics
}

// HookOption configures a Hook
type HookOption func(*Hook)

// WithHookLogger sets the hook's logger
func WithHookLogger(logger *observability.Logger) HookOption {
	return func(h *Hook) { h.logger = logger }
}

// WithHookMetrics sets the hook's metrics
func WithHookMetrics(m *observability.Metrics) HookOption {
	return func(h *Hook) { h.metrics = m }
}

// WithDecisionCache enables a TTL-bounded LRU cache of decisions for checks
// that carry no per-request attribute bags. Disabled by default: time-based
// policies mean cached decisions go stale, so the TTL should stay short.
func WithDecisionCache(size int, ttl time.Duration) HookOption {
	return func(h *Hook) {
		if size > 0 && ttl > 0 {
			h.cache = lru.NewLRU[string, policy.Result](size, nil, ttl)
		}
	}
}

// NewHook creates an authorization hook over the decision point and audit log
func NewHook(pdp *policy.DecisionPoint, auditLog *audit.Log, opts ...HookOption) *Hook {
	h := &Hook{pdp: pdp, auditLog: auditLog}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = observability.NopLogger()
	}
	if h.metrics == nil {
		h.metrics = observability.NopMetrics()
	}
	return h
}

// CheckAuthorization builds a fresh evaluation context, asks the decision
// point for a verdict, and appends an audit entry. The returned Result is
// never an error: faults inside individual policies are contained by the
// decision point and the overall decision fails closed.
func (h *Hook) CheckAuthorization(tctx *tenant.Context, op tenant.Operation, rt tenant.ResourceType,
	resourceID string, resourceAttrs, requestAttrs map[string]interface{}) policy.Result {

	cacheable := h.cache != nil && len(resourceAttrs) == 0 && len(requestAttrs) == 0
	var key string
	if cacheable {
		key = cacheKey(tctx, op, rt, resourceID)
		if cached, ok := h.cache.Get(key); ok {
			h.metrics.DecisionCacheHitsTotal.Inc()
			h.appendEntry(tctx, op, rt, resourceID, cached)
			return cached
		}
		h.metrics.DecisionCacheMissTotal.Inc()
	}

	ec := policy.NewEvaluationContext(tctx, op, rt, resourceID, resourceAttrs, requestAttrs)
	result := h.pdp.Evaluate(ec)

	if cacheable {
		h.cache.Add(key, result)
	}
	h.appendEntry(tctx, op, rt, resourceID, result)

	if !result.Allowed() {
		h.logger.WithFields(map[string]interface{}{
			"tenant_id": tctx.TenantID,
			"operation": string(op),
			"policy_id": result.PolicyID,
			"reason":    result.Reason,
		}).Info("authorization denied")
	}
	return result
}

// Authorize is CheckAuthorization with denial surfaced as a DeniedError
func (h *Hook) Authorize(tctx *tenant.Context, op tenant.Operation, rt tenant.ResourceType,
	resourceID string, resourceAttrs, requestAttrs map[string]interface{}) (policy.Result, error) {

	result := h.CheckAuthorization(tctx, op, rt, resourceID, resourceAttrs, requestAttrs)
	if !result.Allowed() {
		return result, &DeniedError{Result: result}
	}
	return result, nil
}

// GetAuditLog returns audit entries visible to the caller. The query itself
// requires view-logs authorization on the tenant resource, and callers
// without the super_admin role are hard-scoped to their own tenant's
// entries regardless of the requested filter.
func (h *Hook) GetAuditLog(tctx *tenant.Context, limit int, filter audit.Filter) ([]audit.Entry, error) {
	result := h.CheckAuthorization(tctx, tenant.OpViewLogs, tenant.ResourceTenant, "", nil, nil)
	if !result.Allowed() {
		return nil, &DeniedError{Result: result}
	}

	if !tctx.IsSuperAdmin() {
		filter.TenantID = tctx.TenantID
	}
	return h.auditLog.Search(filter, limit), nil
}

// AuditStats returns audit statistics; like GetAuditLog it is gated on
// view-logs authorization but the aggregate counts are not tenant-scoped,
// so only super_admin callers may request them.
func (h *Hook) AuditStats(tctx *tenant.Context) (audit.Stats, error) {
	result := h.CheckAuthorization(tctx, tenant.OpViewLogs, tenant.ResourceTenant, "", nil, nil)
	if !result.Allowed() {
		return audit.Stats{}, &DeniedError{Result: result}
	}
	if !tctx.IsSuperAdmin() {
		return audit.Stats{}, &DeniedError{Result: policy.Result{
			Decision: policy.Deny,
			Reason:   "aggregate audit statistics require the super_admin role",
		}}
	}
	return h.auditLog.GetStats(), nil
}

func (h *Hook) appendEntry(tctx *tenant.Context, op tenant.Operation, rt tenant.ResourceType,
	resourceID string, result policy.Result) {

	h.auditLog.Append(&audit.Entry{
		TenantID:     tctx.TenantID,
		UserID:       tctx.UserID,
		RequestID:    tctx.RequestID,
		Operation:    op,
		ResourceType: rt,
		ResourceID:   resourceID,
		Decision:     string(result.Decision),
		Reason:       result.Reason,
		PolicyID:     result.PolicyID,
		IPAddress:    tctx.IPAddress,
		UserAgent:    tctx.UserAgent,
	})
}

func cacheKey(tctx *tenant.Context, op tenant.Operation, rt tenant.ResourceType, resourceID string) string {
	return strings.Join([]string{
		tctx.TenantID,
		tctx.UserID,
		strings.Join(tctx.Roles, ","),
		string(op),
		string(rt),
		resourceID,
	}, "|")
}
