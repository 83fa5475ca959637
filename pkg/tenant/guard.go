package tenant

import (
	"fmt"
	"sync"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
)

// TenantIDField is the payload field the guard validates and stamps
const TenantIDField = "tenant_id"

// Guard owns the resource-ownership map and the active-context registry.
// A single Guard instance is shared by all concurrently in-flight requests;
// every structural mutation happens under the guard's mutex.
type Guard struct {
	mu        sync.Mutex
	resources map[string]string   // resource id -> owning tenant id
	active    map[string]*Context // request id -> context
	strict    bool
	closed    bool

	logger  *observability.Logger
	metrics *observability.Metrics
}

// GuardStats is a snapshot of the guard's registries
type GuardStats struct {
	RegisteredResources int            `json:"registered_resources"`
	ActiveContexts      int            `json:"active_contexts"`
	ResourcesPerTenant  map[string]int `json:"resources_per_tenant"`
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithStrictMode makes unregistered-resource access a hard error instead of
// auto-registering the resource to the caller's tenant
func WithStrictMode(strict bool) GuardOption {
	return func(g *Guard) { g.strict = strict }
}

// WithGuardLogger sets the guard's logger
func WithGuardLogger(logger *observability.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// WithGuardMetrics sets the guard's metrics
func WithGuardMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates an isolation guard. Guards default to lenient mode.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		resources: make(map[string]string),
		active:    make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = observability.NopLogger()
	}
	if g.metrics == nil {
		g.metrics = observability.NopMetrics()
	}
	return g
}

// Strict reports whether the guard is in strict mode
func (g *Guard) Strict() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strict
}

// RegisterContext registers the context as active for its request id.
// The caller must pair every successful registration with CleanupContext,
// typically via defer, so the registry holds no entries between requests.
func (g *Guard) RegisterContext(ctx *Context) error {
	if ctx == nil || ctx.TenantID == "" {
		return &IsolationError{Reason: "context missing tenant id"}
	}
	if ctx.RequestID == "" {
		return &IsolationError{TenantID: ctx.TenantID, Reason: "context missing request id"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return &IsolationError{TenantID: ctx.TenantID, Reason: "guard is closed"}
	}
	if _, exists := g.active[ctx.RequestID]; exists {
		g.logger.WithFields(map[string]interface{}{
			"request_id": ctx.RequestID,
			"tenant_id":  ctx.TenantID,
		}).Warn("replacing already-registered tenant context")
	}
	g.active[ctx.RequestID] = ctx
	g.metrics.ActiveContexts.Set(float64(len(g.active)))
	return nil
}

// CleanupContext removes the active context for the request id. It is a
// no-op for unknown ids so it is always safe to defer.
func (g *Guard) CleanupContext(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, requestID)
	g.metrics.ActiveContexts.Set(float64(len(g.active)))
}

// ActiveContext looks up the registered context for a request id
func (g *Guard) ActiveContext(requestID string) (*Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ctx, ok := g.active[requestID]
	return ctx, ok
}

// RegisterResource binds a resource to its owning tenant. Re-registering to
// the same tenant is a no-op; rebinding to a different tenant is a
// CrossTenantAccessError (first-write-wins).
func (g *Guard) RegisterResource(resourceID, tenantID string) error {
	if resourceID == "" || tenantID == "" {
		return &IsolationError{TenantID: tenantID, ResourceID: resourceID,
			Reason: "resource id and tenant id are required"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registerLocked(resourceID, tenantID)
}

// registerLocked requires g.mu held
func (g *Guard) registerLocked(resourceID, tenantID string) error {
	if owner, ok := g.resources[resourceID]; ok {
		if owner == tenantID {
			return nil
		}
		g.metrics.IsolationViolationsTotal.WithLabelValues("rebind_attempt").Inc()
		g.logger.WithFields(map[string]interface{}{
			"resource_id": resourceID,
			"owner":       owner,
			"tenant_id":   tenantID,
		}).Error("attempted rebinding of owned resource")
		return &CrossTenantAccessError{
			TenantID:      tenantID,
			OwnerTenantID: owner,
			ResourceID:    resourceID,
		}
	}
	g.resources[resourceID] = tenantID
	g.metrics.RegisteredResources.Set(float64(len(g.resources)))
	return nil
}

// UnregisterResource removes a resource binding. Explicit deletion is the
// only way to release an ownership entry.
func (g *Guard) UnregisterResource(resourceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.resources, resourceID)
	g.metrics.RegisteredResources.Set(float64(len(g.resources)))
}

// ResourceOwner returns the owning tenant of a resource, if registered
func (g *Guard) ResourceOwner(resourceID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	owner, ok := g.resources[resourceID]
	return owner, ok
}

// CheckResourceAccess verifies the resource belongs to the caller's tenant.
// In lenient mode an unregistered resource is auto-registered to the caller;
// in strict mode it is an IsolationError. Access to a resource owned by a
// different tenant is always a CrossTenantAccessError. On success the
// resource id is recorded in the context's accessed-resources trail.
func (g *Guard) CheckResourceAccess(resourceID string, ctx *Context, op Operation) error {
	if ctx == nil || ctx.TenantID == "" {
		return &IsolationError{ResourceID: resourceID, Reason: "no tenant context"}
	}
	if op == "" {
		op = "read"
	}

	g.mu.Lock()
	owner, registered := g.resources[resourceID]
	if !registered {
		if g.strict {
			g.metrics.IsolationViolationsTotal.WithLabelValues("unregistered_resource").Inc()
			g.mu.Unlock()
			return &IsolationError{
				TenantID:   ctx.TenantID,
				ResourceID: resourceID,
				Reason:     "resource not registered",
			}
		}
		// Lenient bootstrap: first toucher becomes the owner.
		if err := g.registerLocked(resourceID, ctx.TenantID); err != nil {
			g.mu.Unlock()
			return err
		}
		owner = ctx.TenantID
	}
	g.mu.Unlock()

	if owner != ctx.TenantID {
		g.metrics.IsolationViolationsTotal.WithLabelValues("cross_tenant_access").Inc()
		g.logger.WithFields(map[string]interface{}{
			"resource_id": resourceID,
			"owner":       owner,
			"tenant_id":   ctx.TenantID,
			"operation":   string(op),
		}).Error("cross-tenant access attempt")
		return &CrossTenantAccessError{
			TenantID:      ctx.TenantID,
			OwnerTenantID: owner,
			ResourceID:    resourceID,
			Operation:     op,
		}
	}

	ctx.RecordAccessedResource(resourceID)
	return nil
}

// ValidateTenantData checks that a payload's tenant_id field, if present,
// matches the caller's tenant, then stamps the field with the caller's
// tenant id. The stamp is idempotent. A tenant_id that is not a string is
// rejected rather than overwritten.
func (g *Guard) ValidateTenantData(data map[string]interface{}, ctx *Context) error {
	if ctx == nil || ctx.TenantID == "" {
		return &IsolationError{Reason: "no tenant context"}
	}
	if data == nil {
		return nil
	}

	if raw, ok := data[TenantIDField]; ok {
		claimed, isString := raw.(string)
		if !isString {
			g.metrics.IsolationViolationsTotal.WithLabelValues("data_mismatch").Inc()
			return &IsolationError{
				TenantID: ctx.TenantID,
				Reason:   fmt.Sprintf("tenant_id field has non-string type %T", raw),
			}
		}
		if claimed != "" && claimed != ctx.TenantID {
			g.metrics.IsolationViolationsTotal.WithLabelValues("data_mismatch").Inc()
			return &CrossTenantAccessError{
				TenantID:      ctx.TenantID,
				OwnerTenantID: claimed,
			}
		}
	}
	data[TenantIDField] = ctx.TenantID
	return nil
}

// FilterTenantData returns only the items owned by the caller's tenant.
// It is safe to call on data that should already be tenant-scoped; in strict
// mode every filtered-out item is logged as a cross-tenant leak attempt.
func (g *Guard) FilterTenantData(items []map[string]interface{}, ctx *Context) []map[string]interface{} {
	if ctx == nil || ctx.TenantID == "" {
		return nil
	}

	filtered := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		owner, _ := item[TenantIDField].(string)
		if owner == ctx.TenantID {
			filtered = append(filtered, item)
			continue
		}
		if g.Strict() {
			g.metrics.IsolationViolationsTotal.WithLabelValues("filtered_leak").Inc()
			g.logger.WithFields(map[string]interface{}{
				"tenant_id": ctx.TenantID,
				"owner":     owner,
			}).Warn("filtered cross-tenant item from result set")
		}
	}
	return filtered
}

// Stats returns a snapshot of the guard's registries
func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	perTenant := make(map[string]int)
	for _, owner := range g.resources {
		perTenant[owner]++
	}
	return GuardStats{
		RegisteredResources: len(g.resources),
		ActiveContexts:      len(g.active),
		ResourcesPerTenant:  perTenant,
	}
}

// Close clears both registries. The guard must not be used after Close.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = make(map[string]string)
	g.active = make(map[string]*Context)
	g.closed = true
	g.metrics.ActiveContexts.Set(0)
	g.metrics.RegisteredResources.Set(0)
}
