package authz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelayoade/dotmac-governance/pkg/audit"
	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

func newTestHook(t *testing.T, opts ...HookOption) (*Hook, *audit.Log) {
	t.Helper()
	pdp, err := policy.NewDecisionPoint(policy.DenyOverrides)
	require.NoError(t, err)
	pdp.AddPolicy(policy.NewRoleBasedPolicy("rbac", 100, policy.DefaultRoleGrants()))

	log := audit.NewLog()
	return NewHook(pdp, log, opts...), log
}

func ctxWithRoles(tenantID, userID string, roles ...string) *tenant.Context {
	tctx := tenant.NewContext(tenantID)
	tctx.UserID = userID
	tctx.Roles = roles
	return tctx
}

func TestCheckAuthorization_AllowAndDeny(t *testing.T) {
	hook, _ := newTestHook(t)

	admin := ctxWithRoles("t1", "u1", tenant.RoleAdmin)
	result := hook.CheckAuthorization(admin, tenant.OpDeleteWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	assert.True(t, result.Allowed())

	viewer := ctxWithRoles("t1", "u2", tenant.RoleViewer)
	result = hook.CheckAuthorization(viewer, tenant.OpDeleteWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	assert.Equal(t, policy.Deny, result.Decision)
}

func TestCheckAuthorization_EveryCheckIsAudited(t *testing.T) {
	hook, log := newTestHook(t)

	admin := ctxWithRoles("t1", "u1", tenant.RoleAdmin)
	viewer := ctxWithRoles("t1", "u2", tenant.RoleViewer)
	hook.CheckAuthorization(admin, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	hook.CheckAuthorization(viewer, tenant.OpDeleteWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)

	entries := log.Search(audit.Filter{}, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "DENY", entries[0].Decision)
	assert.Equal(t, "u2", entries[0].UserID)
	assert.Equal(t, "ALLOW", entries[1].Decision)
	assert.Equal(t, tenant.OpReadWorkflow, entries[1].Operation)
}

func TestAuthorize_DeniedError(t *testing.T) {
	hook, _ := newTestHook(t)

	viewer := ctxWithRoles("t1", "u1", tenant.RoleViewer)
	_, err := hook.Authorize(viewer, tenant.OpDeleteWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	require.Error(t, err)

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, policy.Deny, denied.Result.Decision)
	assert.Contains(t, denied.Error(), "denied")
}

func TestGetAuditLog_RequiresViewLogs(t *testing.T) {
	hook, _ := newTestHook(t)

	viewer := ctxWithRoles("t1", "u1", tenant.RoleViewer)
	_, err := hook.GetAuditLog(viewer, 10, audit.Filter{})

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
}

func TestGetAuditLog_TenantScopedForNonSuperAdmin(t *testing.T) {
	hook, log := newTestHook(t)

	// Seed entries across two tenants directly.
	log.Append(&audit.Entry{TenantID: "t1", Decision: "ALLOW"})
	log.Append(&audit.Entry{TenantID: "t2", Decision: "ALLOW"})

	admin := ctxWithRoles("t1", "u1", tenant.RoleAdmin)
	entries, err := hook.GetAuditLog(admin, 0, audit.Filter{TenantID: "t2"})
	require.NoError(t, err)

	// The requested cross-tenant filter is overridden with the caller's own
	// tenant; no t2 entries leak.
	for _, e := range entries {
		assert.Equal(t, "t1", e.TenantID)
	}
	assert.NotEmpty(t, entries)
}

func TestGetAuditLog_SuperAdminSeesAllTenants(t *testing.T) {
	hook, log := newTestHook(t)

	log.Append(&audit.Entry{TenantID: "t1", Decision: "ALLOW"})
	log.Append(&audit.Entry{TenantID: "t2", Decision: "DENY"})

	root := ctxWithRoles("t0", "root", tenant.RoleSuperAdmin)
	entries, err := hook.GetAuditLog(root, 0, audit.Filter{})
	require.NoError(t, err)

	tenants := map[string]bool{}
	for _, e := range entries {
		tenants[e.TenantID] = true
	}
	assert.True(t, tenants["t1"])
	assert.True(t, tenants["t2"])
}

func TestAuditStats_SuperAdminOnly(t *testing.T) {
	hook, _ := newTestHook(t)

	admin := ctxWithRoles("t1", "u1", tenant.RoleAdmin)
	_, err := hook.AuditStats(admin)
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))

	root := ctxWithRoles("t0", "root", tenant.RoleSuperAdmin)
	stats, err := hook.AuditStats(root)
	require.NoError(t, err)
	assert.Greater(t, stats.TotalEntries, 0)
}

func TestDecisionCache_HitSkipsEvaluation(t *testing.T) {
	pdp, err := policy.NewDecisionPoint(policy.DenyOverrides)
	require.NoError(t, err)

	evaluations := 0
	pdp.AddPolicy(&countingPolicy{id: "counter", count: &evaluations})

	log := audit.NewLog()
	hook := NewHook(pdp, log, WithDecisionCache(16, time.Minute))

	tctx := ctxWithRoles("t1", "u1", tenant.RoleViewer)
	first := hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	second := hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, evaluations)
	// Cache hits still land in the audit trail.
	assert.Equal(t, 2, log.Len())
}

func TestDecisionCache_AttributeBagsBypassCache(t *testing.T) {
	pdp, err := policy.NewDecisionPoint(policy.DenyOverrides)
	require.NoError(t, err)

	evaluations := 0
	pdp.AddPolicy(&countingPolicy{id: "counter", count: &evaluations})

	hook := NewHook(pdp, audit.NewLog(), WithDecisionCache(16, time.Minute))

	tctx := ctxWithRoles("t1", "u1", tenant.RoleViewer)
	attrs := map[string]interface{}{"owner_id": "u1"}
	hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", attrs, nil)
	hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", attrs, nil)

	assert.Equal(t, 2, evaluations)
}

func TestDecisionCache_DisabledByDefault(t *testing.T) {
	pdp, err := policy.NewDecisionPoint(policy.DenyOverrides)
	require.NoError(t, err)

	evaluations := 0
	pdp.AddPolicy(&countingPolicy{id: "counter", count: &evaluations})

	hook := NewHook(pdp, audit.NewLog())

	tctx := ctxWithRoles("t1", "u1", tenant.RoleViewer)
	hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)
	hook.CheckAuthorization(tctx, tenant.OpReadWorkflow, tenant.ResourceWorkflow, "wf-1", nil, nil)

	assert.Equal(t, 2, evaluations)
}

type countingPolicy struct {
	id    string
	count *int
}

func (p *countingPolicy) ID() string                                    { return p.id }
func (p *countingPolicy) Priority() int                                 { return 10 }
func (p *countingPolicy) AppliesTo(ec *policy.EvaluationContext) bool   { return true }
func (p *countingPolicy) Evaluate(ec *policy.EvaluationContext) (policy.Result, error) {
	*p.count++
	return policy.Result{Decision: policy.Allow, Reason: "counted", PolicyID: p.id}, nil
}
