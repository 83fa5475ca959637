package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelayoade/dotmac-governance/pkg/audit"
	"github.com/michaelayoade/dotmac-governance/pkg/authz"
	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/ratelimit"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

type pipelineFixture struct {
	pipeline *Pipeline
	guard    *tenant.Guard
	limiter  *ratelimit.Limiter
	auditLog *audit.Log
}

func newFixture(t *testing.T, guardOpts ...tenant.GuardOption) *pipelineFixture {
	t.Helper()

	guard := tenant.NewGuard(guardOpts...)

	limiter, err := ratelimit.NewLimiter(ratelimit.DefaultTiers()[ratelimit.TierBasic])
	require.NoError(t, err)

	pdp, err := policy.NewDecisionPoint(policy.DenyOverrides)
	require.NoError(t, err)
	pdp.AddPolicy(policy.NewRoleBasedPolicy("rbac", 100, policy.DefaultRoleGrants()))

	auditLog := audit.NewLog()
	hook := authz.NewHook(pdp, auditLog)

	return &pipelineFixture{
		pipeline: NewPipeline(guard, limiter, hook),
		guard:    guard,
		limiter:  limiter,
		auditLog: auditLog,
	}
}

func adminContext(tenantID string) *tenant.Context {
	tctx := tenant.NewContext(tenantID)
	tctx.UserID = "u-" + tenantID
	tctx.Roles = []string{tenant.RoleAdmin}
	return tctx
}

func TestAdmit_AllStagesPass(t *testing.T) {
	f := newFixture(t)
	tctx := adminContext("t1")

	done, err := f.pipeline.Begin(tctx)
	require.NoError(t, err)
	defer done()

	result, err := f.pipeline.Admit(context.Background(), Request{
		Context:      tctx,
		Operation:    tenant.OpExecuteWorkflow,
		ResourceType: tenant.ResourceWorkflow,
		ResourceID:   "wf-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed())

	// The lenient guard bound the resource to the calling tenant.
	owner, ok := f.guard.ResourceOwner("wf-1")
	require.True(t, ok)
	assert.Equal(t, "t1", owner)

	// The decision landed in the audit trail.
	assert.Equal(t, 1, f.auditLog.Len())
}

func TestAdmit_IsolationShortCircuits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.guard.RegisterResource("wf-1", "t1"))

	intruder := adminContext("t2")
	_, err := f.pipeline.Admit(context.Background(), Request{
		Context:      intruder,
		Operation:    tenant.OpReadWorkflow,
		ResourceType: tenant.ResourceWorkflow,
		ResourceID:   "wf-1",
	})
	require.Error(t, err)
	assert.True(t, tenant.IsCrossTenant(err))

	// Later stages never ran: no quota consumed, nothing audited.
	assert.Equal(t, int64(0), f.limiter.GetTenantStats("t2").Allowed)
	assert.Equal(t, 0, f.auditLog.Len())
}

func TestAdmit_RateLimitShortCircuits(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.limiter.SetTenantConfig("t1", ratelimit.Config{
		RequestsPerSecond: 1,
		RequestsPerMinute: 1,
		RequestsPerHour:   1,
		BurstCapacity:     1,
		WindowSeconds:     60,
		RefillRate:        0.001,
	}))

	tctx := adminContext("t1")
	req := Request{
		Context:      tctx,
		Operation:    tenant.OpEnqueue,
		ResourceType: tenant.ResourceQueue,
	}

	_, err := f.pipeline.Admit(context.Background(), req)
	require.NoError(t, err)

	_, err = f.pipeline.Admit(context.Background(), req)
	var limErr *ratelimit.LimitExceededError
	require.True(t, errors.As(err, &limErr))
	assert.Greater(t, limErr.RetryAfter.Seconds(), float64(0))

	// The authorization stage ran once, for the admitted request only.
	assert.Equal(t, 1, f.auditLog.Len())
}

func TestAdmit_AuthorizationDenied(t *testing.T) {
	f := newFixture(t)

	viewer := tenant.NewContext("t1")
	viewer.UserID = "u1"
	viewer.Roles = []string{tenant.RoleViewer}

	result, err := f.pipeline.Admit(context.Background(), Request{
		Context:      viewer,
		Operation:    tenant.OpDeleteWorkflow,
		ResourceType: tenant.ResourceWorkflow,
	})
	var denied *authz.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, policy.Deny, result.Decision)

	// Denials are audited too.
	entries := f.auditLog.Search(audit.Filter{Decision: "DENY"}, 0)
	assert.Len(t, entries, 1)
}

func TestBegin_CleanupRunsOnFailurePaths(t *testing.T) {
	f := newFixture(t, tenant.WithStrictMode(true))
	tctx := adminContext("t1")

	func() {
		done, err := f.pipeline.Begin(tctx)
		require.NoError(t, err)
		defer done()

		// Strict guard rejects the unregistered resource.
		_, err = f.pipeline.Admit(context.Background(), Request{
			Context:      tctx,
			Operation:    tenant.OpReadWorkflow,
			ResourceType: tenant.ResourceWorkflow,
			ResourceID:   "ghost",
		})
		require.Error(t, err)
	}()

	_, active := f.guard.ActiveContext(tctx.RequestID)
	assert.False(t, active)
}

func TestAdmit_LenientAutoRegisterThenCrossTenant(t *testing.T) {
	f := newFixture(t)

	first := adminContext("tenant-a")
	_, err := f.pipeline.Admit(context.Background(), Request{
		Context:      first,
		Operation:    tenant.OpReadWorkflow,
		ResourceType: tenant.ResourceWorkflow,
		ResourceID:   "newres",
	})
	require.NoError(t, err)

	second := adminContext("tenant-b")
	_, err = f.pipeline.Admit(context.Background(), Request{
		Context:      second,
		Operation:    tenant.OpReadWorkflow,
		ResourceType: tenant.ResourceWorkflow,
		ResourceID:   "newres",
	})
	require.Error(t, err)

	var crossErr *tenant.CrossTenantAccessError
	require.True(t, errors.As(err, &crossErr))
	assert.Equal(t, "tenant-a", crossErr.OwnerTenantID)
}
