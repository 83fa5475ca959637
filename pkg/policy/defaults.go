package policy

import (
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// DefaultRoleGrants is the reference role→operations map used by the
// default bundle. Deployments override it through configuration.
func DefaultRoleGrants() map[string][]tenant.Operation {
	return map[string][]tenant.Operation{
		tenant.RoleAdmin: {
			tenant.OpCreateWorkflow, tenant.OpReadWorkflow, tenant.OpUpdateWorkflow,
			tenant.OpDeleteWorkflow, tenant.OpExecuteWorkflow,
			tenant.OpReadExecution, tenant.OpCancelExecution, tenant.OpRetryExecution,
			tenant.OpReadStep, tenant.OpRetryStep, tenant.OpSkipStep,
			tenant.OpCreateSchedule, tenant.OpReadSchedule, tenant.OpUpdateSchedule,
			tenant.OpDeleteSchedule, tenant.OpPauseSchedule,
			tenant.OpEnqueue, tenant.OpDequeue, tenant.OpPurgeQueue,
			tenant.OpManageTenant, tenant.OpManagePolicy, tenant.OpViewLogs,
			tenant.OpManageQuotas,
		},
		tenant.RoleOperator: {
			tenant.OpReadWorkflow, tenant.OpExecuteWorkflow,
			tenant.OpReadExecution, tenant.OpCancelExecution, tenant.OpRetryExecution,
			tenant.OpReadStep, tenant.OpRetryStep,
			tenant.OpReadSchedule, tenant.OpPauseSchedule,
			tenant.OpEnqueue, tenant.OpDequeue,
		},
		tenant.RoleViewer: {
			tenant.OpReadWorkflow, tenant.OpReadExecution,
			tenant.OpReadStep, tenant.OpReadSchedule,
		},
	}
}

// DefaultBundle returns the reference policy set: RBAC over the default role
// grants, resource ownership, and a 09:00–18:00 UTC business-hours window.
// These are illustrative seed policies, not hard requirements; callers can
// build their own bundle and register it instead.
func DefaultBundle() []Policy {
	return []Policy{
		NewRoleBasedPolicy("default-rbac", 100, DefaultRoleGrants()),
		NewResourceOwnershipPolicy("default-ownership", 75, DefaultOwnerAttribute),
		NewTimeBasedPolicy("default-business-hours", 50, BusinessHours(9, 18)),
	}
}
