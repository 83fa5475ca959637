package tenant

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Operation is one entry in the closed catalogue of governed operations
type Operation string

const (
	// Workflow operations
	OpCreateWorkflow  Operation = "workflow.create"
	OpReadWorkflow    Operation = "workflow.read"
	OpUpdateWorkflow  Operation = "workflow.update"
	OpDeleteWorkflow  Operation = "workflow.delete"
	OpExecuteWorkflow Operation = "workflow.execute"

	// Execution operations
	OpReadExecution   Operation = "execution.read"
	OpCancelExecution Operation = "execution.cancel"
	OpRetryExecution  Operation = "execution.retry"

	// Step operations
	OpReadStep  Operation = "step.read"
	OpRetryStep Operation = "step.retry"
	OpSkipStep  Operation = "step.skip"

	// Schedule operations
	OpCreateSchedule Operation = "schedule.create"
	OpReadSchedule   Operation = "schedule.read"
	OpUpdateSchedule Operation = "schedule.update"
	OpDeleteSchedule Operation = "schedule.delete"
	OpPauseSchedule  Operation = "schedule.pause"

	// Queue operations
	OpEnqueue    Operation = "queue.enqueue"
	OpDequeue    Operation = "queue.dequeue"
	OpPurgeQueue Operation = "queue.purge"

	// Admin operations
	OpManageTenant Operation = "admin.manage_tenant"
	OpManagePolicy Operation = "admin.manage_policy"
	OpViewLogs     Operation = "admin.view_logs"
	OpManageQuotas Operation = "admin.manage_quotas"
)

// ResourceType is the category of resource an operation targets
type ResourceType string

const (
	ResourceWorkflow  ResourceType = "workflow"
	ResourceExecution ResourceType = "execution"
	ResourceStep      ResourceType = "step"
	ResourceSchedule  ResourceType = "schedule"
	ResourceQueue     ResourceType = "queue"
	ResourceTenant    ResourceType = "tenant"
)

// Built-in role names referenced by the default policy bundle
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleOperator   = "operator"
	RoleViewer     = "viewer"
)

// Context identifies the caller of one inbound request. It is created once
// per request by the caller, never persisted, and discarded at request end.
// The accessed-resources set is the only mutable part; it is appended to
// during the request for end-of-request auditing and plays no part in
// authorization decisions.
type Context struct {
	TenantID    string
	UserID      string
	Roles       []string
	Permissions []string
	RequestID   string
	IPAddress   string
	UserAgent   string
	APIKeyID    string

	mu       sync.Mutex
	accessed map[string]struct{}
}

// NewContext creates a tenant context with a generated request correlation ID
func NewContext(tenantID string) *Context {
	return &Context{
		TenantID:  tenantID,
		RequestID: uuid.NewString(),
		accessed:  make(map[string]struct{}),
	}
}

// HasRole checks whether the context carries the given role
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission checks whether the context carries the given permission string
func (c *Context) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the context carries the super_admin role
func (c *Context) IsSuperAdmin() bool {
	return c.HasRole(RoleSuperAdmin)
}

// RecordAccessedResource appends a resource id to the context's audit trail
func (c *Context) RecordAccessedResource(resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessed == nil {
		c.accessed = make(map[string]struct{})
	}
	c.accessed[resourceID] = struct{}{}
}

// AccessedResources returns a sorted snapshot of the resources touched so far
func (c *Context) AccessedResources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.accessed))
	for id := range c.accessed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
