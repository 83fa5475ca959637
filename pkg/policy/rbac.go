package policy

import (
	"fmt"
	"strings"

	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// RoleBasedPolicy votes from a role→allowed-operations map. A caller whose
// roles grant the requested operation gets ALLOW; a caller with roles known
// to this policy but no grant gets DENY. Callers with no roles at all
// abstain so an upstream policy can still decide.
type RoleBasedPolicy struct {
	id       string
	priority int
	grants   map[string]map[tenant.Operation]struct{}
}

// NewRoleBasedPolicy builds a role-based policy from role→operations grants
func NewRoleBasedPolicy(id string, priority int, grants map[string][]tenant.Operation) *RoleBasedPolicy {
	compiled := make(map[string]map[tenant.Operation]struct{}, len(grants))
	for role, ops := range grants {
		set := make(map[tenant.Operation]struct{}, len(ops))
		for _, op := range ops {
			set[op] = struct{}{}
		}
		compiled[role] = set
	}
	return &RoleBasedPolicy{id: id, priority: priority, grants: compiled}
}

func (p *RoleBasedPolicy) ID() string    { return p.id }
func (p *RoleBasedPolicy) Priority() int { return p.priority }

// AppliesTo requires a tenant context with at least one role
func (p *RoleBasedPolicy) AppliesTo(ec *EvaluationContext) bool {
	return ec != nil && ec.Tenant != nil
}

func (p *RoleBasedPolicy) Evaluate(ec *EvaluationContext) (Result, error) {
	if len(ec.Tenant.Roles) == 0 {
		return Result{
			Decision: Abstain,
			Reason:   "caller has no roles",
			PolicyID: p.id,
		}, nil
	}

	// super_admin bypasses the role map entirely
	if ec.Tenant.IsSuperAdmin() {
		return Result{
			Decision: Allow,
			Reason:   "role super_admin grants all operations",
			PolicyID: p.id,
		}, nil
	}

	for _, role := range ec.Tenant.Roles {
		ops, known := p.grants[role]
		if !known {
			continue
		}
		if _, granted := ops[ec.Operation]; granted {
			return Result{
				Decision: Allow,
				Reason:   fmt.Sprintf("role %s grants %s", role, ec.Operation),
				PolicyID: p.id,
			}, nil
		}
	}

	return Result{
		Decision: Deny,
		Reason: fmt.Sprintf("no role in [%s] grants %s",
			strings.Join(ec.Tenant.Roles, ", "), ec.Operation),
		PolicyID: p.id,
	}, nil
}
