package policy

import (
	"fmt"
)

// DefaultOwnerAttribute is the resource attribute consulted by the
// ownership policy when none is configured
const DefaultOwnerAttribute = "owner_id"

// ResourceOwnershipPolicy allows a request when the caller's user id equals
// the resource's owner attribute. It abstains when the request targets no
// resource or the owner attribute is absent, so it composes with broader
// policies instead of vetoing requests it cannot judge.
type ResourceOwnershipPolicy struct {
	id        string
	priority  int
	ownerAttr string
}

// NewResourceOwnershipPolicy builds an ownership policy reading ownerAttr
// from the resource attributes (DefaultOwnerAttribute if empty)
func NewResourceOwnershipPolicy(id string, priority int, ownerAttr string) *ResourceOwnershipPolicy {
	if ownerAttr == "" {
		ownerAttr = DefaultOwnerAttribute
	}
	return &ResourceOwnershipPolicy{id: id, priority: priority, ownerAttr: ownerAttr}
}

func (p *ResourceOwnershipPolicy) ID() string    { return p.id }
func (p *ResourceOwnershipPolicy) Priority() int { return p.priority }

// AppliesTo requires a resource-targeting request from an identified caller
func (p *ResourceOwnershipPolicy) AppliesTo(ec *EvaluationContext) bool {
	return ec != nil && ec.Tenant != nil && ec.ResourceID != ""
}

func (p *ResourceOwnershipPolicy) Evaluate(ec *EvaluationContext) (Result, error) {
	raw, ok := ec.ResourceAttributes[p.ownerAttr]
	if !ok {
		return Result{
			Decision: Abstain,
			Reason:   fmt.Sprintf("resource carries no %s attribute", p.ownerAttr),
			PolicyID: p.id,
		}, nil
	}

	owner, ok := raw.(string)
	if !ok {
		return Result{}, fmt.Errorf("resource attribute %s is %T, want string", p.ownerAttr, raw)
	}

	if ec.Tenant.UserID != "" && ec.Tenant.UserID == owner {
		return Result{
			Decision: Allow,
			Reason:   "caller owns the resource",
			PolicyID: p.id,
		}, nil
	}

	return Result{
		Decision: Deny,
		Reason:   fmt.Sprintf("resource %s is owned by %s", ec.ResourceID, owner),
		PolicyID: p.id,
	}, nil
}
