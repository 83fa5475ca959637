package policy

import (
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// Decision is a single policy's (or the combined) authorization verdict
type Decision string

const (
	Allow   Decision = "ALLOW"
	Deny    Decision = "DENY"
	Abstain Decision = "ABSTAIN" // policy does not apply; not a negative vote
)

// Obligation is an action the caller must perform when the request is allowed
type Obligation struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Advice is an optional action the caller may perform
type Advice struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Result is the outcome of evaluating one policy or a whole policy set
type Result struct {
	Decision    Decision     `json:"decision"`
	Reason      string       `json:"reason"`
	PolicyID    string       `json:"policy_id,omitempty"`
	Obligations []Obligation `json:"obligations,omitempty"`
	Advice      []Advice     `json:"advice,omitempty"`
}

// Allowed reports whether the result permits the operation
func (r Result) Allowed() bool { return r.Decision == Allow }

// EvaluationContext is an immutable snapshot of one authorization check:
// the caller's tenant context, the requested operation and target, and the
// three open attribute bags consulted by attribute-based policies. It is
// built fresh for every check and never shared across checks.
type EvaluationContext struct {
	Tenant       *tenant.Context
	Operation    tenant.Operation
	ResourceType tenant.ResourceType
	ResourceID   string

	ResourceAttributes    map[string]interface{}
	RequestAttributes     map[string]interface{}
	EnvironmentAttributes map[string]interface{}

	Timestamp time.Time
}

// NewEvaluationContext builds an evaluation context, stamping the environment
// attributes with the evaluation timestamp and the request correlation id.
func NewEvaluationContext(tctx *tenant.Context, op tenant.Operation, rt tenant.ResourceType,
	resourceID string, resourceAttrs, requestAttrs map[string]interface{}) *EvaluationContext {

	now := time.Now().UTC()
	env := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
	}
	if tctx != nil {
		env["request_id"] = tctx.RequestID
	}
	return &EvaluationContext{
		Tenant:                tctx,
		Operation:             op,
		ResourceType:          rt,
		ResourceID:            resourceID,
		ResourceAttributes:    resourceAttrs,
		RequestAttributes:     requestAttrs,
		EnvironmentAttributes: env,
		Timestamp:             now,
	}
}

// Policy is the pluggable authorization capability. New policy kinds
// implement this interface; the decision point never special-cases them.
type Policy interface {
	// ID uniquely identifies the policy within a decision point
	ID() string
	// Priority orders evaluation; higher priorities are evaluated first
	Priority() int
	// AppliesTo filters policies before evaluation
	AppliesTo(ec *EvaluationContext) bool
	// Evaluate returns the policy's vote. A returned error (or a panic)
	// discards the vote; it is never converted into ALLOW or DENY.
	Evaluate(ec *EvaluationContext) (Result, error)
}
