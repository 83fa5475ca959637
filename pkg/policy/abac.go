package policy

import (
	"fmt"
	"strings"
)

// Operator compares a resolved attribute value against a rule's value
type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "ne"
	OpIn          Operator = "in"       // value is a list; attribute must be a member
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains" // attribute is a list or string containing value
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
)

// Condition is a single attribute comparison. All conditions in a rule are
// ANDed together.
type Condition struct {
	Path     string      `json:"path" yaml:"path"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Rule declares the decision taken when every condition matches
type Rule struct {
	Decision   Decision    `json:"decision" yaml:"decision"`
	Reason     string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// AttributeResolver resolves a dotted attribute path against an evaluation
// context. The second return reports whether the path resolved at all; an
// unresolved path fails the condition rather than erroring, keeping rule
// evaluation total.
type AttributeResolver interface {
	Resolve(ec *EvaluationContext, path string) (interface{}, bool)
}

// contextResolver is the default AttributeResolver: a fixed registry of
// well-known paths plus bag lookups under resource./request./environment.
type contextResolver struct{}

func (contextResolver) Resolve(ec *EvaluationContext, path string) (interface{}, bool) {
	switch path {
	case "operation":
		return string(ec.Operation), true
	case "resource.type":
		return string(ec.ResourceType), true
	case "resource.id":
		return ec.ResourceID, true
	}

	if ec.Tenant != nil {
		switch path {
		case "tenant.id":
			return ec.Tenant.TenantID, true
		case "tenant.user_id":
			return ec.Tenant.UserID, true
		case "tenant.roles":
			return ec.Tenant.Roles, true
		case "tenant.permissions":
			return ec.Tenant.Permissions, true
		case "tenant.ip_address":
			return ec.Tenant.IPAddress, true
		case "tenant.api_key_id":
			return ec.Tenant.APIKeyID, true
		}
	}

	if key, ok := strings.CutPrefix(path, "resource."); ok {
		v, found := ec.ResourceAttributes[key]
		return v, found
	}
	if key, ok := strings.CutPrefix(path, "request."); ok {
		v, found := ec.RequestAttributes[key]
		return v, found
	}
	if key, ok := strings.CutPrefix(path, "environment."); ok {
		v, found := ec.EnvironmentAttributes[key]
		return v, found
	}

	return nil, false
}

// AttributeBasedPolicy evaluates an ordered rule list; the first rule whose
// conditions all match declares the decision. When no rule matches the
// policy abstains.
type AttributeBasedPolicy struct {
	id       string
	priority int
	rules    []Rule
	resolver AttributeResolver
}

// ABACOption configures an AttributeBasedPolicy
type ABACOption func(*AttributeBasedPolicy)

// WithResolver overrides the default attribute resolver
func WithResolver(r AttributeResolver) ABACOption {
	return func(p *AttributeBasedPolicy) { p.resolver = r }
}

// NewAttributeBasedPolicy builds an ABAC policy from an ordered rule list
func NewAttributeBasedPolicy(id string, priority int, rules []Rule, opts ...ABACOption) *AttributeBasedPolicy {
	p := &AttributeBasedPolicy{
		id:       id,
		priority: priority,
		rules:    rules,
		resolver: contextResolver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AttributeBasedPolicy) ID() string    { return p.id }
func (p *AttributeBasedPolicy) Priority() int { return p.priority }

// AppliesTo requires at least one rule
func (p *AttributeBasedPolicy) AppliesTo(ec *EvaluationContext) bool {
	return ec != nil && len(p.rules) > 0
}

func (p *AttributeBasedPolicy) Evaluate(ec *EvaluationContext) (Result, error) {
	for i, rule := range p.rules {
		if !p.ruleMatches(rule, ec) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("rule %d matched", i)
		}
		return Result{
			Decision: rule.Decision,
			Reason:   reason,
			PolicyID: p.id,
		}, nil
	}

	return Result{
		Decision: Abstain,
		Reason:   "no rule matched",
		PolicyID: p.id,
	}, nil
}

func (p *AttributeBasedPolicy) ruleMatches(rule Rule, ec *EvaluationContext) bool {
	for _, cond := range rule.Conditions {
		attr, ok := p.resolver.Resolve(ec, cond.Path)
		if !ok {
			return false
		}
		if !compare(attr, cond.Operator, cond.Value) {
			return false
		}
	}
	return len(rule.Conditions) > 0
}

func compare(attr interface{}, op Operator, value interface{}) bool {
	switch op {
	case OpEquals:
		return scalarEqual(attr, value)
	case OpNotEquals:
		return !scalarEqual(attr, value)
	case OpIn:
		for _, candidate := range toSlice(value) {
			if scalarEqual(attr, candidate) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, candidate := range toSlice(value) {
			if scalarEqual(attr, candidate) {
				return false
			}
		}
		return true
	case OpContains:
		if s, ok := attr.(string); ok {
			needle, ok := value.(string)
			return ok && strings.Contains(s, needle)
		}
		for _, member := range toSlice(attr) {
			if scalarEqual(member, value) {
				return true
			}
		}
		return false
	case OpGreaterThan:
		a, aok := toFloat(attr)
		b, bok := toFloat(value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(attr)
		b, bok := toFloat(value)
		return aok && bok && a < b
	}
	return false
}

func scalarEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
