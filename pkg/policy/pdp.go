package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
)

// Algorithm selects how individual policy votes merge into one decision
type Algorithm string

const (
	DenyOverrides   Algorithm = "deny_overrides"
	PermitOverrides Algorithm = "permit_overrides"
	FirstApplicable Algorithm = "first_applicable"
)

// ConfigurationError reports an invalid decision-point configuration, such
// as an unknown combining algorithm. It is a setup-time fault, never a
// per-request condition.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("policy configuration error: %s=%q: %s", e.Field, e.Value, e.Reason)
}

func validAlgorithm(a Algorithm) bool {
	switch a {
	case DenyOverrides, PermitOverrides, FirstApplicable:
		return true
	}
	return false
}

type rankedPolicy struct {
	Policy
	seq int // insertion order, breaks priority ties
}

// DecisionPoint is a priority-ordered set of policies plus a combining
// algorithm. It is mutated only through AddPolicy/RemovePolicy/SetAlgorithm
// and evaluated concurrently by many in-flight requests.
type DecisionPoint struct {
	mu        sync.RWMutex
	policies  []rankedPolicy
	algorithm Algorithm
	nextSeq   int

	logger  *observability.Logger
	metrics *observability.Metrics
}

// DecisionPointOption configures a DecisionPoint
type DecisionPointOption func(*DecisionPoint)

// WithLogger sets the decision point's logger
func WithLogger(logger *observability.Logger) DecisionPointOption {
	return func(p *DecisionPoint) { p.logger = logger }
}

// WithMetrics sets the decision point's metrics
func WithMetrics(m *observability.Metrics) DecisionPointOption {
	return func(p *DecisionPoint) { p.metrics = m }
}

// NewDecisionPoint creates a decision point with the given combining
// algorithm. Unknown algorithm names fail here, at configuration time.
func NewDecisionPoint(algorithm Algorithm, opts ...DecisionPointOption) (*DecisionPoint, error) {
	if !validAlgorithm(algorithm) {
		return nil, &ConfigurationError{
			Field:  "algorithm",
			Value:  string(algorithm),
			Reason: "unknown combination algorithm",
		}
	}
	p := &DecisionPoint{algorithm: algorithm}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = observability.NopLogger()
	}
	if p.metrics == nil {
		p.metrics = observability.NopMetrics()
	}
	return p, nil
}

// Algorithm returns the configured combining algorithm
func (p *DecisionPoint) Algorithm() Algorithm {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.algorithm
}

// SetAlgorithm replaces the combining algorithm, validating the name first
func (p *DecisionPoint) SetAlgorithm(algorithm Algorithm) error {
	if !validAlgorithm(algorithm) {
		return &ConfigurationError{
			Field:  "algorithm",
			Value:  string(algorithm),
			Reason: "unknown combination algorithm",
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.algorithm = algorithm
	return nil
}

// AddPolicy inserts a policy and re-sorts the set by descending priority.
// Equal priorities keep insertion order.
func (p *DecisionPoint) AddPolicy(pol Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.policies = append(p.policies, rankedPolicy{Policy: pol, seq: p.nextSeq})
	p.nextSeq++
	sort.SliceStable(p.policies, func(i, j int) bool {
		if p.policies[i].Priority() != p.policies[j].Priority() {
			return p.policies[i].Priority() > p.policies[j].Priority()
		}
		return p.policies[i].seq < p.policies[j].seq
	})
}

// RemovePolicy removes the policy with the given id, reporting whether one
// was found. Removing an absent id is a no-op.
func (p *DecisionPoint) RemovePolicy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, pol := range p.policies {
		if pol.ID() == id {
			p.policies = append(p.policies[:i], p.policies[i+1:]...)
			return true
		}
	}
	return false
}

// Policies returns a snapshot of the policy set in evaluation order
func (p *DecisionPoint) Policies() []Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Policy, len(p.policies))
	for i, pol := range p.policies {
		out[i] = pol.Policy
	}
	return out
}

// Evaluate filters the applicable policies and merges their votes with the
// configured combining algorithm. With no applicable policies the decision
// point fails closed.
func (p *DecisionPoint) Evaluate(ec *EvaluationContext) Result {
	start := time.Now()

	p.mu.RLock()
	algorithm := p.algorithm
	applicable := make([]Policy, 0, len(p.policies))
	for _, pol := range p.policies {
		if pol.AppliesTo(ec) {
			applicable = append(applicable, pol.Policy)
		}
	}
	p.mu.RUnlock()

	var result Result
	if len(applicable) == 0 {
		result = Result{Decision: Deny, Reason: "no applicable policies"}
	} else {
		switch algorithm {
		case DenyOverrides:
			result = p.combineDenyOverrides(applicable, ec)
		case PermitOverrides:
			result = p.combinePermitOverrides(applicable, ec)
		case FirstApplicable:
			result = p.combineFirstApplicable(applicable, ec)
		}
	}

	p.metrics.DecisionsTotal.WithLabelValues(string(result.Decision), string(algorithm)).Inc()
	p.metrics.EvaluationDuration.WithLabelValues(string(algorithm)).Observe(time.Since(start).Seconds())
	return result
}

// evaluateOne runs a single policy with fault containment: an error return
// or a panic discards the vote and evaluation continues with the remaining
// policies.
func (p *DecisionPoint) evaluateOne(pol Policy, ec *EvaluationContext) (result Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.PolicyFaultsTotal.WithLabelValues(pol.ID()).Inc()
			p.logger.WithFields(map[string]interface{}{
				"policy_id": pol.ID(),
				"panic":     fmt.Sprintf("%v", r),
			}).Error("policy evaluation panicked, vote discarded")
			ok = false
		}
	}()

	res, err := pol.Evaluate(ec)
	if err != nil {
		p.metrics.PolicyFaultsTotal.WithLabelValues(pol.ID()).Inc()
		p.logger.WithError(err).WithField("policy_id", pol.ID()).
			Error("policy evaluation failed, vote discarded")
		return Result{}, false
	}
	return res, true
}

// combineDenyOverrides: the first DENY wins immediately; otherwise the first
// ALLOW observed wins; otherwise default DENY.
func (p *DecisionPoint) combineDenyOverrides(policies []Policy, ec *EvaluationContext) Result {
	var firstAllow *Result
	for _, pol := range policies {
		res, ok := p.evaluateOne(pol, ec)
		if !ok {
			continue
		}
		switch res.Decision {
		case Deny:
			return res
		case Allow:
			if firstAllow == nil {
				r := res
				firstAllow = &r
			}
		}
	}
	if firstAllow != nil {
		return *firstAllow
	}
	return Result{Decision: Deny, Reason: "no policy produced a decision"}
}

// combinePermitOverrides: the first ALLOW wins immediately; otherwise the
// first DENY observed wins; otherwise default DENY.
func (p *DecisionPoint) combinePermitOverrides(policies []Policy, ec *EvaluationContext) Result {
	var firstDeny *Result
	for _, pol := range policies {
		res, ok := p.evaluateOne(pol, ec)
		if !ok {
			continue
		}
		switch res.Decision {
		case Allow:
			return res
		case Deny:
			if firstDeny == nil {
				r := res
				firstDeny = &r
			}
		}
	}
	if firstDeny != nil {
		return *firstDeny
	}
	return Result{Decision: Deny, Reason: "no policy produced a decision"}
}

// combineFirstApplicable: the first non-ABSTAIN result wins; if every policy
// abstains, default DENY.
func (p *DecisionPoint) combineFirstApplicable(policies []Policy, ec *EvaluationContext) Result {
	for _, pol := range policies {
		res, ok := p.evaluateOne(pol, ec)
		if !ok {
			continue
		}
		if res.Decision != Abstain {
			return res
		}
	}
	return Result{Decision: Deny, Reason: "all applicable policies abstained"}
}
