// Package policy implements the policy decision point for the governance
// core: a priority-ordered set of pluggable authorization policies merged by
// a combining algorithm (deny-overrides, permit-overrides, first-applicable)
// into a single allow/deny decision.
//
// Policies vote ALLOW, DENY, or ABSTAIN. ABSTAIN means "this policy does not
// apply to the request" and is never treated as a negative vote. A policy
// that errors or panics during evaluation is logged and skipped; it does not
// vote. When no applicable policy exists the decision point fails closed
// with DENY.
package policy
