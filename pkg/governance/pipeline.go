// Package governance composes the tenant isolation guard, the rate limiter
// and the authorization hook into the fixed admission pipeline every inbound
// operation passes through: isolation first, then rate budget, then policy
// evaluation. Any stage may short-circuit by failing.
package governance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaelayoade/dotmac-governance/pkg/authz"
	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/ratelimit"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// RateChecker is the rate-limiting stage contract. Both ratelimit.Limiter
// and ratelimit.AdaptiveLimiter satisfy it.
type RateChecker interface {
	Check(tenantID string, op tenant.Operation, tokens int) error
}

var (
	_ RateChecker = (*ratelimit.Limiter)(nil)
	_ RateChecker = (*ratelimit.AdaptiveLimiter)(nil)
)

// Request is one operation submitted for admission
type Request struct {
	Context       *tenant.Context
	Operation     tenant.Operation
	ResourceType  tenant.ResourceType
	ResourceID    string
	ResourceAttrs map[string]interface{}
	RequestAttrs  map[string]interface{}
	// Tokens is the rate-limit cost; zero means 1.
	Tokens int
}

// Pipeline runs the three admission gates in order
type Pipeline struct {
	guard   *tenant.Guard
	limiter RateChecker
	hook    *authz.Hook

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the pipeline's logger
func WithPipelineLogger(logger *observability.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPipelineMetrics sets the pipeline's metrics
func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline composes the three admission stages
func NewPipeline(guard *tenant.Guard, limiter RateChecker, hook *authz.Hook, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		guard:   guard,
		limiter: limiter,
		hook:    hook,
		tracer:  observability.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = observability.NopLogger()
	}
	if p.metrics == nil {
		p.metrics = observability.NopMetrics()
	}
	return p
}

// Begin registers the request's tenant context with the guard and returns
// the matching cleanup. Callers defer the cleanup immediately so the
// active-context registry never leaks an entry, whatever way the request
// ends.
func (p *Pipeline) Begin(tctx *tenant.Context) (func(), error) {
	if err := p.guard.RegisterContext(tctx); err != nil {
		return nil, err
	}
	requestID := tctx.RequestID
	return func() { p.guard.CleanupContext(requestID) }, nil
}

// Admit runs one operation through isolation, rate limiting and
// authorization. The returned error is nil only when every gate passed; the
// policy result is meaningful only on the authorization stage's outcomes.
func (p *Pipeline) Admit(ctx context.Context, req Request) (policy.Result, error) {
	start := time.Now()
	ctx = observability.WithRequestID(ctx, req.Context.RequestID)
	ctx = observability.WithTenantID(ctx, req.Context.TenantID)
	ctx, span := p.tracer.Start(ctx, "governance.Admit", trace.WithAttributes(
		attribute.String("tenant.id", req.Context.TenantID),
		attribute.String("operation", string(req.Operation)),
		attribute.String("resource.type", string(req.ResourceType)),
	))
	defer span.End()

	if err := p.checkIsolation(ctx, req); err != nil {
		p.metrics.ObserveAdmission("isolation", "rejected", start)
		span.SetStatus(codes.Error, "isolation violation")
		span.RecordError(err)
		return policy.Result{}, err
	}

	if err := p.checkRate(ctx, req); err != nil {
		p.metrics.ObserveAdmission("rate", "rejected", start)
		span.SetStatus(codes.Error, "rate limited")
		span.RecordError(err)
		return policy.Result{}, err
	}

	result, err := p.checkAuthorization(ctx, req)
	if err != nil {
		p.metrics.ObserveAdmission("authorization", "denied", start)
		span.SetStatus(codes.Error, "authorization denied")
		return result, err
	}

	p.metrics.ObserveAdmission("authorization", "allowed", start)
	span.SetAttributes(attribute.String("decision", string(result.Decision)))
	return result, nil
}

func (p *Pipeline) checkIsolation(ctx context.Context, req Request) error {
	_, span := p.tracer.Start(ctx, "governance.isolation")
	defer span.End()

	if req.ResourceID == "" {
		return nil
	}
	return p.guard.CheckResourceAccess(req.ResourceID, req.Context, req.Operation)
}

func (p *Pipeline) checkRate(ctx context.Context, req Request) error {
	_, span := p.tracer.Start(ctx, "governance.rate")
	defer span.End()

	return p.limiter.Check(req.Context.TenantID, req.Operation, req.Tokens)
}

func (p *Pipeline) checkAuthorization(ctx context.Context, req Request) (policy.Result, error) {
	_, span := p.tracer.Start(ctx, "governance.authorization")
	defer span.End()

	return p.hook.Authorize(req.Context, req.Operation, req.ResourceType,
		req.ResourceID, req.ResourceAttrs, req.RequestAttrs)
}
