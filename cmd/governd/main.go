// governd runs the multi-tenant request-governance core as a daemon: it
// wires the isolation guard, rate limiter and policy decision point into an
// admission pipeline, exposes Prometheus metrics, and keeps the governance
// seed (rate tiers, role grants, policy settings) hot-reloadable.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/michaelayoade/dotmac-governance/pkg/audit"
	"github.com/michaelayoade/dotmac-governance/pkg/authz"
	"github.com/michaelayoade/dotmac-governance/pkg/config"
	"github.com/michaelayoade/dotmac-governance/pkg/governance"
	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/ratelimit"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

func main() {
	log := setupLogger(os.Getenv("GOVERND_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	seed, err := config.LoadSeed(cfg.Governance.SeedPath)
	if err != nil {
		log.Fatalf("Failed to load governance seed: %v", err)
	}

	if err := run(cfg, seed, log); err != nil {
		log.Fatalf("governd exited with error: %v", err)
	}
}

func run(cfg *config.Config, seed *config.Seed, log *logrus.Logger) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	metrics := observability.NopMetrics()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	ctx := context.Background()
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	core, err := buildCore(cfg, seed, logger, metrics)
	if err != nil {
		return fmt.Errorf("building governance core: %w", err)
	}

	if cfg.Governance.WatchSeed {
		stopWatch, err := config.WatchSeed(cfg.Governance.SeedPath, logger, core.applySeed)
		if err != nil {
			return fmt.Errorf("watching seed file: %w", err)
		}
		defer stopWatch()
	}

	janitor := cron.New()
	_, err = janitor.AddFunc("@every "+cfg.Governance.CleanupInterval.String(), func() {
		defer observability.RecoverPanic(logger, "janitor")
		removed := core.limiter.Cleanup(cfg.Governance.CleanupMaxIdle)
		stats := core.auditLog.GetStats()
		logger.WithFields(map[string]interface{}{
			"limiter_state_removed": removed,
			"audit_entries":         stats.TotalEntries,
		}).Debug("janitor pass complete")
	})
	if err != nil {
		return fmt.Errorf("scheduling janitor: %w", err)
	}
	janitor.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.MetricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		janitor.Stop()
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		core.guard.Close()
		core.auditLog.Close()
		return nil
	})
	if providers != nil {
		sm.RegisterShutdownFunc(providers.Shutdown)
	}

	log.Infof("governd listening on %s", server.Addr)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(sm.WaitForShutdown)
	return g.Wait()
}

// core bundles the wired governance components for the daemon's lifecycle
type core struct {
	pipeline *governance.Pipeline
	guard    *tenant.Guard
	limiter  *ratelimit.Limiter
	adaptive *ratelimit.AdaptiveLimiter
	pdp      *policy.DecisionPoint
	auditLog *audit.Log
	logger   *observability.Logger
}

func buildCore(cfg *config.Config, seed *config.Seed, logger *observability.Logger, metrics *observability.Metrics) (*core, error) {
	guard := tenant.NewGuard(
		tenant.WithStrictMode(seed.StrictMode),
		tenant.WithGuardLogger(logger),
		tenant.WithGuardMetrics(metrics),
	)

	limiter, err := ratelimit.NewLimiter(seed.DefaultTierConfig(),
		ratelimit.WithLimiterLogger(logger),
		ratelimit.WithLimiterMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	adaptive := ratelimit.NewAdaptiveLimiter(limiter,
		ratelimit.WithAdaptiveLogger(logger),
		ratelimit.WithAdaptiveMetrics(metrics),
	)

	pdp, err := policy.NewDecisionPoint(policy.Algorithm(seed.Algorithm),
		policy.WithLogger(logger),
		policy.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	pdp.AddPolicy(policy.NewRoleBasedPolicy("rbac", 100, seed.Grants()))
	pdp.AddPolicy(policy.NewResourceOwnershipPolicy("ownership", 75, policy.DefaultOwnerAttribute))
	if bh := seed.BusinessHours; bh.Enabled {
		pdp.AddPolicy(policy.NewTimeBasedPolicy("business-hours", bh.Priority, policy.BusinessHours(bh.StartHour, bh.EndHour)))
	}

	auditLog := audit.NewLog(
		audit.WithCapacity(seed.Audit.MaxEntries, seed.Audit.TrimEntries),
		audit.WithLogLogger(logger),
		audit.WithLogMetrics(metrics),
	)

	hookOpts := []authz.HookOption{
		authz.WithHookLogger(logger),
		authz.WithHookMetrics(metrics),
	}
	if cfg.Governance.DecisionCacheSize > 0 {
		hookOpts = append(hookOpts, authz.WithDecisionCache(cfg.Governance.DecisionCacheSize, cfg.Governance.DecisionCacheTTL))
	}
	hook := authz.NewHook(pdp, auditLog, hookOpts...)

	pipeline := governance.NewPipeline(guard, adaptive, hook,
		governance.WithPipelineLogger(logger),
		governance.WithPipelineMetrics(metrics),
	)

	return &core{
		pipeline: pipeline,
		guard:    guard,
		limiter:  limiter,
		adaptive: adaptive,
		pdp:      pdp,
		auditLog: auditLog,
		logger:   logger,
	}, nil
}

// applySeed applies the hot-reloadable parts of a freshly loaded seed: the
// default rate tier and the per-tier configs. Policy structure and audit
// bounds require a restart.
func (c *core) applySeed(seed *config.Seed) {
	if err := c.limiter.SetDefaultConfig(seed.DefaultTierConfig()); err != nil {
		c.logger.WithError(err).Warn("seed reload: default tier rejected")
		return
	}
	if err := c.pdp.SetAlgorithm(policy.Algorithm(seed.Algorithm)); err != nil {
		c.logger.WithError(err).Warn("seed reload: algorithm rejected")
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"default_tier": seed.DefaultTier,
		"algorithm":    seed.Algorithm,
	}).Info("governance seed applied")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
