package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
	"github.com/michaelayoade/dotmac-governance/pkg/ratelimit"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "9090", cfg.Server.MetricsPort)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, 0, cfg.Governance.DecisionCacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Governance.CleanupInterval)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GOVERND_METRICS_PORT", "9999")
	t.Setenv("GOVERND_LOG_LEVEL", "debug")
	t.Setenv("GOVERND_DECISION_CACHE_SIZE", "256")
	t.Setenv("GOVERND_CLEANUP_MAX_IDLE", "30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.MetricsPort)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 256, cfg.Governance.DecisionCacheSize)
	assert.Equal(t, 30*time.Minute, cfg.Governance.CleanupMaxIdle)
}

func TestLoadConfig_InvalidPort(t *testing.T) {
	t.Setenv("GOVERND_METRICS_PORT", "not-a-port")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_WatchWithoutPath(t *testing.T) {
	t.Setenv("GOVERND_WATCH_SEED", "true")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestDefaultSeed_Valid(t *testing.T) {
	seed := DefaultSeed()
	require.NoError(t, seed.Validate())

	assert.Equal(t, "deny_overrides", seed.Algorithm)
	assert.Equal(t, ratelimit.TierFree, seed.DefaultTier)
	assert.Len(t, seed.Tiers, 4)
	assert.NotEmpty(t, seed.RoleGrants[tenant.RoleAdmin])
}

func TestLoadSeed_EmptyPathReturnsDefaults(t *testing.T) {
	seed, err := LoadSeed("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed(), seed)
}

func TestLoadSeed_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
algorithm: permit_overrides
strict_mode: true
default_tier: basic
tiers:
  basic:
    requests_per_second: 5
    requests_per_minute: 50
    requests_per_hour: 500
    burst_capacity: 5
    window_seconds: 60
    refill_rate: 2
role_grants:
  viewer:
    - workflow.read
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	assert.Equal(t, "permit_overrides", seed.Algorithm)
	assert.True(t, seed.StrictMode)
	assert.Equal(t, "basic", seed.DefaultTier)
	assert.Equal(t, 5, seed.DefaultTierConfig().RequestsPerSecond)
	assert.Equal(t, []tenant.Operation{tenant.OpReadWorkflow}, seed.Grants()["viewer"])

	// Untouched sections keep defaults.
	assert.Equal(t, 10000, seed.Audit.MaxEntries)
	assert.True(t, seed.BusinessHours.Enabled)
}

func TestLoadSeed_RejectsBadData(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown algorithm", "algorithm: most_votes\n"},
		{"missing default tier config", "default_tier: platinum\n"},
		{"invalid tier", "tiers:\n  free:\n    requests_per_second: 0\n"},
		{"bad business hours", "business_hours:\n  enabled: true\n  start_hour: 20\n  end_hour: 8\n"},
		{"bad audit bounds", "audit:\n  max_entries: 10\n  trim_entries: 20\n"},
		{"malformed yaml", "algorithm: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadSeed(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatchSeed_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strict_mode: false\n"), 0o644))

	reloaded := make(chan *Seed, 4)
	stop, err := WatchSeed(path, observability.NopLogger(), func(s *Seed) {
		reloaded <- s
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("strict_mode: true\n"), 0o644))

	select {
	case seed := <-reloaded:
		assert.True(t, seed.StrictMode)
	case <-time.After(5 * time.Second):
		t.Fatal("seed reload not observed")
	}
}

func TestWatchSeed_KeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strict_mode: false\n"), 0o644))

	reloaded := make(chan *Seed, 4)
	stop, err := WatchSeed(path, observability.NopLogger(), func(s *Seed) {
		reloaded <- s
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("algorithm: bogus\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("invalid seed must not trigger a reload")
	case <-time.After(500 * time.Millisecond):
	}
}
