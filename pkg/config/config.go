// Package config loads governd configuration from environment variables and
// an optional YAML seed file. Environment variables control the process
// (ports, logging, tracing); the seed file supplies governance data (rate
// tiers, role grants, policy settings) and can be hot-reloaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
)

// Config holds all process configuration
type Config struct {
	Server        ServerConfig
	Observability ObservabilityConfig
	Governance    GovernanceConfig
}

// ServerConfig holds the admin/metrics HTTP server configuration
type ServerConfig struct {
	Host            string
	MetricsPort     string
	ShutdownTimeout time.Duration
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// GovernanceConfig holds governance core settings not carried by the seed
type GovernanceConfig struct {
	// SeedPath points at the YAML seed file; empty means built-in defaults.
	SeedPath string
	// WatchSeed reloads rate tiers when the seed file changes on disk.
	WatchSeed bool

	// DecisionCacheSize enables the authorization decision cache when > 0.
	DecisionCacheSize int
	DecisionCacheTTL  time.Duration

	// CleanupInterval drives the janitor that drops idle limiter state.
	CleanupInterval time.Duration
	CleanupMaxIdle  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GOVERND_HOST", "0.0.0.0"),
			MetricsPort:     getEnv("GOVERND_METRICS_PORT", "9090"),
			ShutdownTimeout: getEnvDuration("GOVERND_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("GOVERND_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("GOVERND_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("GOVERND_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("GOVERND_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("GOVERND_OTEL_SERVICE_NAME", "governd"),
			OTelServiceVersion: getEnv("GOVERND_OTEL_SERVICE_VERSION", "dev"),
			OTelInsecure:       getEnvBool("GOVERND_OTEL_INSECURE", true),
		},
		Governance: GovernanceConfig{
			SeedPath:          getEnv("GOVERND_SEED_PATH", ""),
			WatchSeed:         getEnvBool("GOVERND_WATCH_SEED", false),
			DecisionCacheSize: getEnvInt("GOVERND_DECISION_CACHE_SIZE", 0),
			DecisionCacheTTL:  getEnvDuration("GOVERND_DECISION_CACHE_TTL", 5*time.Second),
			CleanupInterval:   getEnvDuration("GOVERND_CLEANUP_INTERVAL", 5*time.Minute),
			CleanupMaxIdle:    getEnvDuration("GOVERND_CLEANUP_MAX_IDLE", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.MetricsPort); err != nil {
		return fmt.Errorf("invalid metrics port %q", c.Server.MetricsPort)
	}
	if c.Governance.DecisionCacheSize > 0 && c.Governance.DecisionCacheTTL <= 0 {
		return fmt.Errorf("decision cache requires a positive TTL")
	}
	if c.Governance.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	if c.Governance.WatchSeed && c.Governance.SeedPath == "" {
		return fmt.Errorf("seed watching requires a seed path")
	}
	return nil
}

// getEnv returns an environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
