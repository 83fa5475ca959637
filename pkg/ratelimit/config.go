package ratelimit

// Built-in tier names. Tiers are seed data: callers may override any of them
// or supply their own configs at startup.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

// Config is a per-tenant (or default) rate limit configuration. The token
// bucket guards bursts with BurstCapacity tokens refilled at RefillRate
// tokens per second; the three sliding windows cap sustained throughput at
// the per-second, per-minute and per-hour limits.
type Config struct {
	RequestsPerSecond int     `yaml:"requests_per_second" json:"requests_per_second"`
	RequestsPerMinute int     `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int     `yaml:"requests_per_hour" json:"requests_per_hour"`
	BurstCapacity     int     `yaml:"burst_capacity" json:"burst_capacity"`
	WindowSeconds     int     `yaml:"window_seconds" json:"window_seconds"`
	RefillRate        float64 `yaml:"refill_rate" json:"refill_rate"`
}

// Validate reports the first malformed field, if any
func (c Config) Validate() error {
	switch {
	case c.RequestsPerSecond <= 0:
		return &ConfigError{Field: "requests_per_second", Value: c.RequestsPerSecond, Reason: "must be positive"}
	case c.RequestsPerMinute <= 0:
		return &ConfigError{Field: "requests_per_minute", Value: c.RequestsPerMinute, Reason: "must be positive"}
	case c.RequestsPerHour <= 0:
		return &ConfigError{Field: "requests_per_hour", Value: c.RequestsPerHour, Reason: "must be positive"}
	case c.BurstCapacity <= 0:
		return &ConfigError{Field: "burst_capacity", Value: c.BurstCapacity, Reason: "must be positive"}
	case c.WindowSeconds <= 0:
		return &ConfigError{Field: "window_seconds", Value: c.WindowSeconds, Reason: "must be positive"}
	case c.RefillRate <= 0:
		return &ConfigError{Field: "refill_rate", Value: c.RefillRate, Reason: "must be positive"}
	}
	return nil
}

// DefaultTiers returns the built-in tier configs. The returned map is a
// fresh copy on every call.
func DefaultTiers() map[string]Config {
	return map[string]Config{
		TierFree: {
			RequestsPerSecond: 10,
			RequestsPerMinute: 100,
			RequestsPerHour:   1000,
			BurstCapacity:     10,
			WindowSeconds:     60,
			RefillRate:        1,
		},
		TierBasic: {
			RequestsPerSecond: 50,
			RequestsPerMinute: 1000,
			RequestsPerHour:   10000,
			BurstCapacity:     50,
			WindowSeconds:     60,
			RefillRate:        10,
		},
		TierPremium: {
			RequestsPerSecond: 200,
			RequestsPerMinute: 5000,
			RequestsPerHour:   50000,
			BurstCapacity:     200,
			WindowSeconds:     60,
			RefillRate:        50,
		},
		TierEnterprise: {
			RequestsPerSecond: 1000,
			RequestsPerMinute: 30000,
			RequestsPerHour:   500000,
			BurstCapacity:     1000,
			WindowSeconds:     60,
			RefillRate:        200,
		},
	}
}
