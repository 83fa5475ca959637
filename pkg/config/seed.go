package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/michaelayoade/dotmac-governance/pkg/policy"
	"github.com/michaelayoade/dotmac-governance/pkg/ratelimit"
	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// Seed is the governance data supplied at startup: rate tiers, role grants,
// policy settings and audit bounds. Everything here is seed data with a
// built-in default; an operator overrides only what they need.
type Seed struct {
	Algorithm  string `yaml:"algorithm"`
	StrictMode bool   `yaml:"strict_mode"`

	DefaultTier string                      `yaml:"default_tier"`
	Tiers       map[string]ratelimit.Config `yaml:"tiers"`

	RoleGrants map[string][]string `yaml:"role_grants"`

	BusinessHours BusinessHoursSeed `yaml:"business_hours"`

	Audit AuditSeed `yaml:"audit"`
}

// BusinessHoursSeed configures the default time-based policy
type BusinessHoursSeed struct {
	Enabled   bool `yaml:"enabled"`
	StartHour int  `yaml:"start_hour"`
	EndHour   int  `yaml:"end_hour"`
	Priority  int  `yaml:"priority"`
}

// AuditSeed bounds the in-memory audit log
type AuditSeed struct {
	MaxEntries  int `yaml:"max_entries"`
	TrimEntries int `yaml:"trim_entries"`
}

// DefaultSeed returns the built-in governance defaults
func DefaultSeed() *Seed {
	return &Seed{
		Algorithm:   string(policy.DenyOverrides),
		DefaultTier: ratelimit.TierFree,
		Tiers:       ratelimit.DefaultTiers(),
		RoleGrants:  stringGrants(policy.DefaultRoleGrants()),
		BusinessHours: BusinessHoursSeed{
			Enabled:   true,
			StartHour: 9,
			EndHour:   18,
			Priority:  50,
		},
		Audit: AuditSeed{
			MaxEntries:  10000,
			TrimEntries: 5000,
		},
	}
}

// LoadSeed reads a YAML seed file and overlays it on the defaults. Sections
// absent from the file keep their default values.
func LoadSeed(path string) (*Seed, error) {
	seed := DefaultSeed()
	if path == "" {
		return seed, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return seed, nil
}

// Validate checks the seed's governance data
func (s *Seed) Validate() error {
	switch policy.Algorithm(s.Algorithm) {
	case policy.DenyOverrides, policy.PermitOverrides, policy.FirstApplicable:
	default:
		return fmt.Errorf("unknown combination algorithm %q", s.Algorithm)
	}

	if _, ok := s.Tiers[s.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q has no tier config", s.DefaultTier)
	}
	for name, tier := range s.Tiers {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("tier %q: %w", name, err)
		}
	}

	if s.BusinessHours.Enabled {
		bh := s.BusinessHours
		if bh.StartHour < 0 || bh.StartHour > 23 || bh.EndHour < 1 || bh.EndHour > 24 || bh.StartHour >= bh.EndHour {
			return fmt.Errorf("invalid business hours %d-%d", bh.StartHour, bh.EndHour)
		}
	}

	a := s.Audit
	if a.MaxEntries <= 0 || a.TrimEntries <= 0 || a.TrimEntries > a.MaxEntries {
		return fmt.Errorf("invalid audit bounds max=%d trim=%d", a.MaxEntries, a.TrimEntries)
	}
	return nil
}

// Grants converts the seed's role grants to typed operations
func (s *Seed) Grants() map[string][]tenant.Operation {
	grants := make(map[string][]tenant.Operation, len(s.RoleGrants))
	for role, ops := range s.RoleGrants {
		typed := make([]tenant.Operation, 0, len(ops))
		for _, op := range ops {
			typed = append(typed, tenant.Operation(op))
		}
		grants[role] = typed
	}
	return grants
}

// DefaultTierConfig returns the config of the seed's default tier
func (s *Seed) DefaultTierConfig() ratelimit.Config {
	return s.Tiers[s.DefaultTier]
}

func stringGrants(grants map[string][]tenant.Operation) map[string][]string {
	out := make(map[string][]string, len(grants))
	for role, ops := range grants {
		strs := make([]string, 0, len(ops))
		for _, op := range ops {
			strs = append(strs, string(op))
		}
		out[role] = strs
	}
	return out
}
