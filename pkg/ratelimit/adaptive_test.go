package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

func newTestAdaptive(t *testing.T, cfg Config, clock *fakeClock) (*AdaptiveLimiter, *Limiter) {
	t.Helper()
	base := newTestLimiter(t, cfg, clock)
	return NewAdaptiveLimiter(base, WithAdaptiveClock(clock.Now)), base
}

func TestUpdateSystemLoad_Clamps(t *testing.T) {
	clock := newFakeClock()
	a, _ := newTestAdaptive(t, DefaultTiers()[TierFree], clock)

	tests := []struct {
		in, want float64
	}{
		{5.0, 2.0},
		{2.0, 2.0},
		{1.5, 1.5},
		{0.1, 0.1},
		{0.01, 0.1},
		{-3, 0.1},
	}
	for _, tt := range tests {
		a.UpdateSystemLoad(tt.in)
		assert.Equal(t, tt.want, a.SystemLoad())
	}
}

func TestRecordError_BoundedHistory(t *testing.T) {
	clock := newFakeClock()
	a, _ := newTestAdaptive(t, DefaultTiers()[TierFree], clock)

	for i := 0; i < 150; i++ {
		a.RecordError("t1", "timeout")
	}
	assert.Equal(t, errorHistorySize, a.RecentErrors("t1"))
}

func TestRecentErrors_TrailingWindowOnly(t *testing.T) {
	clock := newFakeClock()
	a, _ := newTestAdaptive(t, DefaultTiers()[TierFree], clock)

	a.RecordError("t1", "timeout")
	clock.Advance(301 * time.Second)
	a.RecordError("t1", "timeout")

	assert.Equal(t, 1, a.RecentErrors("t1"))
}

func TestAdaptiveConfig_ScalesWithLoad(t *testing.T) {
	clock := newFakeClock()
	base := Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
		BurstCapacity:     10,
		WindowSeconds:     60,
		RefillRate:        10,
	}
	a, _ := newTestAdaptive(t, base, clock)

	// Double load and no recent errors halves every limit.
	a.UpdateSystemLoad(2.0)
	derived := a.AdaptiveConfig("t1")
	assert.Equal(t, 5, derived.RequestsPerSecond)
	assert.Equal(t, 50, derived.RequestsPerMinute)
	assert.Equal(t, 500, derived.RequestsPerHour)
	assert.Equal(t, 5, derived.BurstCapacity)
	assert.Equal(t, 30, derived.WindowSeconds)
	assert.InDelta(t, 5, derived.RefillRate, 1e-9)
	require.NoError(t, derived.Validate())
}

func TestAdaptiveConfig_ErrorRatePenalty(t *testing.T) {
	clock := newFakeClock()
	base := Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
		BurstCapacity:     10,
		WindowSeconds:     60,
		RefillRate:        10,
	}
	a, _ := newTestAdaptive(t, base, clock)

	// 30 errors in the trailing window: error_rate = 0.1, so the error term
	// bottoms out at the 0.1 floor.
	for i := 0; i < 30; i++ {
		a.RecordError("t1", "policy_fault")
	}
	derived := a.AdaptiveConfig("t1")
	assert.Equal(t, 1, derived.RequestsPerSecond)
	assert.Equal(t, 10, derived.RequestsPerMinute)
	assert.Equal(t, 100, derived.RequestsPerHour)
	assert.InDelta(t, 1, derived.RefillRate, 1e-9)

	// Other tenants are unaffected.
	other := a.AdaptiveConfig("t2")
	assert.Equal(t, 10, other.RequestsPerSecond)
}

func TestAdaptiveConfig_NeverBelowOne(t *testing.T) {
	clock := newFakeClock()
	base := Config{
		RequestsPerSecond: 2,
		RequestsPerMinute: 5,
		RequestsPerHour:   10,
		BurstCapacity:     2,
		WindowSeconds:     60,
		RefillRate:        1,
	}
	a, _ := newTestAdaptive(t, base, clock)

	a.UpdateSystemLoad(2.0)
	for i := 0; i < 100; i++ {
		a.RecordError("t1", "timeout")
	}

	derived := a.AdaptiveConfig("t1")
	require.NoError(t, derived.Validate())
	assert.Equal(t, 1, derived.RequestsPerSecond)
	assert.Equal(t, 1, derived.BurstCapacity)
}

func TestAdaptiveCheck_RestoresMissingOverride(t *testing.T) {
	clock := newFakeClock()
	a, base := newTestAdaptive(t, DefaultTiers()[TierBasic], clock)

	a.UpdateSystemLoad(2.0)
	require.NoError(t, a.Check("t1", tenant.OpReadWorkflow, 1))

	// The tenant had no override before the check; it has none after.
	_, ok := base.TenantConfig("t1")
	assert.False(t, ok)
}

func TestAdaptiveCheck_RestoresPriorOverride(t *testing.T) {
	clock := newFakeClock()
	a, base := newTestAdaptive(t, DefaultTiers()[TierBasic], clock)

	prior := DefaultTiers()[TierPremium]
	require.NoError(t, base.SetTenantConfig("t1", prior))

	a.UpdateSystemLoad(2.0)
	require.NoError(t, a.Check("t1", tenant.OpReadWorkflow, 1))

	got, ok := base.TenantConfig("t1")
	require.True(t, ok)
	assert.Equal(t, prior, got)
}

func TestAdaptiveCheck_RestoresOnRejection(t *testing.T) {
	clock := newFakeClock()
	base := Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
		BurstCapacity:     2,
		WindowSeconds:     60,
		RefillRate:        1,
	}
	a, limiter := newTestAdaptive(t, base, clock)

	prior := DefaultTiers()[TierFree]
	require.NoError(t, limiter.SetTenantConfig("t1", prior))
	a.UpdateSystemLoad(2.0)

	// Derived burst capacity is 5; asking for 6 tokens fails at the bucket.
	err := a.Check("t1", tenant.OpExecuteWorkflow, 6)
	var limErr *LimitExceededError
	require.True(t, errors.As(err, &limErr))
	assert.Equal(t, "bucket", limErr.Gate)

	// The rejection path restores the stored config too.
	got, ok := limiter.TenantConfig("t1")
	require.True(t, ok)
	assert.Equal(t, prior, got)
}

func TestAdaptiveCheck_ConcurrentSameTenantLeavesNoOverride(t *testing.T) {
	clock := newFakeClock()
	a, base := newTestAdaptive(t, DefaultTiers()[TierEnterprise], clock)
	a.UpdateSystemLoad(2.0)

	// Overlapping checks on the same tenant must never capture another
	// check's derived config as the prior state.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = a.Check("t1", tenant.OpEnqueue, 1)
			}
		}()
	}
	wg.Wait()

	_, ok := base.TenantConfig("t1")
	assert.False(t, ok, "a derived config leaked into the tenant's steady state")
}

func TestAdaptiveCheck_ConcurrentSameTenantRestoresPriorOverride(t *testing.T) {
	clock := newFakeClock()
	a, base := newTestAdaptive(t, DefaultTiers()[TierBasic], clock)

	prior := DefaultTiers()[TierEnterprise]
	require.NoError(t, base.SetTenantConfig("t1", prior))
	a.UpdateSystemLoad(2.0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = a.Check("t1", tenant.OpEnqueue, 1)
			}
		}()
	}
	wg.Wait()

	got, ok := base.TenantConfig("t1")
	require.True(t, ok)
	assert.Equal(t, prior, got)
}
