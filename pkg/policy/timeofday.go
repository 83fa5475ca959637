package policy

import (
	"fmt"
	"sort"
	"time"
)

// TimeBasedPolicy allows requests only during a configured set of UTC hours.
// The clock is injectable for tests.
type TimeBasedPolicy struct {
	id       string
	priority int
	hours    map[int]struct{}
	now      func() time.Time
}

// TimeBasedOption configures a TimeBasedPolicy
type TimeBasedOption func(*TimeBasedPolicy)

// WithClock overrides the policy's time source
func WithClock(now func() time.Time) TimeBasedOption {
	return func(p *TimeBasedPolicy) { p.now = now }
}

// NewTimeBasedPolicy builds a time-of-day policy allowing the given UTC hours
func NewTimeBasedPolicy(id string, priority int, allowedHours []int, opts ...TimeBasedOption) *TimeBasedPolicy {
	hours := make(map[int]struct{}, len(allowedHours))
	for _, h := range allowedHours {
		hours[h] = struct{}{}
	}
	p := &TimeBasedPolicy{
		id:       id,
		priority: priority,
		hours:    hours,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BusinessHours returns the hour range [from, to) as a slice for
// NewTimeBasedPolicy
func BusinessHours(from, to int) []int {
	hours := make([]int, 0, to-from)
	for h := from; h < to; h++ {
		hours = append(hours, h)
	}
	return hours
}

func (p *TimeBasedPolicy) ID() string    { return p.id }
func (p *TimeBasedPolicy) Priority() int { return p.priority }

// AppliesTo always applies
func (p *TimeBasedPolicy) AppliesTo(ec *EvaluationContext) bool { return ec != nil }

func (p *TimeBasedPolicy) Evaluate(ec *EvaluationContext) (Result, error) {
	hour := p.now().UTC().Hour()
	if _, ok := p.hours[hour]; ok {
		return Result{
			Decision: Allow,
			Reason:   fmt.Sprintf("hour %02d UTC is within allowed hours", hour),
			PolicyID: p.id,
		}, nil
	}

	return Result{
		Decision: Deny,
		Reason:   fmt.Sprintf("hour %02d UTC is outside allowed hours %v", hour, p.sortedHours()),
		PolicyID: p.id,
	}, nil
}

func (p *TimeBasedPolicy) sortedHours() []int {
	hours := make([]int, 0, len(p.hours))
	for h := range p.hours {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	return hours
}
