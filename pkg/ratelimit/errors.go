package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/michaelayoade/dotmac-governance/pkg/tenant"
)

// ErrRateLimited is the sentinel all rate-limit rejections unwrap to
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitExceededError reports a rejected check. Gate names the stage that
// rejected ("bucket", "second", "minute", "hour") and RetryAfter tells the
// caller how long to back off. Always recoverable by retrying later.
type LimitExceededError struct {
	TenantID   string
	Operation  tenant.Operation
	Gate       string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tenant %s on %s (%s gate), retry after %s",
		e.TenantID, e.Operation, e.Gate, e.RetryAfter)
}

func (e *LimitExceededError) Unwrap() error { return ErrRateLimited }

// IsRateLimited reports whether err is a rate-limit rejection
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// ConfigError reports a malformed rate config. Fatal at setup time, never a
// per-request condition.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rate limit config: %s=%v: %s", e.Field, e.Value, e.Reason)
}
