package tenant

import (
	"errors"
	"fmt"
)

// ErrIsolation is the base sentinel for all tenant isolation violations.
// Both IsolationError and CrossTenantAccessError match it under errors.Is.
var ErrIsolation = errors.New("tenant isolation violation")

// IsolationError reports a tenant boundary fault that is not a proven
// cross-tenant access, such as touching an unregistered resource in strict
// mode or a missing active context.
type IsolationError struct {
	TenantID   string
	ResourceID string
	Reason     string
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation: %s (tenant=%s resource=%s)",
		e.Reason, e.TenantID, e.ResourceID)
}

func (e *IsolationError) Unwrap() error { return ErrIsolation }

// CrossTenantAccessError reports an attempted access to a resource owned by
// a different tenant. It is a distinct subtype so callers can handle it
// separately from the generic isolation case.
type CrossTenantAccessError struct {
	TenantID      string
	OwnerTenantID string
	ResourceID    string
	Operation     Operation
}

func (e *CrossTenantAccessError) Error() string {
	return fmt.Sprintf("cross-tenant access violation: tenant %s attempted %q on resource %s owned by tenant %s",
		e.TenantID, e.Operation, e.ResourceID, e.OwnerTenantID)
}

func (e *CrossTenantAccessError) Unwrap() error { return ErrIsolation }

// IsCrossTenant reports whether err is a cross-tenant access violation
func IsCrossTenant(err error) bool {
	var cte *CrossTenantAccessError
	return errors.As(err, &cte)
}
