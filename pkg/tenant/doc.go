// Package tenant defines the request-scoped tenant identity shared by every
// governance gate, the closed catalogue of governed operations, and the
// isolation Guard that owns the resource→tenant ownership map and the
// active-context registry.
//
// The Guard enforces two hard invariants:
//
//   - Resource ownership is first-write-wins. Once a resource id is bound to
//     a tenant, rebinding it to a different tenant is a CrossTenantAccessError,
//     never a silent reassignment.
//   - Active contexts are scoped acquisitions. A context registered at request
//     entry must be cleaned up at request exit on every code path, so the
//     registry never leaks entries across requests.
package tenant
