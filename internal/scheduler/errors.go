package scheduler

import "errors"

// ErrAtCapacity is returned when StartJob is called for a tenant that has no
// free concurrency slot. Per spec.md §7 this is a programming error, not a
// transient condition: callers must check IsAtCapacity first. The main loop
// treats it as fatal.
var ErrAtCapacity = errors.New("scheduler: tenant is at capacity")

// ErrUnknownTenant is returned by operations addressed to a teamId the
// scheduler has no TenantState for.
var ErrUnknownTenant = errors.New("scheduler: unknown tenant")
