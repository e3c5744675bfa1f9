// Package faas holds the shared data model (§3 of the specification):
// Function, TriggerSubscription, Task, and the permission/resource types
// threaded through every other component. No component other than the
// router, scheduler, or task store mutates these entities directly; they
// exchange them through the operation surfaces of their owning packages.
package faas

import "time"

// Permission is one capability a Function's deployment may grant to its
// sandboxed invocations.
type Permission string

const (
	PermOracleRead    Permission = "oracle.read"
	PermGasBankPay    Permission = "gasbank.pay"
	PermMetaTxSubmit  Permission = "metatx.submit"
	PermStorageRead   Permission = "storage.read"
	PermStorageWrite  Permission = "storage.write"
	PermChainRead     Permission = "chain.read"
)

// PermissionSet is an unordered set of granted Permissions.
type PermissionSet map[Permission]struct{}

// Has reports whether p is granted.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// NewPermissionSet builds a set from a permission list.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// ResourceLimits bounds a single invocation (§3, §4.2).
type ResourceLimits struct {
	MemoryBytes        int64
	CPUMillisPerInvoke int64
	WallTimeMS         int64
	MaxHostCallsByKind map[string]int

	// ConcurrencyCap overrides the scheduler's default per-function
	// concurrency cap (§4.2/§5: "stricter serialization must be opt-in by
	// the function's configuration"). Zero means "use the scheduler
	// default"; any positive value replaces the default as is, whether it
	// is lower or higher than the default.
	ConcurrencyCap int
}

// DefaultResourceLimits mirrors the defaults named in §4.2/§5.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:        64 << 20, // 64 MiB isolate heap cap
		CPUMillisPerInvoke: 30_000,
		WallTimeMS:         30_000, // default timeout_ms
		MaxHostCallsByKind: map[string]int{},
	}
}

// Lifecycle is a Function's version state.
type Lifecycle string

const (
	LifecycleCreated    Lifecycle = "created"
	LifecycleActive     Lifecycle = "active"
	LifecycleSuperseded Lifecycle = "superseded"
	LifecycleRetired    Lifecycle = "retired"
)

// Function is the immutable deployment unit described by §3. Updates
// produce a new version; the struct itself is never mutated after Deploy
// returns it.
type Function struct {
	ID      string
	OwnerID string
	Version int

	Source    string
	Triggers  []TriggerSpec
	Limits    ResourceLimits
	Perms     PermissionSet
	Lifecycle Lifecycle

	CreatedAt time.Time
}

// Supersede returns a copy of f transitioned to Superseded, used when a new
// version of the same function is deployed. The new version itself starts
// in LifecycleCreated then LifecycleActive once its triggers are registered.
func (f Function) Supersede() Function {
	f.Lifecycle = LifecycleSuperseded
	return f
}

// Retire returns a copy of f transitioned to Retired.
func (f Function) Retire() Function {
	f.Lifecycle = LifecycleRetired
	return f
}
