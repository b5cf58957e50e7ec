// Package membership tracks which servers belong to the cluster and
// whether they're currently believed to be alive. It's the storage layer
// a ClusterProvider's liveness probe loop reads and writes; it does not
// itself decide whether a server is up.
package membership

import (
	"context"
	"time"
)

// Subsystem tags log records emitted by this package.
const Subsystem = "MBSP"

// Member is a single server participating in the cluster.
type Member struct {
	// Addr is the "ip:port" the server listens on, and the storage key
	// every other method addresses it by.
	Addr string

	// Active reports whether the liveness probe currently believes this
	// server is reachable.
	Active bool

	// LastSeen is the last time Active was set, regardless of value.
	LastSeen time.Time
}

// Store records cluster membership and per-member liveness state. It is
// deliberately ignorant of *how* liveness is determined; that's
// ClusterProvider's job (see provider.go). Implementations must be safe
// for concurrent use.
type Store interface {
	// Push adds member to the store. Pushing an address that's already
	// present is allowed: LocalStore and SqlStore simply add a duplicate
	// entry, mirroring the reference implementation's own "doesn't bother
	// deduplicating" behavior, so Members() callers are expected to
	// tolerate it; RedisStore keeps one entry per address and overwrites
	// it.
	Push(ctx context.Context, member Member) error

	// Remove deletes every entry for addr.
	Remove(ctx context.Context, addr string) error

	// SetActive updates the active flag (and LastSeen) for every entry
	// matching addr.
	SetActive(ctx context.Context, addr string, active bool) error

	// Members returns every member currently recorded.
	Members(ctx context.Context) ([]Member, error)

	// ActiveMembers returns only the members currently marked active.
	ActiveMembers(ctx context.Context) ([]Member, error)

	// IsActive reports whether addr is currently marked active.
	IsActive(ctx context.Context, addr string) (bool, error)

	// NotifyFailure records a liveness-probe failure for addr at the
	// current time. It does not itself change the member's active flag.
	NotifyFailure(ctx context.Context, addr string) error

	// MemberFailures returns the timestamps of every failure recorded
	// for addr, bounded to at most MaxFailureHistory entries (oldest
	// dropped first) so a perpetually-probed dead server can't grow the
	// failure log without bound.
	MemberFailures(ctx context.Context, addr string) ([]time.Time, error)
}

// MaxFailureHistory bounds how many failure timestamps a Store keeps per
// member. The liveness window (Config.FailureWindow) is normally
// far shorter than what it'd take to accumulate this many entries; the cap
// exists only to guard against a server that's been down for a very long
// time without being evicted from membership.
const MaxFailureHistory = 100
