// Package placement tracks which server currently hosts each activated
// object. Every server and client consults a Store before dispatching a
// request, and every activation writes to one after claiming an object.
package placement

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/objectid"
)

// Subsystem tags log records emitted by this package and its backends.
const Subsystem = "PLCM"

// Store records and answers "which server holds object X" for every
// activated object in the cluster. Implementations must be safe for
// concurrent use.
type Store interface {
	// Update sets (or, if addr is None, clears) the placement entry for
	// id.
	Update(ctx context.Context, id objectid.ID, addr fn.Option[objectid.Address]) error

	// Lookup returns the server address currently recorded for id, or
	// None if the object has no recorded placement.
	Lookup(ctx context.Context, id objectid.ID) (fn.Option[objectid.Address], error)

	// CleanServer removes every placement entry that currently points at
	// addr. Called when a server is declared dead, so its objects can be
	// reactivated elsewhere.
	CleanServer(ctx context.Context, addr objectid.Address) error

	// Remove deletes the placement entry for id outright, regardless of
	// what address it currently points at.
	Remove(ctx context.Context, id objectid.ID) error
}

// ConditionalStore is an optional capability: a placement write that only
// takes effect if no entry currently exists for id. Backends that can
// express this atomically (a SQL upsert with DO NOTHING, or Redis SETNX)
// implement it so the service can resolve concurrent-activation races
// without a separate distributed lock.
type ConditionalStore interface {
	// UpdateIfAbsent claims id for addr if and only if no placement
	// currently exists for it. It reports whether the claim succeeded.
	UpdateIfAbsent(ctx context.Context, id objectid.ID, addr objectid.Address) (bool, error)
}
