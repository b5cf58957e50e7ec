// Package statestore persists the serialized field state of activated
// objects, keyed by (object kind, object id, state name), so an object can
// reload its data after being reactivated on a different server.
package statestore

import (
	"context"
	"errors"
)

// Subsystem tags log records emitted by this package and its backends.
const Subsystem = "STAT"

// ErrNotFound is returned by Load when no state has been saved yet for the
// given key. Service-object lifecycle code treats this as "first
// activation", not as a failure.
var ErrNotFound = errors.New("statestore: state not found")

// Store loads and saves the serialized state of a single named field on an
// activated object. The caller is responsible for serializing/
// deserializing data to and from its Go type; Store only moves bytes.
type Store interface {
	// Load returns the previously saved bytes for (kind, id, stateName),
	// or ErrNotFound if nothing has been saved yet.
	Load(ctx context.Context, kind, id, stateName string) ([]byte, error)

	// Save persists data under (kind, id, stateName), replacing any
	// value previously saved there.
	Save(ctx context.Context, kind, id, stateName string, data []byte) error
}
