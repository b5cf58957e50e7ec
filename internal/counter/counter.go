// Package counter implements a minimal example grain: a durable counter
// keyed by id, incremented by a single message kind. It exists so
// cmd/graind has a concrete registered type to activate, place, and
// persist, the same role rio-rs's ping-pong Room and presence
// PresenceService play for their own example servers.
package counter

import (
	"context"
	"errors"
	"sync"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/statestore"
)

// Kind is the registry kind name cmd/graind binds this type under.
const Kind = "Counter"

const stateName = "count"

// Counter is a service object holding a single persisted int64. Activation
// restores it from the configured statestore.Store, tolerating a first
// activation where nothing has been saved yet.
type Counter struct {
	id string

	mu    sync.Mutex
	count int64
}

// New constructs an unloaded Counter for id. objectsvc.Activate calls this
// via the registry's constructor, then drives the load lifecycle below
// before the instance is reachable by any handler.
func New(id string) *Counter {
	return &Counter{id: id}
}

// LoadStates implements objectsvc.LoadStatesHook.
func (c *Counter) LoadStates(ctx context.Context, data *appdata.Data) error {
	value, err := objectsvc.LoadState[int64](ctx, data, Kind, c.id, stateName)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.count = value
	c.mu.Unlock()
	return nil
}

// IncrementMessage asks the counter to add By to its current value. A zero
// value returns the current count unchanged (and still saves it).
type IncrementMessage struct {
	By int64
}

// IncrementHandler implements registry.Handler[*Counter, IncrementMessage, int64].
type IncrementHandler struct{}

// Handle applies msg.By to obj's in-memory count, persists the new value,
// and returns it.
func (IncrementHandler) Handle(ctx context.Context, obj *Counter, msg IncrementMessage, data *appdata.Data) (int64, error) {
	obj.mu.Lock()
	obj.count += msg.By
	newCount := obj.count
	obj.mu.Unlock()

	if err := objectsvc.SaveState(ctx, data, Kind, obj.id, stateName, newCount); err != nil {
		return 0, err
	}
	return newCount, nil
}
