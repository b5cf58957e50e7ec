// Package objectsvc implements the service-object lifecycle every grain
// actor goes through: unallocated → activating → active → deactivating →
// removed. It defines the optional lifecycle hooks a registered type can
// implement, the per-field state load/save helpers those hooks call into
// internal/statestore, and the Activate/Shutdown orchestration that the
// connection-handling code in internal/service drives.
package objectsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/statestore"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "OSVC"

// ErrActivationFailed wraps whatever error a lifecycle hook returned (or the
// panic message recovered from one), and is the error Activate returns when
// a registered constructor's load lifecycle itself fails. The caller
// translates it to the wire protocol's Allocate variant.
var ErrActivationFailed = errors.New("objectsvc: activation failed")

// ErrKindNotRegistered is the error Activate returns when kind has no
// registered constructor at all, distinct from ErrActivationFailed so the
// caller can translate it to the wire protocol's NotSupported variant
// instead of Allocate, per rio-rs's own start_service_object, which returns
// ResponseError::NotSupported directly from the missing-constructor branch
// rather than folding it into the later activation-failure match.
var ErrKindNotRegistered = errors.New("objectsvc: kind not registered")

// BeforeLoadHook is implemented by service objects that need to run code
// before their managed state is loaded from storage.
type BeforeLoadHook interface {
	BeforeLoad(ctx context.Context, data *appdata.Data) error
}

// LoadStatesHook is implemented by service objects that have managed state
// fields to restore. Implementations typically call LoadState once per
// field, tolerating statestore.ErrNotFound as "first activation".
type LoadStatesHook interface {
	LoadStates(ctx context.Context, data *appdata.Data) error
}

// AfterLoadHook is implemented by service objects that need to run code
// after their managed state has been loaded.
type AfterLoadHook interface {
	AfterLoad(ctx context.Context, data *appdata.Data) error
}

// BeforeShutdownHook is implemented by service objects that need to run
// cleanup immediately before the object is removed from the registry and
// its placement entry erased.
type BeforeShutdownHook interface {
	BeforeShutdown(ctx context.Context, data *appdata.Data) error
}

// ShutdownCommand asks the server's admin-command consumer to remove (kind,
// id) from the registry and erase its placement entry. It's sent, not
// executed inline, because shutdown must happen on the same goroutine that
// owns those side effects (see internal/server's admin loop).
type ShutdownCommand struct {
	Kind string
	ID   string
}

// AdminSender delivers ShutdownCommands (and future admin commands) to the
// server's admin-command consumer. internal/server implements it and
// stores an instance in the shared appdata.Data so any activated object can
// reach it without a direct dependency on internal/server.
type AdminSender interface {
	Send(ctx context.Context, cmd ShutdownCommand) error
}

// LoadState fetches and decodes the state previously saved under (kind, id,
// stateName) from the Store registered in data. A missing entry is reported
// as statestore.ErrNotFound, which LoadStatesHook implementations should
// treat as "first activation, use the zero value" per spec.md §4.2.
func LoadState[T any](ctx context.Context, data *appdata.Data, kind, id, stateName string) (T, error) {
	var zero T

	store, ok := appdata.Get[statestore.Store](data)
	if !ok {
		return zero, fmt.Errorf("objectsvc: no statestore.Store in appdata")
	}

	raw, err := store.Load(ctx, kind, id, stateName)
	if err != nil {
		return zero, err
	}

	var value T
	if err := wire.Decode(raw, &value); err != nil {
		return zero, fmt.Errorf("objectsvc: decode state %s/%s/%s: %w", kind, id, stateName, err)
	}
	return value, nil
}

// SaveState encodes value and persists it under (kind, id, stateName) via
// the Store registered in data.
func SaveState[T any](ctx context.Context, data *appdata.Data, kind, id, stateName string, value T) error {
	store, ok := appdata.Get[statestore.Store](data)
	if !ok {
		return fmt.Errorf("objectsvc: no statestore.Store in appdata")
	}

	raw, err := wire.Encode(value)
	if err != nil {
		return fmt.Errorf("objectsvc: encode state %s/%s/%s: %w", kind, id, stateName, err)
	}

	return store.Save(ctx, kind, id, stateName, raw)
}

// Activate builds a fresh instance of kind via reg.NewFromType, runs its
// load lifecycle (before_load → load_states → after_load), and on success
// inserts it into reg under (kind, id). A missing constructor returns
// ErrKindNotRegistered. Any hook error, or a panic from one, reverts the
// attempt: the instance is removed from reg (it's never observably inserted
// in the failure path) and from placeStore, and ErrActivationFailed is
// returned wrapping the underlying cause.
func Activate(ctx context.Context, reg *registry.Registry, placeStore placement.Store,
	data *appdata.Data, kind, id string,
) (instance any, err error) {
	instance, ok := reg.NewFromType(kind, id)
	if !ok {
		return nil, fmt.Errorf("%w: kind %q has no registered constructor", ErrKindNotRegistered, kind)
	}

	if loadErr := runLoadLifecycle(ctx, instance, data); loadErr != nil {
		reg.Remove(kind, id)
		if removeErr := placeStore.Remove(ctx, objectid.New(kind, id)); removeErr != nil {
			log.Warnf("failed to erase placement for %s/%s after failed activation: %v",
				kind, id, removeErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrActivationFailed, loadErr)
	}

	reg.InsertInstance(kind, id, instance)
	return instance, nil
}

func runLoadLifecycle(ctx context.Context, instance any, data *appdata.Data) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during activation: %v", rec)
		}
	}()

	if hook, ok := instance.(BeforeLoadHook); ok {
		if err := hook.BeforeLoad(ctx, data); err != nil {
			return err
		}
	}

	if hook, ok := instance.(LoadStatesHook); ok {
		if err := hook.LoadStates(ctx, data); err != nil {
			return err
		}
	}

	if hook, ok := instance.(AfterLoadHook); ok {
		if err := hook.AfterLoad(ctx, data); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown runs instance's before_shutdown hook, then asks the server's
// admin-command consumer (reached via the AdminSender stored in data) to
// remove (kind, id) from the registry and erase its placement entry. It
// does not perform that removal itself.
func Shutdown(ctx context.Context, data *appdata.Data, instance any, kind, id string) error {
	if hook, ok := instance.(BeforeShutdownHook); ok {
		if err := hook.BeforeShutdown(ctx, data); err != nil {
			return err
		}
	}

	sender, ok := appdata.Get[AdminSender](data)
	if !ok {
		return fmt.Errorf("objectsvc: no AdminSender in appdata")
	}

	return sender.Send(ctx, ShutdownCommand{Kind: kind, ID: id})
}
