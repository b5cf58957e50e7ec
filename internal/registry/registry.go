// Package registry is grain's typed runtime dispatch table: it maps a
// (kind, id) pair to a live object instance, and a (kind, message kind) pair
// to the invoker that deserializes a message, calls the object's handler
// under its per-object exclusive lock, and serializes the result.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "REGY"

// HandlerErrorKind discriminates the ways Registry.Send can fail.
type HandlerErrorKind uint8

const (
	// ErrObjectNotFound means no instance is registered under (kind, id).
	ErrObjectNotFound HandlerErrorKind = iota + 1

	// ErrHandlerNotFound means no handler was registered for (kind, msgKind).
	ErrHandlerNotFound

	// ErrMessageSerializationError means the request payload didn't
	// decode as the handler's expected message type.
	ErrMessageSerializationError

	// ErrResponseSerializationError means the handler's result couldn't
	// be encoded back to bytes.
	ErrResponseSerializationError

	// ErrUnknownHandler covers type-assertion failures that should never
	// happen given a correctly built Registry. Panics are ErrPanicked.
	ErrUnknownHandler

	// ErrApplicationError means the handler itself returned an error; Body
	// carries that error's Error() string, msgpack-encoded the same way a
	// successful result would be. The error's Go type is not carried.
	ErrApplicationError

	// ErrPanicked means the handler invocation panicked; Registry recovers
	// it so one misbehaving object can't take the connection (or the
	// server) down with it.
	ErrPanicked
)

// HandlerError reports why Registry.Send failed. It mirrors the wire
// package's ResponseError discriminated-union shape, since Service maps one
// directly onto the other.
type HandlerError struct {
	Kind HandlerErrorKind
	Body []byte
}

func (e HandlerError) Error() string {
	switch e.Kind {
	case ErrObjectNotFound:
		return "registry: object not found"
	case ErrHandlerNotFound:
		return "registry: handler not found"
	case ErrMessageSerializationError:
		return "registry: message serialization error"
	case ErrResponseSerializationError:
		return "registry: response serialization error"
	case ErrApplicationError:
		return "registry: application error"
	case ErrPanicked:
		return "registry: handler panicked"
	default:
		return "registry: unknown error"
	}
}

type objectKey struct {
	kind string
	id   string
}

// objectEntry owns one live instance plus the exclusive lock that serializes
// every handler invocation against it. Handlers for different objects never
// contend on this lock; only handlers for the *same* object do.
type objectEntry struct {
	mu       sync.Mutex
	instance any
}

// Invoker decodes payload into the message type a registered handler
// expects, calls the handler against instance, and encodes the result. It's
// built by RegisterHandler; callers never construct one directly.
type Invoker func(ctx context.Context, instance any, data *appdata.Data, payload []byte) ([]byte, error)

// Constructor builds a zero-valued instance of some registered type with its
// id already set. It's built by RegisterType.
type Constructor func(id string) any

// Registry stores live object instances and the handler/constructor tables
// used to build and dispatch to them. The zero value is not usable; use New.
type Registry struct {
	mu sync.RWMutex

	// objects holds every activated instance, keyed by (kind, id).
	objects map[objectKey]*objectEntry

	// types maps a kind to the constructor that builds a fresh instance.
	types map[string]Constructor

	// typeNames records, per kind, the Go type name the kind was first
	// registered with, so a conflicting second registration under the
	// same kind can be detected and rejected instead of silently
	// shadowing the first.
	typeNames map[string]string

	// handlers maps (kind, message kind) to its invoker. Write-once per
	// key at startup; read-only thereafter. Send reads it under mu's read
	// lock.
	handlers map[handlerKey]Invoker
}

type handlerKey struct {
	kind    string
	msgKind string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		objects:   make(map[objectKey]*objectEntry),
		types:     make(map[string]Constructor),
		typeNames: make(map[string]string),
		handlers:  make(map[handlerKey]Invoker),
	}
}

// RegisterType binds kind to a constructor producing a fresh T instance
// with id set. A duplicate registration for the same kind with the same Go
// type is ignored; registering a *different* Go type under an already-bound
// kind is rejected and logged, leaving the original registration intact.
func RegisterType[T any](r *Registry, kind string, construct func(id string) T) {
	var zero T
	typeName := fmt.Sprintf("%T", zero)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.typeNames[kind]; ok {
		if existing != typeName {
			log.Warnf("kind %q already registered with type %s, "+
				"ignoring registration of %s", kind, existing, typeName)
		}
		return
	}

	r.typeNames[kind] = typeName
	r.types[kind] = func(id string) any {
		return construct(id)
	}
}

// Handler is the contract a registered (T, M) pair implements: given a
// decoded message and the server's shared application data, produce a
// result or a typed application error.
type Handler[T any, M any, R any] interface {
	Handle(ctx context.Context, obj T, msg M, data *appdata.Data) (R, error)
}

// RegisterHandler binds (kind, msgKind) to an invoker that decodes the
// request payload as M, acquires the target object's exclusive lock,
// dispatches through h, and encodes the R result (or, on handler error, the
// error value) back to bytes. It never holds the objects map lock across
// the handler's call.
func RegisterHandler[T any, M any, R any](r *Registry, kind, msgKind string, h Handler[T, M, R]) {
	invoker := func(ctx context.Context, instance any, data *appdata.Data, payload []byte) ([]byte, error) {
		obj, ok := instance.(T)
		if !ok {
			return nil, HandlerError{Kind: ErrUnknownHandler}
		}

		var msg M
		if err := wire.Decode(payload, &msg); err != nil {
			return nil, HandlerError{Kind: ErrMessageSerializationError}
		}

		result, handleErr := h.Handle(ctx, obj, msg, data)
		if handleErr != nil {
			body, encErr := wire.Encode(handleErr.Error())
			if encErr != nil {
				return nil, HandlerError{Kind: ErrResponseSerializationError}
			}
			return nil, HandlerError{Kind: ErrApplicationError, Body: body}
		}

		encoded, err := wire.Encode(result)
		if err != nil {
			return nil, HandlerError{Kind: ErrResponseSerializationError}
		}
		return encoded, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := handlerKey{kind: kind, msgKind: msgKind}
	if _, exists := r.handlers[key]; exists {
		log.Warnf("handler for (%s, %s) already registered, keeping the first", kind, msgKind)
		return
	}
	r.handlers[key] = invoker
}

// Send looks up the invoker for (kind, msgKind) and dispatches payload to
// the object named by id, returning its encoded result. The per-object lock
// is held only across the invoker call, never across the lookup.
//
// A panic inside the invoker is recovered and reported as
// HandlerError{Kind: ErrPanicked} rather than crashing the caller's
// goroutine; the caller (Service) is responsible for then evicting the
// object from both this Registry and the placement store, per spec.md
// §4.1's panic discipline.
func (r *Registry) Send(ctx context.Context, kind, id, msgKind string, payload []byte, data *appdata.Data) (result []byte, err error) {
	r.mu.RLock()
	invoker, handlerOK := r.handlers[handlerKey{kind: kind, msgKind: msgKind}]
	entry, objectOK := r.objects[objectKey{kind: kind, id: id}]
	r.mu.RUnlock()

	if !handlerOK {
		return nil, HandlerError{Kind: ErrHandlerNotFound}
	}
	if !objectOK {
		return nil, HandlerError{Kind: ErrObjectNotFound}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("handler for (%s, %s, %s) panicked: %v", kind, id, msgKind, rec)
			result, err = nil, HandlerError{Kind: ErrPanicked}
		}
	}()

	return invoker(ctx, entry.instance, data, payload)
}

// Has reports whether an instance is registered under (kind, id).
func (r *Registry) Has(kind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.objects[objectKey{kind: kind, id: id}]
	return ok
}

// InsertInstance registers instance under (kind, id), replacing anything
// previously there.
func (r *Registry) InsertInstance(kind, id string, instance any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[objectKey{kind: kind, id: id}] = &objectEntry{instance: instance}
}

// Remove deletes the instance registered under (kind, id), if any.
func (r *Registry) Remove(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, objectKey{kind: kind, id: id})
}

// NewFromType builds a fresh instance for kind via its registered
// constructor, with id already set. The second return is false if kind was
// never registered with RegisterType.
func (r *Registry) NewFromType(kind, id string) (any, bool) {
	r.mu.RLock()
	constructor, ok := r.types[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return constructor(id), true
}

// ID is a convenience constructor mirroring objectid.New, re-exported so
// callers that only import registry for dispatch don't also need
// internal/objectid for simple cases.
func ID(kind, id string) objectid.ID {
	return objectid.New(kind, id)
}
