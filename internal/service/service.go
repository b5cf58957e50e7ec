// Package service implements the request-handling entry point every
// accepted connection dispatches through: placement resolution, activation
// on demand, dispatch to the registry, and the subscription stream pump.
// It's the Go analogue of rio-rs's tower Service<RequestEnvelope>, minus
// the tower dependency itself — grain dispatches by hand rather than
// through a generic middleware stack.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/membership"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/router"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "SRVC"

// Service binds everything one server node needs to answer a Request or a
// SubscriptionRequest: its own address, the shared registry and message
// router, the cluster's membership and placement stores, and the shared
// appdata container passed through to every activated object. A Service is
// cheap to copy; apart from the Address string, every field is a pointer or
// an interface holding one.
type Service struct {
	Address         objectid.Address
	Registry        *registry.Registry
	Router          *router.MessageRouter
	MembershipStore membership.Store
	PlacementStore  placement.Store
	AppData         *appdata.Data
}

// Call resolves placement for req, activating the object locally if this
// node is where it belongs, then dispatches through the registry. It never
// returns a plain Go error: every failure is a populated *wire.ResponseError
// so the caller can serialize it straight onto the wire.
func (s *Service) Call(ctx context.Context, req wire.Request) (*wire.Response, *wire.ResponseError) {
	addr, rerr := s.resolvePlacement(ctx, req.HandlerType, req.HandlerID)
	if rerr != nil {
		return nil, rerr
	}

	if rerr := s.checkAddressMismatch(ctx, addr); rerr != nil {
		return nil, rerr
	}

	if rerr := s.startServiceObject(ctx, req.HandlerType, req.HandlerID); rerr != nil {
		return nil, rerr
	}

	body, err := s.Registry.Send(ctx, req.HandlerType, req.HandlerID, req.MessageType, req.Payload, s.AppData)
	if err != nil {
		return nil, s.translateHandlerError(ctx, req.HandlerType, req.HandlerID, err)
	}

	return &wire.Response{Ok: body}, nil
}

// Subscribe resolves placement the same way Call does, activates the
// object if needed, and returns a Receiver the caller pumps onto its
// connection. The caller owns the Receiver and must Close it when the
// stream ends.
func (s *Service) Subscribe(ctx context.Context, req wire.SubscriptionRequest) (*router.Receiver, *wire.ResponseError) {
	addr, rerr := s.resolvePlacement(ctx, req.HandlerType, req.HandlerID)
	if rerr != nil {
		return nil, rerr
	}

	if rerr := s.checkAddressMismatch(ctx, addr); rerr != nil {
		return nil, rerr
	}

	if rerr := s.startServiceObject(ctx, req.HandlerType, req.HandlerID); rerr != nil {
		return nil, rerr
	}

	return s.Router.Subscribe(req.HandlerType, req.HandlerID), nil
}

// resolvePlacement implements spec.md §4.4's placement-resolution
// algorithm: lookup, validate, liveness-check, claim-if-absent.
func (s *Service) resolvePlacement(ctx context.Context, kind, id string) (objectid.Address, *wire.ResponseError) {
	objID := objectid.New(kind, id)

	addr, err := s.PlacementStore.Lookup(ctx, objID)
	if err != nil {
		return "", &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
	}

	if addr.IsSome() {
		candidate := addr.UnwrapOr("")
		if !candidate.Valid() {
			log.Errorf("placement for %s is malformed: %q, erasing it", objID, candidate)
			if err := s.PlacementStore.Remove(ctx, objID); err != nil {
				log.Warnf("failed to erase malformed placement for %s: %v", objID, err)
			}
			addr = fn.None[objectid.Address]()
		} else {
			active, err := s.MembershipStore.IsActive(ctx, candidate.String())
			if err != nil {
				log.Warnf("membership check for %s failed, treating as inactive: %v", candidate, err)
				active = false
			}
			if !active {
				if err := s.PlacementStore.CleanServer(ctx, candidate); err != nil {
					log.Warnf("failed to clean dead server %s: %v", candidate, err)
				}
				addr = fn.None[objectid.Address]()
			}
		}
	}

	if addr.IsSome() {
		return addr.UnwrapOr(""), nil
	}

	// Claim the object for this node. When the store implements
	// ConditionalStore, claim with an insert-if-absent write so two nodes
	// racing for the same id don't both succeed; otherwise fall back to
	// plain Update, where last write wins and the client-side redirect
	// loop converges per spec.md §4.4.
	if cs, ok := s.PlacementStore.(placement.ConditionalStore); ok {
		claimed, err := cs.UpdateIfAbsent(ctx, objID, s.Address)
		if err != nil {
			return "", &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
		}
		if claimed {
			return s.Address, nil
		}

		// Lost the race: look up whoever did win instead of assuming
		// it's us.
		winner, err := s.PlacementStore.Lookup(ctx, objID)
		if err != nil {
			return "", &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
		}
		return winner.UnwrapOr(s.Address), nil
	}

	if err := s.PlacementStore.Update(ctx, objID, fn.Some(s.Address)); err != nil {
		return "", &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
	}

	return s.Address, nil
}

// checkAddressMismatch reports whether resolved differs from this node's
// own address, and if so, whether the caller should redirect (the foreign
// node is active) or deallocate (it's dead).
func (s *Service) checkAddressMismatch(ctx context.Context, resolved objectid.Address) *wire.ResponseError {
	if resolved.Equal(s.Address) {
		return nil
	}

	if !resolved.Valid() {
		return &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(fmt.Sprintf("malformed address: %q", resolved))}
	}

	active, err := s.MembershipStore.IsActive(ctx, resolved.String())
	if err != nil {
		return &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
	}

	if active {
		return &wire.ResponseError{Kind: wire.ErrRedirect, Addr: resolved.String()}
	}

	if err := s.PlacementStore.CleanServer(ctx, resolved); err != nil {
		log.Warnf("failed to clean dead server %s: %v", resolved, err)
	}
	return &wire.ResponseError{Kind: wire.ErrDeallocateServiceObject}
}

// startServiceObject activates (kind, id) if it isn't already in the
// registry. A missing constructor (kind was never registered at all) is
// reported as ErrNotSupported, matching rio-rs's start_service_object, which
// returns ResponseError::NotSupported directly from that branch. A failing
// lifecycle hook, or a panic from one, is instead translated to ErrAllocate,
// per rio-rs's own "turn internal Unknown into the user-facing Allocate"
// translation in service.rs. The two are kept apart because spec.md §8
// requires NotSupported(kind) and Allocate stay distinguishable outcomes.
func (s *Service) startServiceObject(ctx context.Context, kind, id string) *wire.ResponseError {
	if s.Registry.Has(kind, id) {
		return nil
	}

	if _, err := objectsvc.Activate(ctx, s.Registry, s.PlacementStore, s.AppData, kind, id); err != nil {
		log.Errorf("activation of %s/%s failed: %v", kind, id, err)
		if errors.Is(err, objectsvc.ErrKindNotRegistered) {
			return &wire.ResponseError{Kind: wire.ErrNotSupported, TypeKind: kind}
		}
		return &wire.ResponseError{Kind: wire.ErrAllocate}
	}

	return nil
}

// translateHandlerError maps a registry.HandlerError onto the wire
// protocol's ResponseError. ErrPanicked additionally evicts the object
// from both the registry and the placement store, matching spec.md §4.1's
// panic discipline: a single misbehaving object is torn down rather than
// left in an unknown state.
func (s *Service) translateHandlerError(ctx context.Context, kind, id string, err error) *wire.ResponseError {
	handlerErr, ok := err.(registry.HandlerError)
	if !ok {
		return &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(err.Error())}
	}

	switch handlerErr.Kind {
	case registry.ErrObjectNotFound, registry.ErrHandlerNotFound:
		return &wire.ResponseError{Kind: wire.ErrHandlerError, Body: []byte(handlerErr.Error())}
	case registry.ErrMessageSerializationError:
		return &wire.ResponseError{Kind: wire.ErrDeserializationError, Body: []byte(handlerErr.Error())}
	case registry.ErrResponseSerializationError:
		return &wire.ResponseError{Kind: wire.ErrSerializationError, Body: []byte(handlerErr.Error())}
	case registry.ErrApplicationError:
		return &wire.ResponseError{Kind: wire.ErrApplicationError, Body: handlerErr.Body}
	case registry.ErrPanicked:
		s.Registry.Remove(kind, id)
		if removeErr := s.PlacementStore.Remove(ctx, objectid.New(kind, id)); removeErr != nil {
			log.Warnf("failed to erase placement for %s/%s after panic: %v", kind, id, removeErr)
		}
		return &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte("panic")}
	default:
		return &wire.ResponseError{Kind: wire.ErrUnknown, Body: []byte(handlerErr.Error())}
	}
}
