package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/membership"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/router"
	"github.com/rcelha/grain/internal/statestore"
	"github.com/rcelha/grain/internal/wire"
	"github.com/stretchr/testify/require"
)

type greeter struct{ id string }

func newGreeter(id string) *greeter { return &greeter{id: id} }

type greetingMessage struct{ Name string }

type greetingHandler struct{}

func (greetingHandler) Handle(_ context.Context, g *greeter, msg greetingMessage, _ *appdata.Data) (string, error) {
	return g.id + " says hi to " + msg.Name, nil
}

type panickingGreeter struct{}

func newPanickingGreeter(_ string) *panickingGreeter { return &panickingGreeter{} }

type panickingHandler struct{}

func (panickingHandler) Handle(_ context.Context, _ *panickingGreeter, _ greetingMessage, _ *appdata.Data) (string, error) {
	panic("boom")
}

func newTestService(t *testing.T, selfAddr string) *Service {
	t.Helper()

	reg := registry.New()
	registry.RegisterType[*greeter](reg, "Greeter", newGreeter)
	registry.RegisterHandler[*greeter, greetingMessage, string](reg, "Greeter", "GreetingMessage", greetingHandler{})
	registry.RegisterType[*panickingGreeter](reg, "Panicker", newPanickingGreeter)
	registry.RegisterHandler[*panickingGreeter, greetingMessage, string](reg, "Panicker", "GreetingMessage", panickingHandler{})

	data := appdata.New()
	appdata.Set[statestore.Store](data, statestore.NewLocalStore())

	membershipStore := membership.NewLocalStore()
	require.NoError(t, membershipStore.Push(context.Background(), membership.Member{Addr: selfAddr}))
	require.NoError(t, membershipStore.SetActive(context.Background(), selfAddr, true))

	return &Service{
		Address:         objectid.Address(selfAddr),
		Registry:        reg,
		Router:          router.New(),
		MembershipStore: membershipStore,
		PlacementStore:  placement.NewLocalStore(),
		AppData:         data,
	}
}

func encodedGreeting(t *testing.T, name string) []byte {
	t.Helper()
	payload, err := wire.Encode(greetingMessage{Name: name})
	require.NoError(t, err)
	return payload
}

// TestCallClaimsAndActivatesOnFirstRequest verifies an unplaced object is
// claimed for this node, activated, and its handler invoked, all on the
// first request.
func TestCallClaimsAndActivatesOnFirstRequest(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	resp, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Greeter",
		HandlerID:   "alice",
		MessageType: "GreetingMessage",
		Payload:     encodedGreeting(t, "bob"),
	})
	require.Nil(t, rerr)

	var result string
	require.NoError(t, wire.Decode(resp.Ok, &result))
	require.Equal(t, "alice says hi to bob", result)

	require.True(t, svc.Registry.Has("Greeter", "alice"))

	addr, err := svc.PlacementStore.Lookup(ctx, objectid.New("Greeter", "alice"))
	require.NoError(t, err)
	require.Equal(t, objectid.Address("127.0.0.1:9000"), addr.UnwrapOr(""))
}

// TestCallReusesAlreadyActivatedObject verifies a second request against
// the same object dispatches directly without re-activating.
func TestCallReusesAlreadyActivatedObject(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	_, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Greeter", HandlerID: "alice",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.Nil(t, rerr)

	resp, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Greeter", HandlerID: "alice",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "carol"),
	})
	require.Nil(t, rerr)

	var result string
	require.NoError(t, wire.Decode(resp.Ok, &result))
	require.Equal(t, "alice says hi to carol", result)
}

// TestCallRedirectsToActiveForeignServer verifies a request for an object
// already placed on a live foreign server gets Redirect, not a local
// activation attempt.
func TestCallRedirectsToActiveForeignServer(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	require.NoError(t, svc.MembershipStore.Push(ctx, membership.Member{Addr: "127.0.0.1:9001"}))
	require.NoError(t, svc.MembershipStore.SetActive(ctx, "127.0.0.1:9001", true))
	require.NoError(t, svc.PlacementStore.Update(ctx, objectid.New("Greeter", "alice"),
		fn.Some(objectid.Address("127.0.0.1:9001"))))

	_, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Greeter", HandlerID: "alice",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrRedirect, rerr.Kind)
	require.Equal(t, "127.0.0.1:9001", rerr.Addr)

	require.False(t, svc.Registry.Has("Greeter", "alice"), "must not activate locally when placed elsewhere")
}

// TestCheckAddressMismatchDeallocatesDeadForeignServer verifies
// checkAddressMismatch reports DeallocateServiceObject, and cleans the
// placement store, when the resolved address names an inactive foreign
// server. This is exercised directly rather than through Call because
// resolvePlacement's own liveness check already self-heals a dead
// placement before checkAddressMismatch ever sees it; the two checks only
// disagree in the race window rio-rs's own double-check has the same
// shape for.
func TestCheckAddressMismatchDeallocatesDeadForeignServer(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	require.NoError(t, svc.MembershipStore.Push(ctx, membership.Member{Addr: "127.0.0.1:9002"}))
	require.NoError(t, svc.MembershipStore.SetActive(ctx, "127.0.0.1:9002", false))
	require.NoError(t, svc.PlacementStore.Update(ctx, objectid.New("Greeter", "alice"),
		fn.Some(objectid.Address("127.0.0.1:9002"))))

	rerr := svc.checkAddressMismatch(ctx, "127.0.0.1:9002")
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrDeallocateServiceObject, rerr.Kind)

	addr, err := svc.PlacementStore.Lookup(ctx, objectid.New("Greeter", "alice"))
	require.NoError(t, err)
	require.False(t, addr.IsSome())
}

// TestCallErasesMalformedPlacementAndClaimsLocally verifies a
// non-"host:port" placement entry is treated as if it weren't there: it
// gets erased, and the object is claimed by this node instead of wedging.
func TestCallErasesMalformedPlacementAndClaimsLocally(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	require.NoError(t, svc.PlacementStore.Update(ctx, objectid.New("Greeter", "alice"),
		fn.Some(objectid.Address("not-an-address"))))

	resp, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Greeter", HandlerID: "alice",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.Nil(t, rerr)

	var result string
	require.NoError(t, wire.Decode(resp.Ok, &result))
	require.Equal(t, "alice says hi to bob", result)
}

// TestCallTranslatesApplicationErrorBody verifies a handler-returned error
// comes back as wire.ErrApplicationError carrying the encoded message.
func TestCallTranslatesApplicationErrorBody(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registry.RegisterType[*greeter](reg, "Greeter", newGreeter)

	type failingMessage struct{}
	registry.RegisterHandler[*greeter, failingMessage, string](reg, "Greeter", "FailingMessage",
		handlerFunc[*greeter, failingMessage, string](func(_ context.Context, _ *greeter, _ failingMessage, _ *appdata.Data) (string, error) {
			return "", errBoom
		}))

	data := appdata.New()
	appdata.Set[statestore.Store](data, statestore.NewLocalStore())
	membershipStore := membership.NewLocalStore()
	require.NoError(t, membershipStore.Push(context.Background(), membership.Member{Addr: "127.0.0.1:9000"}))
	require.NoError(t, membershipStore.SetActive(context.Background(), "127.0.0.1:9000", true))

	svc := &Service{
		Address:         "127.0.0.1:9000",
		Registry:        reg,
		Router:          router.New(),
		MembershipStore: membershipStore,
		PlacementStore:  placement.NewLocalStore(),
		AppData:         data,
	}

	payload, err := wire.Encode(failingMessage{})
	require.NoError(t, err)

	_, rerr := svc.Call(context.Background(), wire.Request{
		HandlerType: "Greeter", HandlerID: "alice",
		MessageType: "FailingMessage", Payload: payload,
	})
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrApplicationError, rerr.Kind)

	var message string
	require.NoError(t, wire.Decode(rerr.Body, &message))
	require.Equal(t, errBoom.Error(), message)
}

// TestCallEvictsObjectOnHandlerPanic verifies a panicking handler is
// reported as ErrUnknown("panic") and the object is evicted from both the
// registry and the placement store.
func TestCallEvictsObjectOnHandlerPanic(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	_, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Panicker", HandlerID: "x",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrUnknown, rerr.Kind)
	require.Equal(t, "panic", string(rerr.Body))

	require.False(t, svc.Registry.Has("Panicker", "x"))
	addr, err := svc.PlacementStore.Lookup(ctx, objectid.New("Panicker", "x"))
	require.NoError(t, err)
	require.False(t, addr.IsSome())
}

// TestSubscribeActivatesAndReturnsAReceiver verifies Subscribe activates
// the object (same as Call) and hands back a live Receiver.
func TestSubscribeActivatesAndReturnsAReceiver(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	recv, rerr := svc.Subscribe(ctx, wire.SubscriptionRequest{HandlerType: "Greeter", HandlerID: "alice"})
	require.Nil(t, rerr)
	defer recv.Close()

	require.True(t, svc.Registry.Has("Greeter", "alice"))
	require.Equal(t, 1, svc.Router.SubscriberCount("Greeter", "alice"))

	svc.Router.Publish("Greeter", "alice", wire.SubscriptionResponse{Ok: []byte("hello")})
	msg := <-recv.C()
	require.Equal(t, []byte("hello"), msg.Ok)
}

// TestCallReportsNotSupportedForUnregisteredKind verifies a request naming a
// kind with no registered constructor comes back as NotSupported, carrying
// the offending kind, rather than Allocate.
func TestCallReportsNotSupportedForUnregisteredKind(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	_, rerr := svc.Call(ctx, wire.Request{
		HandlerType: "Ghost", HandlerID: "nobody",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrNotSupported, rerr.Kind)
	require.Equal(t, "Ghost", rerr.TypeKind)

	require.False(t, svc.Registry.Has("Ghost", "nobody"))
}

// TestCallReportsAllocateForFailingLifecycleHook verifies a registered kind
// whose load lifecycle fails comes back as Allocate, distinct from
// NotSupported.
func TestCallReportsAllocateForFailingLifecycleHook(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registry.RegisterType[*failingLoader](reg, "Failer", newFailingLoader)
	registry.RegisterHandler[*failingLoader, greetingMessage, string](reg, "Failer", "GreetingMessage",
		handlerFunc[*failingLoader, greetingMessage, string](func(_ context.Context, _ *failingLoader, _ greetingMessage, _ *appdata.Data) (string, error) {
			return "", nil
		}))

	data := appdata.New()
	appdata.Set[statestore.Store](data, statestore.NewLocalStore())
	membershipStore := membership.NewLocalStore()
	require.NoError(t, membershipStore.Push(context.Background(), membership.Member{Addr: "127.0.0.1:9000"}))
	require.NoError(t, membershipStore.SetActive(context.Background(), "127.0.0.1:9000", true))

	svc := &Service{
		Address:         "127.0.0.1:9000",
		Registry:        reg,
		Router:          router.New(),
		MembershipStore: membershipStore,
		PlacementStore:  placement.NewLocalStore(),
		AppData:         data,
	}

	_, rerr := svc.Call(context.Background(), wire.Request{
		HandlerType: "Failer", HandlerID: "x",
		MessageType: "GreetingMessage", Payload: encodedGreeting(t, "bob"),
	})
	require.NotNil(t, rerr)
	require.Equal(t, wire.ErrAllocate, rerr.Kind)

	require.False(t, svc.Registry.Has("Failer", "x"))
}

// raceLosingStore wraps a placement.Store whose first Lookup reports no
// placement (the view resolvePlacement's own initial lookup sees) but whose
// UpdateIfAbsent always loses the race, as if another node's claim landed
// first; every Lookup after that first call sees the backing store's real
// (winning) entry. It exists purely to exercise resolvePlacement's
// lost-the-race branch, which plain LocalStore's own single-goroutine
// UpdateIfAbsent semantics can't trigger deterministically.
type raceLosingStore struct {
	placement.Store
	lookups int
}

func (s *raceLosingStore) Lookup(ctx context.Context, id objectid.ID) (fn.Option[objectid.Address], error) {
	s.lookups++
	if s.lookups == 1 {
		return fn.None[objectid.Address](), nil
	}
	return s.Store.Lookup(ctx, id)
}

func (s *raceLosingStore) UpdateIfAbsent(_ context.Context, _ objectid.ID, _ objectid.Address) (bool, error) {
	return false, nil
}

// TestResolvePlacementClaimHonorsConditionalStore verifies the claim branch
// prefers UpdateIfAbsent when the store implements it, and on losing that
// race looks up the actual winner instead of assuming this node won.
func TestResolvePlacementClaimHonorsConditionalStore(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, "127.0.0.1:9000")
	ctx := context.Background()

	backing := placement.NewLocalStore()
	objID := objectid.New("Greeter", "alice")
	require.NoError(t, backing.Update(ctx, objID, fn.Some(objectid.Address("127.0.0.1:9001"))))
	svc.PlacementStore = &raceLosingStore{Store: backing}

	addr, rerr := svc.resolvePlacement(ctx, "Greeter", "alice")
	require.Nil(t, rerr)
	require.Equal(t, objectid.Address("127.0.0.1:9001"), addr, "must report the actual winner, not this node's address")
}

type failingLoader struct{}

func newFailingLoader(_ string) *failingLoader { return &failingLoader{} }

func (f *failingLoader) LoadStates(_ context.Context, _ *appdata.Data) error {
	return errBoom
}

type handlerFunc[T any, M any, R any] func(ctx context.Context, obj T, msg M, data *appdata.Data) (R, error)

func (f handlerFunc[T, M, R]) Handle(ctx context.Context, obj T, msg M, data *appdata.Data) (R, error) {
	return f(ctx, obj, msg, data)
}

var errBoom = errors.New("boom")
