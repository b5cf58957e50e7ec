// Package server wires internal/service's request dispatch, the peer-to-
// peer membership provider, and the admin-command consumer into a single
// running node: the process that accepts client connections, activates and
// tears down objects, and participates in cluster liveness gossip.
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rcelha/grain/internal/appdata"
	"github.com/rcelha/grain/internal/membership"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/objectsvc"
	"github.com/rcelha/grain/internal/placement"
	"github.com/rcelha/grain/internal/registry"
	"github.com/rcelha/grain/internal/router"
	"github.com/rcelha/grain/internal/service"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "SRVR"

// adminQueueSize bounds how many shutdown commands can be pending before
// Send blocks the object that issued them. Generous because shutdowns are
// rare relative to request traffic.
const adminQueueSize = 64

// Server owns one node's registry, router, placement/membership stores,
// and shared application data, and drives them all from Run: the accept
// loop, the cluster provider's liveness loop, and the admin-command
// consumer race each other, and whichever exits first stops the node.
type Server struct {
	Address   objectid.Address
	Registry  *registry.Registry
	Router    *router.MessageRouter
	Placement placement.Store
	Cluster   *membership.ClusterProvider
	AppData   *appdata.Data

	svc     *service.Service
	adminCh chan objectsvc.ShutdownCommand
}

// New builds a Server. The returned Server is not yet listening; call Bind
// then Run.
func New(addr objectid.Address, reg *registry.Registry, rtr *router.MessageRouter,
	placementStore placement.Store, cluster *membership.ClusterProvider, data *appdata.Data,
) *Server {
	s := &Server{
		Address:   addr,
		Registry:  reg,
		Router:    rtr,
		Placement: placementStore,
		Cluster:   cluster,
		AppData:   data,
		adminCh:   make(chan objectsvc.ShutdownCommand, adminQueueSize),
	}

	appdata.Set[objectsvc.AdminSender](data, adminSender{ch: s.adminCh})

	s.svc = &service.Service{
		Address:         addr,
		Registry:        reg,
		Router:          rtr,
		MembershipStore: cluster.Store(),
		PlacementStore:  placementStore,
		AppData:         data,
	}

	return s
}

// adminSender adapts Server's admin channel to objectsvc.AdminSender, so
// activated objects can request their own shutdown without importing this
// package.
type adminSender struct {
	ch chan<- objectsvc.ShutdownCommand
}

func (a adminSender) Send(ctx context.Context, cmd objectsvc.ShutdownCommand) error {
	select {
	case a.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bind opens the listening socket at s.Address.
func (s *Server) Bind() (net.Listener, error) {
	listener, err := net.Listen("tcp", string(s.Address))
	if err != nil {
		return nil, fmt.Errorf("server: bind %s: %w", s.Address, err)
	}
	log.Infof("listening on %s", listener.Addr())
	return listener, nil
}

// Run drives the accept loop, the cluster provider's liveness loop, and
// the admin-command consumer concurrently. Whichever of the three exits
// first determines Run's return value; the other two are left running
// (the caller is expected to exit the process on return, same as rio-rs's
// tokio::select! in Server::run).
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	errs := make(chan error, 3)

	go func() { errs <- s.acceptLoop(ctx, listener) }()
	go func() { errs <- s.Cluster.Serve(ctx, string(s.Address)) }()
	go func() { s.consumeAdminCommands(ctx); errs <- nil }()

	return <-errs
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		go s.handleConn(ctx, wire.NewConn(conn))
	}
}

// handleConn reads frames off conn until it errors or the frame kind is
// unrecognized, dispatching each one through Service and writing back the
// corresponding response frame. One goroutine per connection, matching the
// teacher's per-connection-goroutine accept pattern.
func (s *Server) handleConn(ctx context.Context, conn *wire.Conn) {
	defer conn.Close()

	for {
		kind, payload, err := conn.ReadFrame()
		if err != nil {
			log.Debugf("connection from %s closed: %v", conn.RemoteAddr(), err)
			return
		}

		switch kind {
		case wire.FrameRequest:
			var req wire.Request
			if err := wire.Decode(payload, &req); err != nil {
				s.writeResponseError(conn, &wire.ResponseError{
					Kind: wire.ErrDeserializationError, Body: []byte(err.Error()),
				})
				continue
			}
			s.handleRequest(ctx, conn, req)

		case wire.FrameSubscriptionRequest:
			var req wire.SubscriptionRequest
			if err := wire.Decode(payload, &req); err != nil {
				s.writeSubscriptionError(conn, &wire.ResponseError{
					Kind: wire.ErrDeserializationError, Body: []byte(err.Error()),
				})
				continue
			}
			// A subscription stream takes over the connection: once
			// established, this goroutine only pumps published
			// messages until the receiver or the connection closes.
			s.handleSubscription(ctx, conn, req)
			return

		default:
			log.Warnf("connection from %s sent unrecognized frame kind %d", conn.RemoteAddr(), kind)
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, conn *wire.Conn, req wire.Request) {
	resp, rerr := s.svc.Call(ctx, req)
	if rerr != nil {
		s.writeResponseError(conn, rerr)
		return
	}

	if err := conn.WriteResponse(resp); err != nil {
		log.Debugf("write response to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) handleSubscription(ctx context.Context, conn *wire.Conn, req wire.SubscriptionRequest) {
	recv, rerr := s.svc.Subscribe(ctx, req)
	if rerr != nil {
		s.writeSubscriptionError(conn, rerr)
		return
	}
	defer recv.Close()

	for {
		select {
		case msg, ok := <-recv.C():
			if !ok {
				return
			}
			if err := conn.WriteSubscriptionResponse(&msg); err != nil {
				log.Debugf("subscription write to %s failed: %v", conn.RemoteAddr(), err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeResponseError(conn *wire.Conn, rerr *wire.ResponseError) {
	if err := conn.WriteResponse(&wire.Response{Err: rerr}); err != nil {
		log.Debugf("write error response to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) writeSubscriptionError(conn *wire.Conn, rerr *wire.ResponseError) {
	if err := conn.WriteSubscriptionResponse(&wire.SubscriptionResponse{Err: rerr}); err != nil {
		log.Debugf("write subscription error to %s failed: %v", conn.RemoteAddr(), err)
	}
}

// consumeAdminCommands services ShutdownCommands until ctx is cancelled,
// removing each named object from both the registry and the placement
// store. It runs on its own goroutine so the removal never races with the
// per-object lock a handler invocation might be holding when it asks for
// its own shutdown.
func (s *Server) consumeAdminCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-s.adminCh:
			log.Infof("shutting down %s/%s", cmd.Kind, cmd.ID)
			s.Registry.Remove(cmd.Kind, cmd.ID)
			if err := s.Placement.Remove(ctx, objectid.New(cmd.Kind, cmd.ID)); err != nil {
				log.Warnf("failed to erase placement for %s/%s during shutdown: %v",
					cmd.Kind, cmd.ID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

