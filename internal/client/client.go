// Package client implements grain's client-side state machine: it tracks
// which servers are believed active, caches a guess of where each (kind,
// id) is placed, and drives the retry/redirect loop spec.md §4.6 requires
// on every call. It's the Go analogue of rio-rs's Client, grounded on the
// bufio-framed, dispatch-table connection shape of boxcast-serf's
// RPCClient and the round-robin atomic-counter pool in
// internal/actorutil/pool.go.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rcelha/grain/internal/membership"
	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "CLNT"

// PlacementLRUSize is the default capacity of a Client's placement cache,
// per spec.md §4.6's "~1000 entries".
const PlacementLRUSize = 1000

// DefaultMaxAttempts bounds how many times Send retries a single call
// before giving up and returning the last error, per spec.md §4.6.
const DefaultMaxAttempts = 20

// DefaultInitialBackoff and DefaultMaxBackoff set the exponential backoff
// schedule spec.md §4.6 calls for: "initial ≈ 1µs, doubling, capped at 2s".
const (
	DefaultInitialBackoff = time.Microsecond
	DefaultMaxBackoff     = 2 * time.Second
)

// ErrNoServersAvailable is returned when the membership store reports no
// active servers to contact.
var ErrNoServersAvailable = errors.New("client: no servers available")

// ApplicationError wraps the encoded body of a handler's error, as returned
// by wire.ErrApplicationError. Body is the msgpack-encoded Error() string;
// callers decode it into a string via wire.Decode.
type ApplicationError struct {
	Body []byte
}

func (e *ApplicationError) Error() string {
	return "client: application error"
}

// config holds Client's tunables, set via Option at construction.
type config struct {
	placementLRUSize int
	maxAttempts      int
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	dialTimeout      time.Duration
}

func defaultConfig() config {
	return config{
		placementLRUSize: PlacementLRUSize,
		maxAttempts:      DefaultMaxAttempts,
		initialBackoff:   DefaultInitialBackoff,
		maxBackoff:       DefaultMaxBackoff,
		dialTimeout:      5 * time.Second,
	}
}

// Option configures a Client at construction time.
type Option func(*config)

// WithPlacementLRUSize overrides the placement cache's capacity.
func WithPlacementLRUSize(size int) Option {
	return func(c *config) { c.placementLRUSize = size }
}

// WithMaxAttempts overrides how many times Send retries before giving up.
func WithMaxAttempts(attempts int) Option {
	return func(c *config) { c.maxAttempts = attempts }
}

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *config) { c.initialBackoff = initial; c.maxBackoff = max }
}

// WithDialTimeout overrides the per-connection dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// clientConn is one pooled connection to a single server address.
type clientConn struct {
	mu   sync.Mutex
	conn *wire.Conn
}

// Client is grain's client-side state machine. It's safe for concurrent
// use: multiple goroutines may call Send/Subscribe on the same Client, and
// the connection map, placement cache, and active-server set are all
// guarded. The zero value is not usable; use New.
type Client struct {
	id  string
	cfg config

	membershipStore membership.Store

	mu            sync.RWMutex
	activeServers []string
	stale         bool

	connsMu sync.Mutex
	conns   map[string]*clientConn

	placementLRU *lru.Cache[objectid.ID, objectid.Address]
}

// newClientID generates a time-ordered identifier for a Client instance,
// used only to disambiguate log lines when a process runs more than one.
// Falls back to v4 the same way the teacher's idempotency-key generator
// does, since NewV7 only errors if the system clock is unreadable.
func newClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// New returns a Client backed by membershipStore, which it consults to
// refresh the active-server set whenever it's empty or marked stale.
func New(membershipStore membership.Store, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	placementLRU, err := lru.New[objectid.ID, objectid.Address](cfg.placementLRUSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultConfig never produces; a caller-supplied Option
		// that does is a programming error worth surfacing loudly.
		panic(fmt.Sprintf("client: invalid placement LRU size: %v", err))
	}

	return &Client{
		id:              newClientID(),
		cfg:             cfg,
		membershipStore: membershipStore,
		conns:           make(map[string]*clientConn),
		placementLRU:    placementLRU,
		stale:           true,
	}
}

// ID returns this Client's generated instance identifier, useful for
// correlating its log lines when a process runs more than one.
func (c *Client) ID() string {
	return c.id
}

// Send implements spec.md §4.6's send algorithm: resolve a server (from the
// placement cache or a random guess), round-trip a Request, and react to
// the response — following redirects immediately, retrying transient
// failures with backoff, and returning application and protocol errors
// unchanged.
func (c *Client) Send(ctx context.Context, kind, id, messageType string, payload []byte) ([]byte, error) {
	resp, err := c.send(ctx, objectid.New(kind, id), wire.Request{
		HandlerType: kind, HandlerID: id, MessageType: messageType, Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	return resp.Ok, nil
}

// SendMessage encodes msg, calls Send with messageType set, and decodes
// the result into R. It's the typed convenience wrapper most callers use
// instead of Send directly.
func SendMessage[M any, R any](ctx context.Context, c *Client, kind, id, messageType string, msg M) (R, error) {
	var zero R

	payload, err := wire.Encode(msg)
	if err != nil {
		return zero, fmt.Errorf("client: encode request: %w", err)
	}

	resp, err := c.send(ctx, objectid.New(kind, id), wire.Request{
		HandlerType: kind, HandlerID: id, MessageType: messageType, Payload: payload,
	})
	if err != nil {
		return zero, err
	}

	var result R
	if err := wire.Decode(resp.Ok, &result); err != nil {
		return zero, fmt.Errorf("client: decode response: %w", err)
	}
	return result, nil
}

// send drives the retry/redirect/backoff loop shared by Send and
// SendMessage, returning the first successful Response.
func (c *Client) send(ctx context.Context, objID objectid.ID, req wire.Request) (*wire.Response, error) {
	wait := c.cfg.initialBackoff
	var lastErr error

	for attempt := 0; attempt < c.cfg.maxAttempts; attempt++ {
		addr, err := c.resolveServer(ctx, objID)
		if err != nil {
			return nil, err
		}

		resp, err := c.roundTrip(ctx, addr, req)
		if err != nil {
			log.Debugf("[%s] round trip to %s for %s failed, retrying: %v", c.id, addr, objID, err)
			lastErr = err
			c.evictConn(addr)
			c.markStale()
			if !c.sleepBackoff(ctx, &wait) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.Err == nil {
			c.placementLRU.Add(objID, addr)
			return resp, nil
		}

		switch resp.Err.Kind {
		case wire.ErrRedirect:
			log.Debugf("%s redirected to %s", objID, resp.Err.Addr)
			c.placementLRU.Add(objID, objectid.Address(resp.Err.Addr))
			continue

		case wire.ErrDeallocateServiceObject:
			c.placementLRU.Remove(objID)
			c.markStale()
			lastErr = resp.Err
			if !c.sleepBackoff(ctx, &wait) {
				return nil, ctx.Err()
			}
			continue

		case wire.ErrApplicationError:
			return nil, &ApplicationError{Body: resp.Err.Body}

		default:
			return nil, resp.Err
		}
	}

	return nil, fmt.Errorf("client: giving up on %s after %d attempts: %w",
		objID, c.cfg.maxAttempts, lastErr)
}

func (c *Client) resolveServer(ctx context.Context, objID objectid.ID) (objectid.Address, error) {
	if addr, ok := c.placementLRU.Get(objID); ok {
		return addr, nil
	}

	servers, err := c.activeServerSet(ctx)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", ErrNoServersAvailable
	}

	guess := objectid.Address(servers[rand.IntN(len(servers))])
	return guess, nil
}

func (c *Client) activeServerSet(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	if len(c.activeServers) > 0 && !c.stale {
		servers := append([]string(nil), c.activeServers...)
		c.mu.RUnlock()
		return servers, nil
	}
	c.mu.RUnlock()

	members, err := c.membershipStore.ActiveMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: refresh active servers: %w", err)
	}

	servers := make([]string, len(members))
	for i, m := range members {
		servers[i] = m.Addr
	}

	c.mu.Lock()
	c.activeServers = servers
	c.stale = false
	c.mu.Unlock()

	return servers, nil
}

func (c *Client) markStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *Client) roundTrip(ctx context.Context, addr objectid.Address, req wire.Request) (*wire.Response, error) {
	conn, err := c.getConn(addr)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if err := conn.conn.WriteRequest(&req); err != nil {
		return nil, fmt.Errorf("client: write to %s: %w", addr, err)
	}

	resp, err := conn.conn.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("client: read from %s: %w", addr, err)
	}
	return resp, nil
}

func (c *Client) getConn(addr objectid.Address) (*clientConn, error) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	if cc, ok := c.conns[string(addr)]; ok {
		return cc, nil
	}

	raw, err := net.DialTimeout("tcp", string(addr), c.cfg.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	cc := &clientConn{conn: wire.NewConn(raw)}
	c.conns[string(addr)] = cc
	return cc, nil
}

func (c *Client) evictConn(addr objectid.Address) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	if cc, ok := c.conns[string(addr)]; ok {
		cc.conn.Close()
		delete(c.conns, string(addr))
	}
}

// sleepBackoff waits for the current backoff duration (or until ctx is
// done, whichever comes first), then doubles it up to cfg.maxBackoff. It
// reports false if ctx ended the wait early.
func (c *Client) sleepBackoff(ctx context.Context, wait *time.Duration) bool {
	timer := time.NewTimer(*wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		*wait *= 2
		if *wait > c.cfg.maxBackoff {
			*wait = c.cfg.maxBackoff
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Subscription is a live pub/sub stream for a single (kind, id), dialed on
// its own dedicated connection (never pooled, since it occupies the
// connection for its whole lifetime). It reconnects transparently when the
// server redirects it to the object's new home, matching rio-rs's
// subscription client reattaching on Redirect without surfacing the
// reconnect to the caller.
type Subscription struct {
	c     *Client
	objID objectid.ID
	kind  string
	id    string

	out    chan wire.SubscriptionResponse
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe establishes a Subscription for (kind, id). The caller reads
// published messages off Messages() until Close is called or the stream
// ends for good (a non-redirect error from the server, or a failed dial
// after a redirect).
func (c *Client) Subscribe(ctx context.Context, kind, id string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		c:      c,
		objID:  objectid.New(kind, id),
		kind:   kind,
		id:     id,
		out:    make(chan wire.SubscriptionResponse, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	conn, err := s.dial(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.pump(subCtx, conn)
	return s, nil
}

// Messages returns the channel published messages arrive on. It's closed
// once the subscription ends for good.
func (s *Subscription) Messages() <-chan wire.SubscriptionResponse {
	return s.out
}

// Close ends the subscription and releases its connection.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// dial resolves an address for s.objID and opens a dedicated connection to
// it, sending the initial SubscriptionRequest.
func (s *Subscription) dial(ctx context.Context) (*wire.Conn, error) {
	addr, err := s.c.resolveServer(ctx, s.objID)
	if err != nil {
		return nil, err
	}

	raw, err := net.DialTimeout("tcp", string(addr), s.c.cfg.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	conn := wire.NewConn(raw)

	if err := conn.WriteSubscriptionRequest(&wire.SubscriptionRequest{
		HandlerType: s.kind, HandlerID: s.id,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: write subscription request to %s: %w", addr, err)
	}

	return conn, nil
}

// pump reads subscription frames off conn and forwards them to s.out until
// ctx is cancelled or the stream ends. A read error re-dials with backoff
// (see reconnect) until that succeeds or ctx ends; a Redirect error
// reconnects to the new address; any other Err is forwarded once and ends
// the stream.
func (s *Subscription) pump(ctx context.Context, conn *wire.Conn) {
	defer close(s.done)
	defer close(s.out)

	for {
		resp, err := conn.ReadSubscriptionResponse()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			conn, err = s.reconnect(ctx)
			if err != nil {
				return
			}
			continue
		}

		if resp.Err != nil && resp.Err.Kind == wire.ErrRedirect {
			s.c.placementLRU.Add(s.objID, objectid.Address(resp.Err.Addr))
			conn.Close()
			conn, err = s.dial(ctx)
			if err != nil {
				return
			}
			continue
		}

		select {
		case s.out <- *resp:
		case <-ctx.Done():
			conn.Close()
			return
		}

		if resp.Err != nil {
			conn.Close()
			return
		}
	}
}

// reconnect re-dials using the placement cache (which may now be stale
// after the failure that triggered this reconnect), with backoff so a
// persistently unreachable server doesn't spin the pump loop.
func (s *Subscription) reconnect(ctx context.Context) (*wire.Conn, error) {
	wait := s.c.cfg.initialBackoff
	for {
		s.c.placementLRU.Remove(s.objID)
		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if !s.c.sleepBackoff(ctx, &wait) {
			return nil, ctx.Err()
		}
	}
}

// Close closes every pooled connection. The Client remains usable
// afterward; connections are simply re-dialed on next use.
func (c *Client) Close() error {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	for addr, cc := range c.conns {
		cc.conn.Close()
		delete(c.conns, addr)
	}
	return nil
}

// pingHandlerType is a reserved handler kind no grain application ever
// registers. ClientProber sends a Request naming it and only checks that a
// Response frame comes back at all; ErrNotSupported (no constructor for the
// kind) is the expected reply and still proves the peer decoded and answered a real application-layer
// envelope, not just a TCP handshake.
const pingHandlerType = "__grain_ping__"

// ClientProber implements membership.Prober by round-tripping a Request
// through the wire protocol, catching dead peers DialProber's bare TCP
// dial would miss: a process that accepts connections but has wedged its
// dispatch loop still looks reachable to a dial-only probe.
type ClientProber struct {
	DialTimeout time.Duration
}

// Probe implements membership.Prober.
func (p ClientProber) Probe(ctx context.Context, addr string) error {
	timeout := p.DialTimeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn := wire.NewConn(raw)
	defer conn.Close()

	if err := conn.WriteRequest(&wire.Request{HandlerType: pingHandlerType, HandlerID: "ping"}); err != nil {
		return fmt.Errorf("client: ping write to %s: %w", addr, err)
	}

	if _, err := conn.ReadResponse(); err != nil {
		return fmt.Errorf("client: ping read from %s: %w", addr, err)
	}
	return nil
}

// Pool is a bounded set of independently-constructed Clients, distributing
// calls across them round-robin the way internal/actorutil.Pool
// distributes messages across actor instances. Use a Pool when many
// goroutines share one logical client but each wants its own connection
// set, to avoid serializing unrelated traffic through a single
// clientConn's per-address lock.
type Pool struct {
	clients []*Client
	next    atomic.Uint64
}

// NewPool builds a Pool of size independently-constructed Clients, all
// sharing membershipStore and the same Options.
func NewPool(size int, membershipStore membership.Store, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}

	clients := make([]*Client, size)
	for i := range clients {
		clients[i] = New(membershipStore, opts...)
	}
	return &Pool{clients: clients}
}

func (p *Pool) pick() *Client {
	idx := p.next.Add(1) % uint64(len(p.clients))
	return p.clients[idx]
}

// Send round-robins to one pooled Client and calls its Send.
func (p *Pool) Send(ctx context.Context, kind, id, messageType string, payload []byte) ([]byte, error) {
	return p.pick().Send(ctx, kind, id, messageType, payload)
}

// Close closes every pooled Client's connections.
func (p *Pool) Close() error {
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}
