// Package router implements grain's pub/sub fan-out: one bounded broadcast
// channel per (kind, id), created lazily on first subscribe. Publish never
// blocks the publisher; a lagging subscriber drops messages rather than
// stalling the sender.
package router

import (
	"sync"

	"github.com/rcelha/grain/internal/objectid"
	"github.com/rcelha/grain/internal/wire"
)

const Subsystem = "ROUT"

// ChannelCapacity bounds each (kind, id)'s broadcast buffer. A subscriber
// that can't keep up drops messages instead of applying backpressure to the
// publisher.
const ChannelCapacity = 1000

// Receiver is a single subscriber's view of one (kind, id) channel. Close
// must be called once the subscriber is done to free its slot.
type Receiver struct {
	ch     chan wire.SubscriptionResponse
	router *MessageRouter
	key    objectid.ID
	id     uint64
}

// C returns the channel to range over for incoming messages.
func (r *Receiver) C() <-chan wire.SubscriptionResponse {
	return r.ch
}

// Close unsubscribes the receiver, removing it from the channel's
// subscriber set. It's safe to call more than once.
func (r *Receiver) Close() {
	r.router.unsubscribe(r.key, r.id)
}

// topic is the set of subscribers for one (kind, id); publish fans a
// message out to every member.
type topic struct {
	mu          sync.Mutex
	subscribers map[uint64]chan wire.SubscriptionResponse
	nextID      uint64
}

// MessageRouter maps (kind, id) to its topic, creating topics lazily on
// first Subscribe. The core doesn't evict a topic once created, even after
// its last subscriber leaves: see the subscription-channel-GC decision in
// the design notes.
type MessageRouter struct {
	mu     sync.Mutex
	topics map[objectid.ID]*topic
}

// New returns an empty MessageRouter.
func New() *MessageRouter {
	return &MessageRouter{topics: make(map[objectid.ID]*topic)}
}

// Subscribe returns a Receiver for (kind, id), creating its topic if this
// is the first subscriber.
func (r *MessageRouter) Subscribe(kind, id string) *Receiver {
	key := objectid.New(kind, id)

	r.mu.Lock()
	t, ok := r.topics[key]
	if !ok {
		t = &topic{subscribers: make(map[uint64]chan wire.SubscriptionResponse)}
		r.topics[key] = t
	}
	r.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	subID := t.nextID
	ch := make(chan wire.SubscriptionResponse, ChannelCapacity)
	t.subscribers[subID] = ch

	return &Receiver{ch: ch, router: r, key: key, id: subID}
}

// Publish fans msg out to every current subscriber of (kind, id). It's a
// non-blocking send per subscriber: a subscriber whose buffer is full drops
// the message rather than stalling the publisher. Publishing to a (kind,
// id) with no subscribers, or none yet created, is not an error.
func (r *MessageRouter) Publish(kind, id string, msg wire.SubscriptionResponse) {
	key := objectid.New(kind, id)

	r.mu.Lock()
	t, ok := r.topics[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for subID, ch := range t.subscribers {
		select {
		case ch <- msg:
		default:
			log.Debugf("subscriber %d of %s lagging, dropping message", subID, key)
		}
	}
}

// SubscriberCount reports how many receivers currently hold a subscription
// to (kind, id). Useful for tests and diagnostics.
func (r *MessageRouter) SubscriberCount(kind, id string) int {
	key := objectid.New(kind, id)

	r.mu.Lock()
	t, ok := r.topics[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

func (r *MessageRouter) unsubscribe(key objectid.ID, id uint64) {
	r.mu.Lock()
	t, ok := r.topics[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		delete(t.subscribers, id)
		close(ch)
	}
}
