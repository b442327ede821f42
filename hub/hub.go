// Package hub fans out state payloads to connected display clients (overlay,
// admin, test pages). Delivery is best-effort per subscriber: each subscriber
// owns a buffered channel, and a subscriber that cannot keep up skips
// payloads instead of stalling the publisher.
package hub

import (
	"sync"

	"github.com/onnwee/danmu-queue/telemetry"
)

// subscriberBuffer is how many payloads a slow subscriber may lag behind
// before it starts missing updates. Every payload is a full state snapshot,
// so a skipped payload is superseded by the next one.
const subscriberBuffer = 8

// Subscriber is one attached display client. Read payloads from C; the
// channel is closed when the subscriber is removed from the hub.
type Subscriber struct {
	ch      chan []byte
	closed  bool
	dropped int
}

// C returns the subscriber's payload stream.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Hub is the publish/subscribe fan-out.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe attaches a new display client.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.SetSubscribers(n)
	return sub
}

// Unsubscribe detaches a client and closes its channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer func() {
		n := len(h.subs)
		h.mu.Unlock()
		telemetry.SetSubscribers(n)
	}()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers payload to every current subscriber without blocking. A
// subscriber whose buffer is full misses this payload.
func (h *Hub) Publish(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped++
			telemetry.IncBroadcastDropped()
		}
	}
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
