// Package stream fans scoring events out to live subscribers.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Subscriber is one live consumer of the event stream.
type Subscriber struct {
	id   uint64
	ch   chan []byte
	hub  *Hub
	once sync.Once
}

// Events returns the channel of encoded events. It is closed when the
// subscriber is removed or the hub shuts down.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s *Subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub holds the active subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	next   uint64
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscriber)}
}

// Subscribe registers a subscriber with the given channel capacity.
// Subscribing to a closed hub yields a subscriber whose channel is
// already closed.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	sub := &Subscriber{id: h.next, ch: make(chan []byte, buffer), hub: h}
	if h.closed {
		close(sub.ch)
		return sub
	}

	h.subs[sub.id] = sub
	metrics.StreamSubscribers.Set(float64(len(h.subs)))
	return sub
}

// Publish enqueues payload for every subscriber and reports how many
// received it.
func (h *Hub) Publish(payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			metrics.StreamDropped.Inc()
		}
	}
	return delivered
}

// PublishEvent encodes an event and publishes it.
func (h *Hub) PublishEvent(event *domain.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode stream event", "type", event.Type, "error", err)
		return 0
	}
	return h.Publish(payload)
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	metrics.StreamSubscribers.Set(0)
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	metrics.StreamSubscribers.Set(float64(len(h.subs)))
}
