// Package hub implements the broadcast fan-out used for observability.
// Every inbound message and every reply is published here; WebSocket
// connections and other observers subscribe.
package hub

import (
	"log/slog"
	"sync"

	"clanker/internal/domain"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber queue capacity.
const DefaultSubscriberBuffer = 64

// Subscriber is one registered observer. Receive from C until it is closed;
// a close means either Unsubscribe was called or the subscriber fell too far
// behind and was disconnected.
type Subscriber struct {
	ID string
	C  <-chan domain.Message

	ch chan domain.Message
}

// Hub fans every published message out to all subscribers. Publish never
// blocks: a subscriber whose buffer is full is disconnected so one slow
// reader cannot stall the rest.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	buffer int
	closed bool
	logger *slog.Logger
}

// New creates a Hub with the given per-subscriber buffer capacity.
func New(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscriber {
	ch := make(chan domain.Message, h.buffer)
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  ch,
		ch: ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the observer and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish delivers msg to every subscriber. Subscribers with a full buffer
// are disconnected; everyone else still receives the message. Publishing
// with zero subscribers is a no-op.
func (h *Hub) Publish(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for id, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("disconnecting slow subscriber", "subscriber", id)
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects all subscribers. Further subscribes get an already
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
