// Package bus provides the in-process inbound queue between channel
// adapters and the router.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clanker/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based inbound queue. Adapters and the HTTP
// surface publish; the router is the single consumer.
type InMemoryBus struct {
	inbound chan domain.Message
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &InMemoryBus{
		inbound: make(chan domain.Message, bufferSize),
		logger:  logger,
	}
}

// Publish enqueues msg. Blocks up to 10 seconds if the queue is full
// instead of dropping; returns domain.ErrBusClosed after Close.
func (b *InMemoryBus) Publish(msg domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return domain.ErrBusClosed
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
		// Queue full. Wait with timeout instead of dropping.
		b.logger.Warn("inbound queue full, waiting...", "channel", msg.Channel, "sender", msg.Sender)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message enqueued after wait", "channel", msg.Channel)
			return nil
		case <-timer.C:
			b.logger.Error("message dropped: inbound queue full for 10s",
				"channel", msg.Channel,
				"sender", msg.Sender,
			)
			return fmt.Errorf("inbound queue full, message %s dropped", msg.ID)
		}
	}
}

// Subscribe returns the receive side of the queue. The channel is closed by
// Close; consumers drain whatever is still buffered.
func (b *InMemoryBus) Subscribe() <-chan domain.Message {
	return b.inbound
}

// Close closes the queue. Further publishes fail; queued messages remain
// readable until drained.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
