package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"openclaw-indexer/internal/domain"
	"openclaw-indexer/internal/observability"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// Subscription is one subscriber's view of a topic.
// C is closed when the subscription is removed or the hub is closed.
type Subscription struct {
	topic   string
	ch      chan []byte
	dropped atomic.Uint64
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// C returns the delivery channel.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Dropped returns how many messages were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// HubOptions configures a Hub.
type HubOptions struct {
	// Buffer is the per-subscriber queue length. Zero uses DefaultSubscriberBuffer.
	Buffer int
	Logger *slog.Logger
}

// Hub is an in-process Broadcaster.
// Sends happen under the read lock and closes under the write lock, so a
// channel is never sent to after it is closed.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool

	buffer int
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultSubscriberBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: opts.Buffer,
		logger: opts.Logger.With("component", "hub"),
	}
}

// Subscribe registers a new subscriber on topic.
// Subscribing to a closed hub returns an already-closed subscription.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.ch)
}

// Publish delivers payload to every subscriber of topic without blocking.
// A subscriber whose buffer is full misses the message.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped.Add(1)
			observability.RecordUpdateDropped("hub")
		}
	}
}

// PublishUpdate encodes u and publishes it on its topic.
func (h *Hub) PublishUpdate(_ context.Context, u domain.Update) error {
	payload, err := Encode(u)
	if err != nil {
		return err
	}
	h.Publish(u.Topic(), payload)
	return nil
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close removes every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.topics {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
	h.logger.Debug("hub closed")
}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Publisher   = (*Hub)(nil)
)
