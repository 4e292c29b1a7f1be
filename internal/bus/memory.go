package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
)

var _ Bus = (*MemoryBus)(nil)

// MemoryBus is the in-process loopback used when no Redis URL is
// configured. Single-instance deployments see the same delivery
// semantics as the Redis bus, minus the network.
type MemoryBus struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	subs   map[string]map[int]chan []byte
	nextID int
}

// NewMemoryBus builds an empty loopback bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		done: make(chan struct{}),
		subs: make(map[string]map[int]chan []byte),
	}
}

// Publish hands the payload to every current subscriber of topic.
// Sends never block: a subscriber with a full buffer loses the message.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		metrics.BusPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("bus is closed")
	}

	for _, ch := range b.subs[topic] {
		metrics.BusReceived.WithLabelValues(topic).Inc()
		select {
		case ch <- payload:
		default:
			metrics.BusDropped.WithLabelValues(topic, "slow_subscriber").Inc()
		}
	}
	metrics.BusPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Subscribe registers a buffered channel on topic. The channel closes
// once ctx is canceled or the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, subscriberBuffer)
	bucket, ok := b.subs[topic]
	if !ok {
		bucket = make(map[int]chan []byte)
		b.subs[topic] = bucket
	}
	bucket[id] = ch
	b.mu.Unlock()

	metrics.BusSubscriptionActive.WithLabelValues(topic).Inc()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.remove(topic, id)
	}()

	return ch, nil
}

// SubscriberCount reports the live subscriptions on topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Close tears down every subscription. Safe to call repeatedly.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for topic, bucket := range b.subs {
		for _, ch := range bucket {
			close(ch)
			metrics.BusSubscriptionActive.WithLabelValues(topic).Dec()
		}
	}
	b.subs = make(map[string]map[int]chan []byte)
	return nil
}

// remove drops one subscription. Channel close happens under the lock,
// so Publish can never send on a closed channel.
func (b *MemoryBus) remove(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.subs[topic]
	if !ok {
		return
	}
	ch, ok := bucket[id]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
	metrics.BusSubscriptionActive.WithLabelValues(topic).Dec()
}
