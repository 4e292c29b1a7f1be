package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/48Nauts-Operator/lineary-realtime/internal/bus"
	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
)

// subscriberBuffer bounds how far a bus subscriber may fall behind
// before messages are dropped.
const subscriberBuffer = 16

var _ bus.Bus = (*Bus)(nil)

// Bus distributes event payloads across instances via Redis Pub/Sub.
type Bus struct {
	rdb *goredis.Client
}

// NewBus builds the cross-instance bus on an established client.
func NewBus(client *Client) *Bus {
	return &Bus{rdb: client.rdb}
}

// Publish sends one payload to every instance subscribed to topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		metrics.BusPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	metrics.BusPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// Subscribe opens a subscription on topic. The returned channel closes
// when ctx is canceled; callers re-subscribe to recover from failures.
// go-redis re-establishes a lost subscription by itself, so the pump
// keeps forwarding across broker restarts.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub := b.rdb.Subscribe(ctx, topic)

	// Confirm the subscription hit the wire before reporting success,
	// so a dead broker surfaces here instead of as silence.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	ch := make(chan []byte, subscriberBuffer)
	metrics.BusSubscriptionActive.WithLabelValues(topic).Inc()

	go func() {
		defer close(ch)
		defer metrics.BusSubscriptionActive.WithLabelValues(topic).Dec()
		defer func() { _ = sub.Close() }()

		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				metrics.BusReceived.WithLabelValues(topic).Inc()
				select {
				case ch <- []byte(msg.Payload):
				default:
					metrics.BusDropped.WithLabelValues(topic, "slow_subscriber").Inc()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close is part of the bus contract; the shared client owns the
// underlying connection.
func (b *Bus) Close() error {
	return nil
}
