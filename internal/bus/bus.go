// Package bus carries event payloads between service instances.
//
// A Bus is topic-scoped pub/sub with at-most-once delivery: every
// subscriber on a topic receives every payload published anywhere in
// the cluster, the publishing instance included. Subscribers that fall
// behind lose messages rather than stall the pump.
package bus

import "context"

// Topics the distribution core fans out over. Each gets its own
// subscriber loop so a malformed payload on one never affects the
// others.
const (
	TopicEvents        = "realtime:events"
	TopicProgress      = "realtime:progress"
	TopicNotifications = "realtime:notifications"
)

// subscriberBuffer bounds how far a subscriber may fall behind before
// messages are dropped.
const subscriberBuffer = 16

// Bus is the cross-instance distribution transport.
type Bus interface {
	// Publish sends one payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe opens a subscription on topic. The returned channel
	// closes when ctx is canceled or the bus shuts down; callers
	// re-subscribe to recover.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Close releases every subscription held by this bus.
	Close() error
}
