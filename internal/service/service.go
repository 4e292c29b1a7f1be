// Package service runs the real-time distribution core: local fan-out
// through the connection registry, the cross-instance bus loops, and
// the heartbeat that reaps dead connections.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/48Nauts-Operator/lineary-realtime/internal/bus"
	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
	"github.com/48Nauts-Operator/lineary-realtime/internal/platform/retry"
	"github.com/48Nauts-Operator/lineary-realtime/internal/realtime"
)

const (
	// publishAttempts bounds bus publish retries before the error
	// surfaces to the caller.
	publishAttempts = 3
	publishBackoff  = 50 * time.Millisecond

	// maxReconnectBackoff caps the doubling delay between attempts to
	// re-establish a dead topic subscription.
	initialReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// topics returns the bus topics the service subscribes to.
func topics() []string {
	return []string{bus.TopicEvents, bus.TopicProgress, bus.TopicNotifications}
}

// ProgressUpdate reports the progress of a long-running operation.
type ProgressUpdate struct {
	OperationID string  `json:"operation_id"`
	Stage       string  `json:"stage"`
	Percent     float64 `json:"percent"`
	Message     string  `json:"message,omitempty"`
}

// Notification is a system-level notice shown to users.
type Notification struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// Status is the service view served by the status endpoint.
type Status struct {
	InstanceID    string   `json:"instance_id"`
	Running       bool     `json:"running"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	Topics        []string `json:"topics"`
}

// Service owns the registry fan-out and the bus loops. Every instance
// gets a unique id; events carry it as their origin so an instance
// never re-delivers what it already delivered locally.
type Service struct {
	manager    *realtime.Manager
	bus        bus.Bus
	clock      clockwork.Clock
	logger     *slog.Logger
	instanceID string

	heartbeatInterval time.Duration

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	startedAt time.Time
}

// New builds a stopped service around a registry and a bus.
func New(manager *realtime.Manager, b bus.Bus, heartbeatInterval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Service {
	return &Service{
		manager:           manager,
		bus:               b,
		clock:             clock,
		logger:            logger,
		instanceID:        uuid.NewString(),
		heartbeatInterval: heartbeatInterval,
	}
}

// InstanceID returns this instance's origin identifier.
func (s *Service) InstanceID() string {
	return s.instanceID
}

// Start launches one subscriber loop per topic plus the heartbeat and
// returns. The loops run until Stop is called or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("service already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g := new(errgroup.Group)

	for _, topic := range topics() {
		g.Go(func() error {
			return s.subscriberLoop(runCtx, topic)
		})
	}
	g.Go(func() error {
		return s.heartbeatLoop(runCtx)
	})

	s.running = true
	s.cancel = cancel
	s.group = g
	s.startedAt = s.clock.Now()

	s.logger.Info("realtime service started",
		"instance_id", s.instanceID,
		"heartbeat_interval", s.heartbeatInterval,
	)
	return nil
}

// Stop cancels the loops, waits for them to drain within ctx, and
// disconnects every client. Calling it on a stopped service is a
// no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	group := s.group
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("subscriber loop exited with error", "error", err)
		}
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for subscriber loops", "error", ctx.Err())
	}

	dropped := s.manager.DisconnectAll()
	s.logger.Info("realtime service stopped",
		"instance_id", s.instanceID,
		"disconnected", dropped,
	)
	return nil
}

// Status reports lifecycle state for the status endpoint.
func (s *Service) Status() Status {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	st := Status{
		InstanceID: s.instanceID,
		Running:    running,
		Topics:     topics(),
	}
	if running {
		st.UptimeSeconds = s.clock.Since(startedAt).Seconds()
	}
	return st
}

// PublishOption narrows the audience of a publish call. Without one,
// the event goes to every connection.
type PublishOption func(*realtime.Scope)

// WithUser targets every connection of one user.
func WithUser(userID string) PublishOption {
	return func(s *realtime.Scope) {
		s.Kind = realtime.ScopeUser
		s.Target = userID
	}
}

// WithSession targets every connection of one session.
func WithSession(sessionID string) PublishOption {
	return func(s *realtime.Scope) {
		s.Kind = realtime.ScopeSession
		s.Target = sessionID
	}
}

// WithRoom targets the current members of a room.
func WithRoom(room string) PublishOption {
	return func(s *realtime.Scope) {
		s.Kind = realtime.ScopeRoom
		s.Target = room
	}
}

// PublishEvent delivers a domain event to local connections and hands
// it to the bus for the other instances. The count covers local
// delivery only; remote instances deliver on their own.
func (s *Service) PublishEvent(ctx context.Context, eventType string, payload json.RawMessage, opts ...PublishOption) (int, error) {
	evt, err := realtime.NewEvent(eventType, payload, buildScope(opts), s.instanceID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return s.distribute(ctx, bus.TopicEvents, evt)
}

// PublishProgress distributes a progress update for a long-running
// operation.
func (s *Service) PublishProgress(ctx context.Context, update ProgressUpdate, opts ...PublishOption) (int, error) {
	if update.OperationID == "" {
		return 0, fmt.Errorf("operation id must not be empty")
	}
	if update.Percent < 0 || update.Percent > 100 {
		return 0, fmt.Errorf("percent must be between 0 and 100, got %v", update.Percent)
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return 0, fmt.Errorf("marshaling progress update: %w", err)
	}

	evt, err := realtime.NewEvent("progress_update", payload, buildScope(opts), s.instanceID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return s.distribute(ctx, bus.TopicProgress, evt)
}

// PublishNotification distributes a system notification. Level
// defaults to info.
func (s *Service) PublishNotification(ctx context.Context, n Notification, opts ...PublishOption) (int, error) {
	if n.Title == "" {
		return 0, fmt.Errorf("notification title must not be empty")
	}
	if n.Level == "" {
		n.Level = "info"
	}
	switch n.Level {
	case "info", "warning", "error":
	default:
		return 0, fmt.Errorf("unknown notification level %q", n.Level)
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("marshaling notification: %w", err)
	}

	evt, err := realtime.NewEvent("system_notification", payload, buildScope(opts), s.instanceID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return s.distribute(ctx, bus.TopicNotifications, evt)
}

func buildScope(opts []PublishOption) realtime.Scope {
	scope := realtime.Scope{Kind: realtime.ScopeBroadcast}
	for _, opt := range opts {
		opt(&scope)
	}
	return scope
}

// distribute delivers locally first, then pushes onto the bus. Local
// delivery never waits on the network.
func (s *Service) distribute(ctx context.Context, topic string, evt realtime.Event) (int, error) {
	delivered := s.deliverEvent(topic, evt)
	if err := s.publish(ctx, topic, evt); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// deliverEvent fans one event out to the local registry by scope.
func (s *Service) deliverEvent(topic string, evt realtime.Event) int {
	msg, err := messageForTopic(topic, evt)
	if err != nil {
		s.logger.Error("building client message", "topic", topic, "error", err)
		return 0
	}

	switch evt.Scope.Kind {
	case realtime.ScopeUser:
		return s.manager.SendToUser(evt.Scope.Target, msg)
	case realtime.ScopeSession:
		return s.manager.SendToSession(evt.Scope.Target, msg)
	case realtime.ScopeRoom:
		return s.manager.SendToRoom(evt.Scope.Target, msg)
	default:
		return s.manager.Broadcast(msg)
	}
}

// messageForTopic shapes the client-facing message for a bus event.
// Domain events keep their type inside the data envelope; progress and
// notification payloads pass through as the message data. MessageID is
// the event id, so a client sees the same id on every instance.
func messageForTopic(topic string, evt realtime.Event) (realtime.Message, error) {
	switch topic {
	case bus.TopicEvents:
		data, err := json.Marshal(realtime.EventData{EventType: evt.Type, Payload: evt.Payload})
		if err != nil {
			return realtime.Message{}, fmt.Errorf("marshaling event data: %w", err)
		}
		return realtime.Message{
			Type:      realtime.MessageTypeEvent,
			Data:      data,
			Timestamp: evt.Timestamp,
			MessageID: evt.ID,
		}, nil
	case bus.TopicProgress:
		return realtime.Message{
			Type:      realtime.MessageTypeProgressUpdate,
			Data:      evt.Payload,
			Timestamp: evt.Timestamp,
			MessageID: evt.ID,
		}, nil
	case bus.TopicNotifications:
		return realtime.Message{
			Type:      realtime.MessageTypeSystemNotification,
			Data:      evt.Payload,
			Timestamp: evt.Timestamp,
			MessageID: evt.ID,
		}, nil
	default:
		return realtime.Message{}, fmt.Errorf("unknown topic %s", topic)
	}
}

// publish pushes the event onto the bus, retrying transient failures.
func (s *Service) publish(ctx context.Context, topic string, evt realtime.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:    publishAttempts,
		InitialBackoff: publishBackoff,
		Clock:          s.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn("bus publish failed, retrying",
				"topic", topic,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
	}
	classify := func(err error) retry.Action {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Stop
		}
		return retry.Retry
	}

	if err := retry.DoVoid(ctx, policy, classify, func() error {
		return s.bus.Publish(ctx, topic, data)
	}); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// subscriberLoop keeps one topic subscription alive until ctx ends.
// Subscribe failures back off with doubling delays; malformed payloads
// are dropped so the loop never dies on bad input.
func (s *Service) subscriberLoop(ctx context.Context, topic string) error {
	backoff := initialReconnectBackoff
	for {
		ch, err := s.bus.Subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.BusReconnects.Inc()
			s.logger.Warn("bus subscribe failed",
				"topic", topic,
				"backoff", backoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(backoff):
			}
			backoff = min(backoff*2, maxReconnectBackoff)
			continue
		}
		backoff = initialReconnectBackoff

		for payload := range ch {
			s.handlePayload(topic, payload)
		}
		if ctx.Err() != nil {
			return nil
		}

		// Channel closed without cancellation: the subscription died.
		metrics.BusReconnects.Inc()
		s.logger.Warn("bus subscription closed, resubscribing", "topic", topic)
	}
}

// handlePayload delivers one bus payload locally. The publishing
// instance already delivered its own events, so payloads carrying our
// origin are skipped.
func (s *Service) handlePayload(topic string, payload []byte) {
	var evt realtime.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		metrics.BusDropped.WithLabelValues(topic, "malformed").Inc()
		s.logger.Warn("dropping malformed bus payload", "topic", topic, "error", err)
		return
	}
	if evt.Type == "" || evt.Scope.Validate() != nil {
		metrics.BusDropped.WithLabelValues(topic, "malformed").Inc()
		s.logger.Warn("dropping bus payload with invalid envelope",
			"topic", topic,
			"event_id", evt.ID,
		)
		return
	}
	if evt.Origin == s.instanceID {
		metrics.BusDropped.WithLabelValues(topic, "self_origin").Inc()
		return
	}

	if !evt.Timestamp.IsZero() {
		metrics.BusFanoutLatency.Observe(s.clock.Since(evt.Timestamp).Seconds())
	}
	s.deliverEvent(topic, evt)
}
