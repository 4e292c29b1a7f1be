package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket Connection Metrics
var (
	// ConnectionsCurrent tracks current active WebSocket connections
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// ConnectionsTotal tracks WebSocket connection attempts by result
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// ConnectionsRejected tracks rejected connection attempts by reason
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// ConnectionDuration tracks how long connections stay open
	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// ConnectionCapacity tracks connection capacity utilization as percentage
	ConnectionCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connection_capacity_percent",
			Help: "Current WebSocket connection capacity utilization (0-100%)",
		},
	)

	// UniqueIPs tracks number of unique IP addresses with active connections
	UniqueIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_unique_ips",
			Help: "Number of unique IP addresses with active WebSocket connections",
		},
	)
)

// Delivery Metrics
var (
	// MessagesSent tracks outbound messages by envelope type
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Total messages written to WebSocket clients by type",
		},
		[]string{"type"},
	)

	// MessageSendDuration tracks single-connection write latency
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// SendFailures tracks write failures that force a disconnect
	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Total WebSocket write failures resulting in disconnect",
		},
	)

	// MessagesRateLimited tracks messages dropped by the per-connection window
	MessagesRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_rate_limited_total",
			Help: "Total messages dropped because the per-connection rate window was full",
		},
	)

	// FanoutDeliveries tracks fan-out deliveries by scope
	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_fanout_deliveries_total",
			Help: "Total fan-out deliveries by scope (user/session/room/broadcast)",
		},
		[]string{"scope"},
	)
)

// Bus Metrics
var (
	// BusPublished tracks publishes to the cross-instance bus by topic and status
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total messages published to the bus by topic and status",
		},
		[]string{"topic", "status"},
	)

	// BusReceived tracks messages received from the bus by topic
	BusReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_received_total",
			Help: "Total messages received from the bus by topic",
		},
		[]string{"topic"},
	)

	// BusDropped tracks received messages dropped before fan-out
	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_dropped_total",
			Help: "Total bus messages dropped by topic and reason (malformed/self_origin/slow_subscriber)",
		},
		[]string{"topic", "reason"},
	)

	// BusReconnects tracks subscriber loop reconnection attempts
	BusReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnections_total",
			Help: "Total bus subscription reconnection attempts after disconnect",
		},
	)

	// BusSubscriptionActive tracks whether a topic subscription is live
	BusSubscriptionActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bus_subscription_active",
			Help: "1 if the subscription for the topic is active, 0 if disconnected",
		},
		[]string{"topic"},
	)

	// BusFanoutLatency tracks time from bus receive to WebSocket fan-out
	BusFanoutLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bus_fanout_latency_seconds",
			Help:    "Latency from bus message receive to WebSocket client send",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)
)

// Heartbeat Metrics
var (
	// HeartbeatPingsSent tracks liveness pings written to clients
	HeartbeatPingsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_pings_sent_total",
			Help: "Total heartbeat pings sent to WebSocket clients",
		},
	)

	// HeartbeatFailures tracks ping writes that failed
	HeartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_failures_total",
			Help: "Total heartbeat ping failures (client not responding)",
		},
	)

	// HeartbeatReapedConnections tracks connections closed by the heartbeat sweep
	HeartbeatReapedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_reaped_connections_total",
			Help: "Total connections disconnected after a failed heartbeat ping",
		},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
// Note: http_errors_total{type} is provided by internal/errors package
