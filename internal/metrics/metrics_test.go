package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// Each collector registers under a unique name; duplicates panic in promauto.
	collectors := []prometheus.Collector{
		ConnectionsCurrent,
		ConnectionsTotal,
		ConnectionsRejected,
		ConnectionDuration,
		ConnectionCapacity,
		UniqueIPs,
		MessagesSent,
		MessageSendDuration,
		SendFailures,
		MessagesRateLimited,
		FanoutDeliveries,
		BusPublished,
		BusReceived,
		BusDropped,
		BusReconnects,
		BusSubscriptionActive,
		BusFanoutLatency,
		HeartbeatPingsSent,
		HeartbeatFailures,
		HeartbeatReapedConnections,
		RedisOpsTotal,
		RedisOpDuration,
		RedisConnectionErrors,
		CircuitBreakerStateChanges,
		CircuitBreakerState,
		BuildInfo,
	}

	for _, collector := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		collector.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterVecs(t *testing.T) {
	tests := []struct {
		name   string
		metric *prometheus.CounterVec
		labels prometheus.Labels
	}{
		{"connections by result", ConnectionsTotal, prometheus.Labels{"result": "success"}},
		{"rejections by reason", ConnectionsRejected, prometheus.Labels{"reason": "global_limit"}},
		{"messages by type", MessagesSent, prometheus.Labels{"type": "event"}},
		{"fanout by scope", FanoutDeliveries, prometheus.Labels{"scope": "room"}},
		{"bus published", BusPublished, prometheus.Labels{"topic": "realtime:events", "status": "success"}},
		{"bus dropped", BusDropped, prometheus.Labels{"topic": "realtime:events", "reason": "self_origin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.metric.Reset()

			tt.metric.With(tt.labels).Inc()
			tt.metric.With(tt.labels).Inc()

			assert.Equal(t, 2.0, testutil.ToFloat64(tt.metric.With(tt.labels)))
		})
	}
}

func TestGauges(t *testing.T) {
	ConnectionsCurrent.Set(75)
	assert.Equal(t, 75.0, testutil.ToFloat64(ConnectionsCurrent))

	ConnectionsCurrent.Dec()
	assert.Equal(t, 74.0, testutil.ToFloat64(ConnectionsCurrent))

	BusSubscriptionActive.Reset()
	BusSubscriptionActive.WithLabelValues("realtime:events").Set(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(BusSubscriptionActive.WithLabelValues("realtime:events")))
}

func TestHistogramsCollect(t *testing.T) {
	MessageSendDuration.Observe(0.0002)
	ConnectionDuration.Observe(42)
	BusFanoutLatency.Observe(0.001)

	assert.Greater(t, testutil.CollectAndCount(MessageSendDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(ConnectionDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(BusFanoutLatency), 0)
}
