package service

import (
	"context"

	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
	"github.com/48Nauts-Operator/lineary-realtime/internal/realtime"
)

// heartbeatLoop pings every connection on a fixed interval. The write
// itself is the liveness probe: a connection whose transport fails the
// ping is disconnected by the registry, so dead peers are reaped
// without tracking pong replies.
func (s *Service) heartbeatLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.sendHeartbeat()
		}
	}
}

func (s *Service) sendHeartbeat() {
	before := s.manager.Stats().TotalConnections
	if before == 0 {
		return
	}

	delivered := s.manager.Broadcast(realtime.NewPingMessage(s.clock.Now()))
	metrics.HeartbeatPingsSent.Add(float64(delivered))

	// Connections can come and go mid-broadcast, so this is a best
	// effort count of ping writes that failed and reaped their peer.
	if failed := before - delivered; failed > 0 {
		metrics.HeartbeatFailures.Add(float64(failed))
		metrics.HeartbeatReapedConnections.Add(float64(failed))
		s.logger.Info("heartbeat reaped dead connections",
			"reaped", failed,
			"delivered", delivered,
		)
	}
}
