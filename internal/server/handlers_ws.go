package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	apperrors "github.com/48Nauts-Operator/lineary-realtime/internal/errors"
	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
	"github.com/48Nauts-Operator/lineary-realtime/internal/realtime"
)

// maxInboundBytes caps a single client frame. Inbound traffic is
// commands only, so anything larger is abuse.
const maxInboundBytes = 32 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Sibling web apps attach cross-origin with the shared cookie
	},
}

// clientCommand is the inbound frame format. Anything else counts as a
// protocol error against the connection.
type clientCommand struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.connLimits.Acquire(ip); !ok {
		metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		metrics.ConnectionsTotal.WithLabelValues("rejected").Inc()
		if reason == LimitReasonGlobal {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "connection capacity reached")
		}
		return apperrors.RateLimitedError("too many connections from this address")
	}

	identity, err := s.auth.Authenticate(c.Request())
	if err != nil {
		s.connLimits.Release(ip)
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote its handshake error response.
		s.connLimits.Release(ip)
		slog.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	connectionID := uuid.NewString()
	conn, ok := s.manager.Connect(ws, connectionID, identity.UserID, identity.SessionID)
	if !ok {
		// The registry already tore the transport down.
		s.connLimits.Release(ip)
		return nil
	}
	conn.SetMetadata("remote_ip", ip)
	conn.SetMetadata("user_agent", c.Request().UserAgent())
	if len(identity.Permissions) > 0 {
		conn.SetMetadata("permissions", strings.Join(identity.Permissions, ","))
	}

	s.readPump(ws, connectionID)

	s.manager.Disconnect(connectionID)
	s.connLimits.Release(ip)
	return nil
}

// readPump consumes client frames until the connection dies. A client
// must show life within two heartbeat intervals, via any frame or a
// protocol-level pong, or the read deadline closes the connection.
func (s *Server) readPump(ws *websocket.Conn, connectionID string) {
	readWait := 2 * s.config.HeartbeatInterval
	ws.SetReadLimit(maxInboundBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		s.manager.RecordInbound(connectionID, len(data))
		s.handleClientCommand(connectionID, data)
	}
}

func (s *Server) handleClientCommand(connectionID string, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.manager.RecordError(connectionID)
		slog.Debug("dropping unparseable client frame", "connection_id", connectionID, "error", err)
		return
	}

	switch cmd.Type {
	case "join_room":
		if cmd.Room == "" {
			s.manager.RecordError(connectionID)
			return
		}
		s.manager.JoinRoom(connectionID, cmd.Room)
	case "leave_room":
		if cmd.Room == "" {
			s.manager.RecordError(connectionID)
			return
		}
		s.manager.LeaveRoom(connectionID, cmd.Room)
	case "ping":
		s.manager.SendToConnection(connectionID, realtime.NewPongMessage(time.Now()))
	default:
		s.manager.RecordError(connectionID)
		slog.Debug("unknown client command", "connection_id", connectionID, "type", cmd.Type)
	}
}
