package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/48Nauts-Operator/lineary-realtime/internal/metrics"
)

// rateWindow is the sliding interval each per-connection limiter covers.
const rateWindow = time.Minute

// Manager is the connection registry. All index mutations happen under
// one mutex in a single critical section; delivery never holds it.
type Manager struct {
	logger *slog.Logger
	clock  clockwork.Clock

	writeTimeout time.Duration
	rateLimit    int

	mu          sync.RWMutex
	connections map[string]*Connection
	users       map[string]map[string]struct{}
	sessions    map[string]map[string]struct{}
	rooms       map[string]map[string]struct{}
	connRooms   map[string]map[string]struct{}

	// Aggregates outlive the connections that produced them.
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	errorCount       atomic.Int64
}

// Stats is the aggregate view the stats endpoint serves.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	TotalUsers       int            `json:"total_users"`
	TotalSessions    int            `json:"total_sessions"`
	TotalRooms       int            `json:"total_rooms"`
	MessagesSent     int64          `json:"messages_sent"`
	MessagesReceived int64          `json:"messages_received"`
	BytesSent        int64          `json:"bytes_sent"`
	BytesReceived    int64          `json:"bytes_received"`
	Errors           int64          `json:"errors"`
	Rooms            map[string]int `json:"rooms"`
}

// NewManager builds an empty registry. rateLimitPerMinute bounds
// payload-bearing messages delivered to each connection.
func NewManager(writeTimeout time.Duration, rateLimitPerMinute int, clock clockwork.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		logger:       logger,
		clock:        clock,
		writeTimeout: writeTimeout,
		rateLimit:    rateLimitPerMinute,
		connections:  make(map[string]*Connection),
		users:        make(map[string]map[string]struct{}),
		sessions:     make(map[string]map[string]struct{}),
		rooms:        make(map[string]map[string]struct{}),
		connRooms:    make(map[string]map[string]struct{}),
	}
}

// Connect registers a transport under connectionID and confirms the
// registration to the client. It returns false when the id is already
// taken or the confirmation write fails; a failed confirmation tears
// the connection down again before returning.
func (m *Manager) Connect(transport Transport, connectionID, userID, sessionID string) (*Connection, bool) {
	now := m.clock.Now()
	conn := NewConnection(connectionID, userID, sessionID, transport, m.writeTimeout, NewRateLimiter(m.rateLimit, rateWindow), now)

	m.mu.Lock()
	if _, exists := m.connections[connectionID]; exists {
		m.mu.Unlock()
		m.logger.Warn("rejecting duplicate connection id", "connection_id", connectionID)
		_ = conn.Close()
		return nil, false
	}
	m.connections[connectionID] = conn
	if userID != "" {
		addToIndex(m.users, userID, connectionID)
	}
	if sessionID != "" {
		addToIndex(m.sessions, sessionID, connectionID)
	}
	m.mu.Unlock()

	metrics.ConnectionsCurrent.Inc()
	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()

	welcome := NewConnectionEstablishedMessage(connectionID, now)
	data, err := json.Marshal(welcome)
	if err != nil {
		m.logger.Error("marshaling connection confirmation", "error", err)
		m.Disconnect(connectionID)
		return nil, false
	}
	if !m.deliver(conn, welcome.Type, data) {
		return nil, false
	}

	m.logger.Info("websocket connected",
		"connection_id", connectionID,
		"user_id", userID,
		"session_id", sessionID,
	)
	return conn, true
}

// Disconnect removes a connection from every index and closes its
// transport. Unknown ids are a no-op, so racing callers are safe.
func (m *Manager) Disconnect(connectionID string) {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, connectionID)
	if conn.UserID != "" {
		removeFromIndex(m.users, conn.UserID, connectionID)
	}
	if conn.SessionID != "" {
		removeFromIndex(m.sessions, conn.SessionID, connectionID)
	}
	for room := range m.connRooms[connectionID] {
		removeFromIndex(m.rooms, room, connectionID)
	}
	delete(m.connRooms, connectionID)
	m.mu.Unlock()

	if err := conn.Close(); err != nil {
		m.logger.Debug("closing transport", "connection_id", connectionID, "error", err)
	}

	metrics.ConnectionsCurrent.Dec()
	metrics.ConnectionDuration.Observe(m.clock.Since(conn.connectedAt).Seconds())
	m.logger.Info("websocket disconnected", "connection_id", connectionID, "user_id", conn.UserID)
}

// DisconnectAll drains the registry, closing every transport. Used on
// shutdown.
func (m *Manager) DisconnectAll() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
	return len(ids)
}

// SendToConnection delivers one message to one connection. It returns
// false for unknown ids, rate-limited messages, and write failures.
func (m *Manager) SendToConnection(connectionID string, msg Message) bool {
	m.mu.RLock()
	conn, ok := m.connections[connectionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("marshaling message", "type", msg.Type, "error", err)
		return false
	}
	return m.deliver(conn, msg.Type, data)
}

// SendToUser fans a message out to every connection of one user and
// returns the number actually delivered.
func (m *Manager) SendToUser(userID string, msg Message) int {
	return m.fanout(m.snapshotIndex(m.users, userID), msg, "user")
}

// SendToSession fans a message out to every connection of one session.
func (m *Manager) SendToSession(sessionID string, msg Message) int {
	return m.fanout(m.snapshotIndex(m.sessions, sessionID), msg, "session")
}

// SendToRoom fans a message out to the current members of a room.
func (m *Manager) SendToRoom(room string, msg Message) int {
	return m.fanout(m.snapshotIndex(m.rooms, room), msg, "room")
}

// Broadcast fans a message out to every connection except the excluded
// ids and returns the number actually delivered.
func (m *Manager) Broadcast(msg Message, exclude ...string) int {
	var skip map[string]struct{}
	if len(exclude) > 0 {
		skip = make(map[string]struct{}, len(exclude))
		for _, id := range exclude {
			skip[id] = struct{}{}
		}
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for id, conn := range m.connections {
		if _, excluded := skip[id]; excluded {
			continue
		}
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	return m.fanout(conns, msg, "broadcast")
}

// JoinRoom adds a connection to a room. Joining twice is a no-op;
// unknown connections and empty room names report false.
func (m *Manager) JoinRoom(connectionID, room string) bool {
	if room == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[connectionID]; !ok {
		return false
	}
	addToIndex(m.rooms, room, connectionID)
	addToIndex(m.connRooms, connectionID, room)
	return true
}

// LeaveRoom removes a connection from a room. Leaving a room the
// connection never joined is a no-op that still reports true.
func (m *Manager) LeaveRoom(connectionID, room string) bool {
	if room == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[connectionID]; !ok {
		return false
	}
	removeFromIndex(m.rooms, room, connectionID)
	removeFromIndex(m.connRooms, connectionID, room)
	return true
}

// RecordInbound accounts for a client frame against the connection and
// the registry aggregates.
func (m *Manager) RecordInbound(connectionID string, n int) {
	m.mu.RLock()
	conn, ok := m.connections[connectionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.RecordInbound(n, m.clock.Now())
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(n))
}

// RecordError counts a client protocol violation, such as an inbound
// frame that does not parse. Unknown ids are a no-op.
func (m *Manager) RecordError(connectionID string) {
	m.mu.RLock()
	conn, ok := m.connections[connectionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.errorCount.Add(1)
	m.errorCount.Add(1)
}

// Stats snapshots the registry under the read lock.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	rooms := make(map[string]int, len(m.rooms))
	for room, members := range m.rooms {
		rooms[room] = len(members)
	}
	s := Stats{
		TotalConnections: len(m.connections),
		TotalUsers:       len(m.users),
		TotalSessions:    len(m.sessions),
		TotalRooms:       len(m.rooms),
		Rooms:            rooms,
	}
	m.mu.RUnlock()

	s.MessagesSent = m.messagesSent.Load()
	s.MessagesReceived = m.messagesReceived.Load()
	s.BytesSent = m.bytesSent.Load()
	s.BytesReceived = m.bytesReceived.Load()
	s.Errors = m.errorCount.Load()
	return s
}

// snapshotIndex copies the connections behind one index key while
// holding the read lock. Delivery then proceeds against the copy, so a
// connection registered or removed mid-send never corrupts iteration.
func (m *Manager) snapshotIndex(index map[string]map[string]struct{}, key string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := index[key]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if conn, found := m.connections[id]; found {
			conns = append(conns, conn)
		}
	}
	return conns
}

// fanout marshals once and delivers to each snapshotted connection.
func (m *Manager) fanout(conns []*Connection, msg Message, scope string) int {
	if len(conns) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("marshaling message", "type", msg.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if m.deliver(conn, msg.Type, data) {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.FanoutDeliveries.WithLabelValues(scope).Add(float64(delivered))
	}
	return delivered
}

// deliver writes one frame to one connection. Callers must not hold
// the registry lock: a failed write disconnects the connection, which
// re-enters the registry. Rate-limited messages are dropped, never
// queued.
func (m *Manager) deliver(conn *Connection, msgType MessageType, data []byte) bool {
	if conn.Closed() {
		return false
	}
	now := m.clock.Now()
	if counted(msgType) && !conn.Allow(now) {
		metrics.MessagesRateLimited.Inc()
		return false
	}

	if err := conn.write(data, now); err != nil {
		m.errorCount.Add(1)
		metrics.SendFailures.Inc()
		m.logger.Warn("dropping connection after write failure",
			"connection_id", conn.ID,
			"error", err,
		)
		m.Disconnect(conn.ID)
		return false
	}

	metrics.MessagesSent.WithLabelValues(string(msgType)).Inc()
	metrics.MessageSendDuration.Observe(m.clock.Since(now).Seconds())
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(len(data)))
	return true
}

// counted reports whether a message type consumes rate limit budget.
// Pings, pongs, and the connect confirmation are control traffic.
func counted(t MessageType) bool {
	return t != MessageTypePing && t != MessageTypePong && t != MessageTypeConnectionEstablished
}

func addToIndex(index map[string]map[string]struct{}, key, member string) {
	bucket, ok := index[key]
	if !ok {
		bucket = make(map[string]struct{})
		index[key] = bucket
	}
	bucket[member] = struct{}{}
}

// removeFromIndex drops member and deletes the bucket once empty, so
// long-gone keys do not accumulate.
func removeFromIndex(index map[string]map[string]struct{}, key, member string) {
	bucket, ok := index[key]
	if !ok {
		return
	}
	delete(bucket, member)
	if len(bucket) == 0 {
		delete(index, key)
	}
}
