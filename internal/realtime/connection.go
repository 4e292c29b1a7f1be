package realtime

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the write side of an established client connection.
// *websocket.Conn from gorilla/websocket satisfies it directly.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// Connection pairs a transport with its identity and bookkeeping.
// Writes are serialized through writeMu, so two fan-outs touching the
// same connection can never interleave their frames.
type Connection struct {
	ID        string
	UserID    string
	SessionID string

	transport    Transport
	writeTimeout time.Duration
	limiter      *RateLimiter
	connectedAt  time.Time

	mu       sync.RWMutex
	metadata map[string]string

	writeMu sync.Mutex
	closed  atomic.Bool

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	errorCount       atomic.Int64
	lastActivity     atomic.Int64
}

// ConnectionStats is a point-in-time snapshot of one connection.
type ConnectionStats struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	ConnectedAt      time.Time `json:"connected_at"`
	LastActivity     time.Time `json:"last_activity"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	BytesSent        int64     `json:"bytes_sent"`
	BytesReceived    int64     `json:"bytes_received"`
	Errors           int64     `json:"errors"`
}

// NewConnection wraps a transport for registry management. The limiter
// governs non-control traffic to this connection.
func NewConnection(id, userID, sessionID string, transport Transport, writeTimeout time.Duration, limiter *RateLimiter, now time.Time) *Connection {
	c := &Connection{
		ID:           id,
		UserID:       userID,
		SessionID:    sessionID,
		transport:    transport,
		writeTimeout: writeTimeout,
		limiter:      limiter,
		connectedAt:  now,
		metadata:     make(map[string]string),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// write pushes one text frame to the client. The deadline bounds a
// stalled client; callers treat any error as a dead connection.
func (c *Connection) write(data []byte, now time.Time) error {
	if c.closed.Load() {
		return fmt.Errorf("connection %s is closed", c.ID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.SetWriteDeadline(now.Add(c.writeTimeout)); err != nil {
		c.errorCount.Add(1)
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		c.errorCount.Add(1)
		return fmt.Errorf("writing message: %w", err)
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(len(data)))
	c.lastActivity.Store(now.UnixNano())
	return nil
}

// Allow consults the connection's sliding window. Control frames and
// the heartbeat bypass it; only payload-bearing messages are counted.
func (c *Connection) Allow(now time.Time) bool {
	return c.limiter.Allow(now)
}

// RecordInbound accounts for a frame received from the client.
func (c *Connection) RecordInbound(n int, now time.Time) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(n))
	c.lastActivity.Store(now.UnixNano())
}

// Close tears down the transport. Safe to call repeatedly; only the
// first call reaches the transport.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.transport.Close()
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr exposes the client address for logging.
func (c *Connection) RemoteAddr() net.Addr {
	return c.transport.RemoteAddr()
}

// SetMetadata attaches a key such as the user agent or permission set.
func (c *Connection) SetMetadata(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a copy of the connection's metadata.
func (c *Connection) Metadata() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Stats snapshots the connection counters.
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		ID:               c.ID,
		UserID:           c.UserID,
		SessionID:        c.SessionID,
		ConnectedAt:      c.connectedAt,
		LastActivity:     time.Unix(0, c.lastActivity.Load()),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		Errors:           c.errorCount.Load(),
	}
}
