package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the outbound envelope variants.
type MessageType string

const (
	MessageTypeEvent                 MessageType = "event"
	MessageTypeProgressUpdate        MessageType = "progress_update"
	MessageTypeSystemNotification    MessageType = "system_notification"
	MessageTypePing                  MessageType = "ping"
	MessageTypePong                  MessageType = "pong"
	MessageTypeConnectionEstablished MessageType = "connection_established"
)

// Message is the envelope written to WebSocket clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"message_id"`
}

// EventData is the payload of a MessageTypeEvent envelope.
type EventData struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// ConnectionEstablishedData is the payload of the welcome message.
type ConnectionEstablishedData struct {
	ConnectionID string `json:"connection_id"`
}

// NewMessage builds an envelope with a fresh message id.
// The data value must be JSON-marshalable.
func NewMessage(msgType MessageType, data any, now time.Time) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: now,
		MessageID: uuid.NewString(),
	}, nil
}

// NewPingMessage builds the liveness ping envelope.
func NewPingMessage(now time.Time) Message {
	return Message{
		Type:      MessageTypePing,
		Data:      json.RawMessage(`{}`),
		Timestamp: now,
		MessageID: uuid.NewString(),
	}
}

// NewPongMessage builds the reply to a client-initiated ping.
func NewPongMessage(now time.Time) Message {
	return Message{
		Type:      MessageTypePong,
		Data:      json.RawMessage(`{}`),
		Timestamp: now,
		MessageID: uuid.NewString(),
	}
}

// NewConnectionEstablishedMessage builds the welcome envelope sent after registration.
func NewConnectionEstablishedMessage(connectionID string, now time.Time) Message {
	data, _ := json.Marshal(ConnectionEstablishedData{ConnectionID: connectionID})
	return Message{
		Type:      MessageTypeConnectionEstablished,
		Data:      data,
		Timestamp: now,
		MessageID: uuid.NewString(),
	}
}
