package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScopeKind selects which index the delivery fans out over.
type ScopeKind string

const (
	ScopeBroadcast ScopeKind = "broadcast"
	ScopeUser      ScopeKind = "user"
	ScopeSession   ScopeKind = "session"
	ScopeRoom      ScopeKind = "room"
)

// Scope narrows an event to a subset of connections. Target is the
// user, session, or room identifier and is empty for broadcasts.
type Scope struct {
	Kind   ScopeKind `json:"kind"`
	Target string    `json:"target,omitempty"`
}

// Validate reports whether the scope names a deliverable audience.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeBroadcast:
		return nil
	case ScopeUser, ScopeSession, ScopeRoom:
		if s.Target == "" {
			return fmt.Errorf("scope %q requires a target", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

// Event is the envelope published on the distribution bus. Origin is
// the identifier of the instance that published it, so subscribers can
// recognise and skip their own events after local delivery.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Scope     Scope           `json:"scope"`
	Origin    string          `json:"origin"`
}

// NewEvent builds an event envelope with a fresh identifier.
func NewEvent(eventType string, payload json.RawMessage, scope Scope, origin string, now time.Time) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("event type must not be empty")
	}
	if err := scope.Validate(); err != nil {
		return Event{}, err
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: now.UTC(),
		Payload:   payload,
		Scope:     scope,
		Origin:    origin,
	}, nil
}
