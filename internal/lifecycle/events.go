package lifecycle

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents a lifecycle event category broadcast to subscribers.
type EventType string

const (
	// EventTypeServersChanged is emitted whenever the set of servers changes.
	EventTypeServersChanged EventType = "servers.changed"
	// EventTypeServerState is emitted when a single server changes connection state.
	EventTypeServerState EventType = "server.state"
	// EventTypeToolsChanged is emitted when a server's cached tools change.
	EventTypeToolsChanged EventType = "tools.changed"
	// EventTypeAuthPending is emitted when a server starts waiting for user authentication.
	EventTypeAuthPending EventType = "auth.pending"
	// EventTypeAuthCompleted is emitted when an auth flow completes.
	EventTypeAuthCompleted EventType = "auth.completed"
)

// Event is a typed notification published by the lifecycle event bus.
// IDs are ULIDs, so subscribers can order and deduplicate replays.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func newEvent(eventType EventType, payload map[string]any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
