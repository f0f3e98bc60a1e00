package history

import (
	"context"
	"time"
)

// EventType defines the kind of launch lifecycle event.
type EventType string

const (
	EventSpawned EventType = "spawned"
	EventReady   EventType = "ready"
	EventFailed  EventType = "failed"
	EventStopped EventType = "stopped"
)

// Event represents a launch lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// Sink is a destination for launch events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
