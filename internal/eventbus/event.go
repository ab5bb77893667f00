package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

// Event types
const (
	EventConnectionOpened  EventType = "connection.opened"
	EventConnectionClosed  EventType = "connection.closed"
	EventUserOnline        EventType = "user.online"
	EventUserOffline       EventType = "user.offline"
	EventMessagePersisted  EventType = "message.persisted"
	EventMessageDeleted    EventType = "message.deleted"
	EventOperationRejected EventType = "operation.rejected"
)

// Event represents a system event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      any               `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, source string, data any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
		Metadata:  make(map[string]string),
	}
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
