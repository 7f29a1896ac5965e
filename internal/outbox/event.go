// Package outbox publishes best-effort entry lifecycle events to Kafka.
// Unlike a transactional outbox table, nothing here is durable: map.jsonl
// is the sole source of truth for resume, and a publish failure never
// blocks or fails the Orchestrator.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types for entry lifecycle notifications.
const (
	EventMetadataOK = "entry.metadata_ok"
	EventPDFOK      = "entry.pdf_ok"
	EventDone       = "entry.done"
	EventFailed     = "entry.failed"
)

// Event is one entry lifecycle notification, keyed by EntryID so
// downstream consumers can correlate notifications for the same Entry.
type Event struct {
	EventID   string          `json:"event_id"`
	EntryID   string          `json:"entry_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventBuilder constructs an Event field by field, mirroring the
// teacher's fluent builder shape.
type EventBuilder struct {
	entryID   string
	eventType string
	payload   interface{}
	err       error
}

// NewEventBuilder starts a new EventBuilder.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{}
}

// WithEntryID sets the Event's aggregate id.
func (b *EventBuilder) WithEntryID(id string) *EventBuilder {
	b.entryID = id
	return b
}

// WithEventType sets the Event's type.
func (b *EventBuilder) WithEventType(eventType string) *EventBuilder {
	b.eventType = eventType
	return b
}

// WithPayload sets the Event's payload, to be JSON-marshaled on Build.
func (b *EventBuilder) WithPayload(payload interface{}) *EventBuilder {
	b.payload = payload
	return b
}

// Build finalizes the Event. It returns an error if EntryID or
// EventType is missing, or if the payload fails to marshal.
func (b *EventBuilder) Build() (Event, error) {
	if b.err != nil {
		return Event{}, b.err
	}
	if b.entryID == "" {
		return Event{}, fmt.Errorf("outbox: entry_id is required")
	}
	if b.eventType == "" {
		return Event{}, fmt.Errorf("outbox: event_type is required")
	}

	var payload json.RawMessage
	if b.payload != nil {
		raw, err := json.Marshal(b.payload)
		if err != nil {
			return Event{}, fmt.Errorf("outbox: marshal payload: %w", err)
		}
		payload = raw
	}

	return Event{
		EventID:    uuid.New().String(),
		EntryID:    b.entryID,
		EventType:  b.eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}, nil
}
