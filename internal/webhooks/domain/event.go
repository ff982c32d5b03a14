package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every event envelope.
const SchemaVersion = 1

// Event is the immutable envelope delivered to webhook endpoints.
type Event struct {
	ID            uuid.UUID
	Type          string
	Payload       json.RawMessage
	Timestamp     time.Time
	SchemaVersion int
}

// NewEvent creates an event with a fresh id. payload is marshalled unless it
// is already a json.RawMessage.
func NewEvent(eventType string, payload any, at time.Time) (Event, error) {
	return NewEventWithID(uuid.New(), eventType, payload, at)
}

// NewEventWithID creates an event that keeps an id assigned upstream.
func NewEventWithID(id uuid.UUID, eventType string, payload any, at time.Time) (Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case nil:
		raw = json.RawMessage(`{}`)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		raw = b
	}

	return Event{
		ID:            id,
		Type:          eventType,
		Payload:       raw,
		Timestamp:     at.UTC().Truncate(time.Second),
		SchemaVersion: SchemaVersion,
	}, nil
}

type wireEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"`
	SchemaVersion int             `json:"schema_version"`
}

// MarshalJSON writes the delivery wire format, with the timestamp in unix seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:            e.ID.String(),
		Type:          e.Type,
		Payload:       e.Payload,
		Timestamp:     e.Timestamp.Unix(),
		SchemaVersion: e.SchemaVersion,
	})
}

// UnmarshalJSON reads the delivery wire format.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*e = Event{
		ID:            id,
		Type:          w.Type,
		Payload:       w.Payload,
		Timestamp:     time.Unix(w.Timestamp, 0).UTC(),
		SchemaVersion: w.SchemaVersion,
	}
	return nil
}
