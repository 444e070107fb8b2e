package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes bounds a single event payload.
const DefaultMaxPayloadBytes = 1 << 20

// Event is a side effect recorded after a commit for asynchronous delivery.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`

	// NextAttemptAt holds a failed event back until its retry backoff elapses.
	NextAttemptAt time.Time `json:"nextAttemptAt"`
}

// Due reports whether the event may be delivered at now.
func (e *Event) Due(now time.Time) bool {
	return !now.Before(e.NextAttemptAt)
}

// NewEvent marshals payload and returns a fresh event.
func NewEvent(eventType, aggregateID string, payload any) (*Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox event payload: %w", err)
	}
	if len(data) > DefaultMaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
