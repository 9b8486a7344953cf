package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"coursehub/internal/platform/models"
	"github.com/google/uuid"
)

// isoMillis matches the ISO-8601 form most receivers expect, e.g. 2026-10-14T09:30:00.000Z.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type payload struct {
	Event     models.EventType `json:"event"`
	Data      interface{}      `json:"data"`
	Timestamp string           `json:"timestamp"`
}

// Event is a serialised domain event. Body is shared read-only by every
// delivery chain spawned for the event.
type Event struct {
	Type      models.EventType
	Body      []byte
	Timestamp time.Time
}

func NewEvent(eventType models.EventType, data interface{}, now time.Time) (*Event, error) {
	if data == nil {
		data = map[string]interface{}{}
	}

	ts := now.UTC()
	body, err := json.Marshal(payload{
		Event:     eventType,
		Data:      data,
		Timestamp: ts.Format(isoMillis),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialise %s payload: %w", eventType, err)
	}

	return &Event{Type: eventType, Body: body, Timestamp: ts}, nil
}

// Delivery is one subscription's attempt chain for an event. Every attempt in
// the chain sends the same body and delivery id so receivers can deduplicate.
type Delivery struct {
	ID      string
	Event   *Event
	Attempt int
}

func (e *Event) NewDelivery() *Delivery {
	return &Delivery{
		ID:    "dlv_" + uuid.New().String(),
		Event: e,
	}
}
