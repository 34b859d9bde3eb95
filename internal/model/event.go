package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType classifies analytics events.
type EventType string

const (
	EventInstall     EventType = "install"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventAttribution EventType = "attribution"
	EventCustom      EventType = "custom"
)

// IsValid checks if the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventInstall, EventOpen, EventClick, EventAttribution, EventCustom:
		return true
	}
	return false
}

// AnalyticsEvent is a single telemetry event owned by the queue until it
// is delivered or permanently dropped. ID is the idempotency key: the
// ingestion backend must not double-count a redelivered id.
type AnalyticsEvent struct {
	ID          string            `json:"id"` // ULID (time-sortable)
	Type        EventType         `json:"type"`
	Properties  map[string]any    `json:"properties,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	DeviceID    string            `json:"device_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	UTM         map[string]string `json:"utm,omitempty"`
}

// EventBatch is an ordered slice of events drawn from the queue for one
// delivery attempt. Events preserve enqueue order end-to-end; a failed
// batch is requeued in the same relative order.
type EventBatch struct {
	Events []AnalyticsEvent `json:"events"`
}

// IDs returns the event ids in batch order.
func (b *EventBatch) IDs() []string {
	ids := make([]string, len(b.Events))
	for i, e := range b.Events {
		ids[i] = e.ID
	}
	return ids
}

// Len returns the number of events in the batch.
func (b *EventBatch) Len() int {
	return len(b.Events)
}

// NewEventID generates a time-sortable unique event id.
func NewEventID() string {
	return ulid.Make().String()
}
