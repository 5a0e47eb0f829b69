package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes entries in the observation event log.
type EventType string

const (
	// Run events
	EventTypeRunDiscovered EventType = "run.discovered"

	// Offset events
	EventTypeOffsetApplied EventType = "offset.applied"
	EventTypeOffsetFailed  EventType = "offset.failed"
	EventTypeTriggerSent   EventType = "trigger.sent"
	EventTypeTriggerFailed EventType = "trigger.failed"

	// Instrument setup events
	EventTypeSetupApplied EventType = "setup.applied"
	EventTypeSetupFailed  EventType = "setup.failed"
)

// EntityType identifies what an event relates to.
type EntityType string

const (
	EntityTypeRun        EntityType = "run"
	EntityTypeTelescope  EntityType = "telescope"
	EntityTypeInstrument EntityType = "instrument"
)

// Event is one entry in the observation event log.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Type is the event category.
	Type EventType `json:"type"`

	// EntityType is the kind of entity the event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID names the entity, e.g. the run file or the mode kind.
	EntityID string `json:"entity_id"`

	// Payload carries event-specific details as JSON.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OffsetPayload records one commanded telescope offset.
type OffsetPayload struct {
	RA    float64 `json:"raoff"`
	Dec   float64 `json:"decoff"`
	Run   string  `json:"run"`
	Error string  `json:"error,omitempty"`
}

// SetupPayload records the outcome of one instrument setup attempt.
type SetupPayload struct {
	Mode     string `json:"mode"`
	Step     string `json:"step,omitempty"`
	Response string `json:"response,omitempty"`
}
