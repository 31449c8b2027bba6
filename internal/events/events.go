package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run event types
const (
	TypeRunQueued   = "run.queued"
	TypeRunProgress = "run.progress"
	TypeRunFinished = "run.finished"

	// TypeRunSnapshot carries the current view sent to a new stream subscriber
	TypeRunSnapshot = "run.snapshot"
)

// RunEvent reports a change to one generation run.
type RunEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the TypeRun* constants
	Type string `json:"type"`

	// RunID identifies the run the event belongs to
	RunID uuid.UUID `json:"run_id"`

	// Status is the one-line progress message
	Status string `json:"status"`

	// Payload carries the run view at the time of the event, serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *RunEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Terminal reports whether no further events follow for the run.
func (e *RunEvent) Terminal() bool {
	return e.Type == TypeRunFinished
}

// NewRunEvent creates a RunEvent with the given type, status and payload.
// A nil payload leaves Payload empty.
func NewRunEvent(eventType string, runID uuid.UUID, status string, payload any) (*RunEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &RunEvent{
		ID:        uuid.New(),
		Type:      eventType,
		RunID:     runID,
		Status:    status,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
// HandleEvent is called synchronously from the emitting goroutine and must
// not block.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *RunEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *RunEvent) error
}
