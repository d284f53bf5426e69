package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for research run lifecycle events.
const (
	EventTypeRunQueued    = "run.queued"
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
	EventTypeRunFailed    = "run.failed"
)

// RunEvent is a research run lifecycle event published to the event stream.
type RunEvent struct {
	EventID   string
	EventType string
	RunID     uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// NewRunEvent creates a lifecycle event for the given run.
// The payload is JSON-serialized automatically.
func NewRunEvent(eventType string, runID uuid.UUID, payload interface{}) (*RunEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &RunEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		RunID:     runID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// RunQueuedPayload is the payload for run.queued events.
type RunQueuedPayload struct {
	RunID uuid.UUID `json:"run_id"`
	Query string    `json:"query"`
}

// RunCompletedPayload is the payload for run.completed events.
type RunCompletedPayload struct {
	RunID          uuid.UUID     `json:"run_id"`
	PapersFound    int           `json:"papers_found"`
	PapersSkipped  int           `json:"papers_skipped"`
	MoleculesFound int           `json:"molecules_found"`
	Duration       time.Duration `json:"duration_ns"`
}

// RunFailedPayload is the payload for run.failed events.
type RunFailedPayload struct {
	RunID uuid.UUID `json:"run_id"`
	Error string    `json:"error"`
	Phase string    `json:"phase"`
}
