package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of pipeline event.
type Type string

const (
	TypeRunStarted    Type = "run.started"
	TypeRunCompleted  Type = "run.completed"
	TypeStepStarted   Type = "step.started"
	TypeStepCompleted Type = "step.completed"
	TypeStepFailed    Type = "step.failed"
	TypeGateWaiting   Type = "gate.waiting"
	TypeError         Type = "error"
)

// Event is a single telemetry event emitted during pipeline execution.
// Events are best-effort: emission failures are logged and dropped, they
// never affect the step that produced them.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	JobID     string         `json:"job_id"`
	Step      string         `json:"step,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(eventType Type, jobID, step, message string, details map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Step:      step,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

// Handler processes a single event delivered by a Bus subscription.
type Handler func(ctx context.Context, event Event) error

// Bus publishes pipeline events to interested observers.
type Bus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
