package events

import (
	"time"
)

// Type identifies the kind of transition an event reports.
type Type string

const (
	WorkflowCreated   Type = "workflow.created"
	WorkflowEnqueued  Type = "workflow.enqueued"
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	WorkflowCancelled Type = "workflow.cancelled"
	WorkflowResumed   Type = "workflow.resumed"
	WorkflowReclaimed Type = "workflow.reclaimed"
	WorkflowStalled   Type = "workflow.stalled"

	StageStarted   Type = "stage.started"
	StageCompleted Type = "stage.completed"
	StageFailed    Type = "stage.failed"
	StageReset     Type = "stage.reset"
	StageSkipped   Type = "stage.skipped"

	ErrorRecorded     Type = "error.recorded"
	ErrorResolved     Type = "error.resolved"
	RecoveryAttempted Type = "recovery.attempted"

	AgentSessionStarted Type = "agent.session_started"
	AgentSessionEnded   Type = "agent.session_ended"
	AgentError          Type = "agent.error"
)

// Event is one routed status change.
type Event struct {
	ID         string         `json:"id"`
	Sequence   uint64         `json:"seq"`
	Type       Type           `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	StageID    string         `json:"stage_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Key returns the idempotency key consumers should dedupe on.
func (e Event) Key() string {
	return e.WorkflowID + "|" + string(e.Type) + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Emitter is the narrow publishing surface handed to components.
type Emitter interface {
	Publish(Event) Event
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(evt Event) Event { return evt }

// Sink receives every published event synchronously.
type Sink interface {
	Append(Event)
}
