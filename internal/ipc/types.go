package ipc

import (
	"assessflow/internal/agent"
	"assessflow/internal/daemon"
	"assessflow/internal/queue"
	"assessflow/internal/recovery"
	"assessflow/internal/workflow"
)

// ServiceName is the RPC service prefix.
const ServiceName = "Assessflow"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon runtime summary.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// QueueStatusRequest fetches the scheduling snapshot.
type QueueStatusRequest struct{}

// QueueStatusResponse carries queue counts and the admission order.
type QueueStatusResponse struct {
	Queue queue.Status `json:"queue"`
}

// WorkflowCreateRequest describes a new assessment.
type WorkflowCreateRequest struct {
	ClientID       string         `json:"client_id"`
	TherapistID    string         `json:"therapist_id"`
	AssessmentType string         `json:"assessment_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// WorkflowResponse carries a single workflow.
type WorkflowResponse struct {
	Workflow *workflow.Workflow `json:"workflow"`
}

// WorkflowListRequest filters listings. Empty fields match everything.
type WorkflowListRequest struct {
	Status      string `json:"status,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TherapistID string `json:"therapist_id,omitempty"`
}

// WorkflowListResponse contains matching workflows, oldest first.
type WorkflowListResponse struct {
	Workflows []*workflow.Workflow `json:"workflows"`
}

// WorkflowIDRequest addresses one workflow.
type WorkflowIDRequest struct {
	ID string `json:"id"`
}

// WorkflowShowResponse carries a workflow with its history.
type WorkflowShowResponse struct {
	Detail daemon.Detail `json:"detail"`
}

// WorkflowResumeResponse reports whether the workflow started immediately
// or was left queued.
type WorkflowResumeResponse struct {
	Started bool `json:"started"`
}

// WorkflowCancelResponse acknowledges a cancellation.
type WorkflowCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// WorkflowSummaryRequest asks for the current week's counts.
type WorkflowSummaryRequest struct{}

// WorkflowSummaryResponse carries weekly counts.
type WorkflowSummaryResponse struct {
	Summary workflow.WeeklySummary `json:"summary"`
}

// ErrorListRequest lists error records, optionally for one workflow.
type ErrorListRequest struct {
	WorkflowID string `json:"workflow_id,omitempty"`
}

// ErrorListResponse carries error records with their attempts.
type ErrorListResponse struct {
	Errors []recovery.ErrorRecord `json:"errors"`
}

// ErrorSummaryRequest asks for aggregate error counts.
type ErrorSummaryRequest struct{}

// ErrorSummaryResponse carries the handler summary.
type ErrorSummaryResponse struct {
	Summary recovery.Summary `json:"summary"`
}

// ErrorResolveRequest closes an error record.
type ErrorResolveRequest struct {
	ID    string `json:"id"`
	Notes string `json:"notes,omitempty"`
}

// ErrorResolveResponse acknowledges a resolution.
type ErrorResolveResponse struct {
	Resolved bool `json:"resolved"`
}

// AgentsRequest fetches agent health.
type AgentsRequest struct{}

// AgentsResponse lists per-type agent status.
type AgentsResponse struct {
	Agents []agent.Status `json:"agents"`
}

// AgentSetRequest enables or disables an agent type.
type AgentSetRequest struct {
	AgentType string `json:"agent_type"`
	Enabled   bool   `json:"enabled"`
}

// AgentSetResponse echoes the applied state.
type AgentSetResponse struct {
	Agent agent.Status `json:"agent"`
}

// ErrorClearRequest drops resolved error records from memory.
type ErrorClearRequest struct{}

// ErrorClearResponse reports how many records were dropped.
type ErrorClearResponse struct {
	Cleared int `json:"cleared"`
}
