package recovery

import (
	"context"
	"maps"
	"time"

	"go.jetify.com/typeid"
)

// Strategy names recorded on attempts.
const (
	StrategyFillDefaults    = "fill_defaults"
	StrategyResetStage      = "reset_stage"
	StrategyResetStageAgent = "reset_stage_agent"
	StrategyNone            = "no_strategy"
	StrategyBudgetExhausted = "budget_exhausted"
)

// ErrorRecord is one recorded failure. Records are append-only apart from
// their attempts and resolution fields.
type ErrorRecord struct {
	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflow_id"`
	StageID         string            `json:"stage_id,omitempty"`
	Message         string            `json:"message"`
	Kind            string            `json:"kind"`
	Category        Category          `json:"category"`
	Severity        Severity          `json:"severity"`
	Context         map[string]string `json:"context,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	Attempts        []RecoveryAttempt `json:"attempts,omitempty"`
}

// Resolved reports whether an operator closed the record.
func (r *ErrorRecord) Resolved() bool {
	return r.ResolvedAt != nil
}

// Clone returns a deep copy.
func (r *ErrorRecord) Clone() ErrorRecord {
	out := *r
	out.Context = maps.Clone(r.Context)
	if r.ResolvedAt != nil {
		resolved := *r.ResolvedAt
		out.ResolvedAt = &resolved
	}
	out.Attempts = append([]RecoveryAttempt(nil), r.Attempts...)
	return out
}

// RecoveryAttempt records one strategy invocation, or one refused attempt
// once the budget is spent.
type RecoveryAttempt struct {
	ID         string    `json:"id"`
	ErrorID    string    `json:"error_id,omitempty"`
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	Success    bool      `json:"success"`
	Notes      string    `json:"notes,omitempty"`
}

// StageReset asks the controller to return a stage to Pending.
type StageReset struct {
	StageID      string
	Defaults     map[string]any
	ManualReview bool
	Reason       string
}

// Controller is the slice of the workflow manager the handler drives.
type Controller interface {
	FailWorkflow(ctx context.Context, workflowID string, category Category, severity Severity, message string) error
	ResetStage(ctx context.Context, workflowID string, reset StageReset) error
}

// Store persists records and attempts.
type Store interface {
	AppendError(ctx context.Context, record ErrorRecord) error
	AppendRecoveryAttempt(ctx context.Context, attempt RecoveryAttempt) error
	ResolveError(ctx context.Context, errorID string, resolvedAt time.Time, notes string) error
	// ListErrors returns records with attempts, oldest first. An empty
	// workflowID lists every record.
	ListErrors(ctx context.Context, workflowID string) ([]ErrorRecord, error)
}

func newID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}
