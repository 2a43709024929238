package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"assessflow/internal/agent"
	"assessflow/internal/events"
	"assessflow/internal/queue"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
	"assessflow/internal/workflow"
)

// showEventLimit caps the event history returned with a workflow.
const showEventLimit = 200

// CreateRequest describes a new assessment.
type CreateRequest struct {
	ClientID       string
	TherapistID    string
	AssessmentType string
	Metadata       map[string]any
}

// Create registers a workflow and hands it to the queue.
func (d *Daemon) Create(ctx context.Context, req CreateRequest) (*workflow.Workflow, error) {
	wf, err := d.workflows.CreateWorkflow(ctx, req.ClientID, req.TherapistID, req.AssessmentType, req.Metadata)
	if err != nil {
		return nil, err
	}
	if err := d.queue.Enqueue(ctx, wf.ID); err != nil {
		return wf, err
	}
	return d.workflows.GetWorkflow(wf.ID)
}

// QueueStatus returns the scheduling snapshot.
func (d *Daemon) QueueStatus() queue.Status {
	return d.queue.GetQueueStatus()
}

// Resume re-drives an Error workflow. At the concurrency ceiling the
// workflow is left Pending in the queue instead of failing the request.
func (d *Daemon) Resume(ctx context.Context, id string) (bool, error) {
	err := d.workflows.ResumeWorkflow(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, services.ErrCapacityExceeded) {
		return false, d.queue.Enqueue(ctx, id)
	}
	return false, err
}

// Cancel stops a workflow.
func (d *Daemon) Cancel(ctx context.Context, id string) error {
	return d.workflows.CancelWorkflow(ctx, id)
}

// List returns workflows matching filter.
func (d *Daemon) List(filter workflow.Filter) []*workflow.Workflow {
	return d.workflows.ListWorkflows(filter)
}

// Detail is one workflow with its error history and recent events.
type Detail struct {
	Workflow *workflow.Workflow     `json:"workflow"`
	Errors   []recovery.ErrorRecord `json:"errors,omitempty"`
	Events   []events.Event         `json:"events,omitempty"`
}

// Show loads a workflow with its errors and persisted events.
func (d *Daemon) Show(ctx context.Context, id string) (Detail, error) {
	wf, err := d.workflows.GetWorkflow(id)
	if err != nil {
		return Detail{}, err
	}
	records, err := d.workflows.Handler().WorkflowErrors(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	history, err := d.store.EventsSince(ctx, time.Time{}, id, showEventLimit)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Workflow: wf, Errors: records, Events: history}, nil
}

// Errors lists error records for one workflow, or all when id is empty.
func (d *Daemon) Errors(ctx context.Context, workflowID string) ([]recovery.ErrorRecord, error) {
	if strings.TrimSpace(workflowID) == "" {
		return d.store.ListErrors(ctx, "")
	}
	return d.workflows.Handler().WorkflowErrors(ctx, workflowID)
}

// ErrorSummary aggregates error counts and active issues.
func (d *Daemon) ErrorSummary() recovery.Summary {
	return d.workflows.Handler().GetErrorSummary()
}

// ResolveError closes an error record.
func (d *Daemon) ResolveError(ctx context.Context, errorID, notes string) error {
	return d.workflows.Handler().ResolveError(ctx, errorID, notes)
}

// ClearResolved forgets fully resolved workflows' error history in memory.
func (d *Daemon) ClearResolved() int {
	return d.workflows.Handler().ClearResolved()
}

// Summary counts this week's workflows.
func (d *Daemon) Summary(now time.Time) workflow.WeeklySummary {
	return d.workflows.WeeklySummary(now)
}

// Agents reports per-type agent health.
func (d *Daemon) Agents() []agent.Status {
	return d.pool.Tracker().Statuses()
}

// SetAgentEnabled disables an idle agent type or re-enables it.
func (d *Daemon) SetAgentEnabled(agentType string, enabled bool) error {
	if _, ok := d.pool.Tracker().Status(agentType); !ok {
		return services.Wrap(services.ErrNotFound, "daemon", "set agent", agentType, nil)
	}
	if enabled {
		d.pool.Tracker().Reset(agentType)
		return nil
	}
	return d.pool.Tracker().Disable(agentType)
}
