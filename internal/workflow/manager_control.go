package workflow

import (
	"context"
	"fmt"
	"maps"
	"time"

	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

// FailWorkflow moves a non-terminal workflow to Error. The stage loop sees
// the terminal status and stops without further mutation.
func (m *Manager) FailWorkflow(ctx context.Context, id string, category recovery.Category, severity recovery.Severity, message string) error {
	m.mu.Lock()
	wf, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "workflow", "fail", id, nil)
	}
	if wf.Status.Terminal() {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "fail",
			fmt.Sprintf("workflow %s already %s", id, wf.Status), nil)
	}
	now := time.Now().UTC()
	wf.Status = StatusError
	wf.Error = message
	wf.ErrorCategory = category
	wf.ErrorSeverity = severity
	wf.CompletedAt = &now
	snapshot := wf.Clone()
	m.mu.Unlock()

	logger := logging.WithContext(services.WithWorkflowID(ctx, id), m.logger)
	logging.WarnWithContext(logger, "workflow failed", "workflow_failed",
		logging.String(logging.FieldErrorHint, "inspect `assessflow errors list` and resume once fixed"),
		logging.String(logging.FieldImpact, "assessment paused until resumed"),
		logging.String("category", category.String()),
		logging.String("severity", severity.String()),
		logging.String("error_message", message),
	)
	m.emit(events.WorkflowFailed, id, "", map[string]any{
		"error":    message,
		"category": category.String(),
		"severity": severity.String(),
	})
	if err := m.persist(ctx, snapshot); err != nil {
		logging.ErrorWithContext(logger, "persist failed workflow", "workflow_persist_failed",
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.Error(err),
		)
		return err
	}
	return nil
}

// ResetStage returns the current stage to Pending so the loop retries it.
// Only a failed or pending current stage can be reset; completed, skipped and
// running stages are left alone. Defaults are merged into the workflow
// metadata first.
func (m *Manager) ResetStage(ctx context.Context, id string, reset recovery.StageReset) error {
	m.mu.Lock()
	wf, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "workflow", "reset stage", id, nil)
	}
	if wf.Status.Terminal() {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "reset stage",
			fmt.Sprintf("workflow %s already %s", id, wf.Status), nil)
	}
	idx := wf.CurrentStageIndex
	if reset.StageID != "" {
		idx = wf.stageIndex(reset.StageID)
	}
	if idx < 0 || idx >= len(wf.Stages) || idx != wf.CurrentStageIndex {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "reset stage",
			fmt.Sprintf("stage %q is not the current stage", reset.StageID), nil)
	}
	stage := &wf.Stages[idx]
	if stage.Status.Done() || stage.Status == StageInProgress {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "reset stage",
			fmt.Sprintf("stage %s is %s", stage.ID, stage.Status), nil)
	}
	stage.reset()
	if len(reset.Defaults) > 0 || reset.ManualReview {
		if wf.Metadata == nil {
			wf.Metadata = make(map[string]any)
		}
		maps.Copy(wf.Metadata, cloneMap(reset.Defaults))
		if reset.ManualReview {
			wf.Metadata[MetaManualReview] = true
		}
	}
	stageID := stage.ID
	snapshot := wf.Clone()
	m.mu.Unlock()

	if err := m.persist(ctx, snapshot); err != nil {
		return err
	}
	logging.WithContext(services.WithStage(services.WithWorkflowID(ctx, id), stageID), m.logger).Info("stage reset",
		logging.String(logging.FieldEventType, "stage_reset"),
		logging.String("reason", reset.Reason),
		logging.Bool("manual_review", reset.ManualReview),
	)
	m.emit(events.StageReset, id, stageID, map[string]any{
		"reason":        reset.Reason,
		"manual_review": reset.ManualReview,
	})
	return nil
}

// CancelWorkflow marks the workflow Cancelled and cancels its stage loop.
// The in-flight stage keeps its status; the call does not wait on the agent.
func (m *Manager) CancelWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	wf, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "workflow", "cancel", id, nil)
	}
	if wf.Status.Terminal() {
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "cancel",
			fmt.Sprintf("workflow %s already %s", id, wf.Status), nil)
	}
	now := time.Now().UTC()
	wf.Status = StatusCancelled
	wf.CompletedAt = &now
	cancel := m.runs[id]
	snapshot := wf.Clone()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logging.WithContext(services.WithWorkflowID(ctx, id), m.logger).Info("workflow cancelled",
		logging.String(logging.FieldEventType, "workflow_cancelled"),
	)
	m.emit(events.WorkflowCancelled, id, "", nil)
	return m.persist(ctx, snapshot)
}

// ResumeWorkflow re-drives an Error workflow (or starts a Pending one).
// Failed stages go back to Pending; completed output is kept.
func (m *Manager) ResumeWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	wf, ok := m.workflows[id]
	if !ok {
		m.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "workflow", "resume", id, nil)
	}
	var snapshot *Workflow
	switch wf.Status {
	case StatusPending:
	case StatusError:
		wf.Status = StatusPending
		wf.Error = ""
		wf.ErrorCategory = 0
		wf.ErrorSeverity = 0
		wf.StartedAt = nil
		wf.CompletedAt = nil
		wf.CurrentStageIndex = len(wf.Stages)
		for i := range wf.Stages {
			if wf.Stages[i].Status.Done() {
				continue
			}
			wf.Stages[i].reset()
			if i < wf.CurrentStageIndex {
				wf.CurrentStageIndex = i
			}
		}
		snapshot = wf.Clone()
	default:
		m.mu.Unlock()
		return services.Wrap(services.ErrInvalidState, "workflow", "resume",
			fmt.Sprintf("workflow %s is %s", id, wf.Status), nil)
	}
	m.mu.Unlock()

	if snapshot != nil {
		if err := m.persist(ctx, snapshot); err != nil {
			return err
		}
	}
	logging.WithContext(services.WithWorkflowID(ctx, id), m.logger).Info("workflow resumed",
		logging.String(logging.FieldEventType, "workflow_resumed"),
	)
	m.emit(events.WorkflowResumed, id, "", nil)
	return m.StartWorkflow(ctx, id)
}

// Restore loads persisted workflows. Workflows left InProgress by a previous
// process are reclaimed to Pending. It returns the ids of every Pending
// workflow so the caller can re-enqueue them.
func (m *Manager) Restore(ctx context.Context) ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	loaded, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrDatabase, "workflow", "restore", "list workflows", err)
	}
	if err := m.handler.Restore(ctx); err != nil {
		return nil, err
	}

	var reclaimed []*Workflow
	var pending []string
	m.mu.Lock()
	for _, wf := range loaded {
		if _, exists := m.workflows[wf.ID]; exists {
			continue
		}
		if wf.Status == StatusInProgress {
			if st, ok := wf.CurrentStage(); ok && st.Status == StageInProgress {
				st.reset()
			}
			wf.Status = StatusPending
			wf.StartedAt = nil
			reclaimed = append(reclaimed, wf.Clone())
		}
		if wf.Status == StatusPending {
			pending = append(pending, wf.ID)
		}
		m.workflows[wf.ID] = wf
	}
	m.mu.Unlock()

	for _, wf := range reclaimed {
		if err := m.persist(ctx, wf); err != nil {
			return pending, err
		}
		m.emit(events.WorkflowReclaimed, wf.ID, "", nil)
	}
	if len(reclaimed) > 0 {
		m.logger.Info("reclaimed interrupted workflows",
			logging.String(logging.FieldEventType, "workflow_reclaimed"),
			logging.Int("count", len(reclaimed)),
		)
	}
	m.logger.Debug("workflows restored", logging.Int("count", len(loaded)), logging.Int("pending", len(pending)))
	return pending, nil
}
