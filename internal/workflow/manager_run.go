package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"assessflow/internal/agent"
	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

type stepKind int

const (
	stepStop stepKind = iota
	stepDispatch
	stepSkipped
	stepAdvance
	stepComplete
)

type step struct {
	kind     stepKind
	index    int
	stageID  string
	input    agent.StageInput
	snapshot *Workflow
}

func (m *Manager) run(ctx context.Context, id string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.runs[id]; ok {
			cancel()
			delete(m.runs, id)
		}
		m.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		next := m.nextStep(id)
		switch next.kind {
		case stepStop:
			return
		case stepComplete:
			m.complete(ctx, next.snapshot)
			return
		case stepSkipped:
			if !m.persistInLoop(ctx, id, next.stageID, next.snapshot) {
				return
			}
			m.emit(events.StageSkipped, id, next.stageID, nil)
			continue
		case stepAdvance:
			if !m.persistInLoop(ctx, id, next.stageID, next.snapshot) {
				return
			}
			continue
		}

		if !m.persistInLoop(ctx, id, next.stageID, next.snapshot) {
			return
		}
		if !m.executeStage(ctx, id, next) {
			return
		}
	}
}

// nextStep advances past skipped stages and marks the next stage InProgress.
func (m *Manager) nextStep(id string) step {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok || wf.Status != StatusInProgress {
		return step{kind: stepStop}
	}
	if wf.CurrentStageIndex >= len(wf.Stages) {
		now := time.Now().UTC()
		wf.Status = StatusCompleted
		wf.CompletedAt = &now
		return step{kind: stepComplete, snapshot: wf.Clone()}
	}

	idx := wf.CurrentStageIndex
	st := &wf.Stages[idx]
	now := time.Now().UTC()
	if st.Status.Done() {
		wf.CurrentStageIndex++
		return step{kind: stepAdvance, index: idx, stageID: st.ID, snapshot: wf.Clone()}
	}
	if wf.skipped(st.ID) {
		st.Status = StageSkipped
		st.CompletedAt = &now
		wf.CurrentStageIndex++
		return step{kind: stepSkipped, index: idx, stageID: st.ID, snapshot: wf.Clone()}
	}

	st.Status = StageInProgress
	st.StartedAt = &now
	st.CompletedAt = nil
	st.Error = ""

	prior := make(map[string]map[string]any)
	for i := 0; i < idx; i++ {
		if wf.Stages[i].Status == StageCompleted {
			prior[wf.Stages[i].ID] = cloneMap(wf.Stages[i].Output)
		}
	}
	input := agent.StageInput{
		WorkflowID:     wf.ID,
		StageID:        st.ID,
		AgentType:      st.AgentType,
		ClientID:       wf.ClientID,
		TherapistID:    wf.TherapistID,
		AssessmentType: wf.AssessmentType,
		CorrelationID:  uuid.NewString(),
		Metadata:       cloneMap(wf.Metadata),
		PriorOutputs:   prior,
	}
	return step{kind: stepDispatch, index: idx, stageID: st.ID, input: input, snapshot: wf.Clone()}
}

// executeStage dispatches one stage and applies the result. It returns false
// when the loop should exit.
func (m *Manager) executeStage(ctx context.Context, id string, next step) bool {
	stageCtx := services.WithStage(ctx, next.stageID)
	stageCtx = services.WithAgentType(stageCtx, next.input.AgentType)
	stageCtx = services.WithRequestID(stageCtx, next.input.CorrelationID)
	logger := logging.WithContext(stageCtx, m.logger)

	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	m.emit(events.StageStarted, id, next.stageID, map[string]any{
		"agent_type":     next.input.AgentType,
		"correlation_id": next.input.CorrelationID,
	})

	out, err := m.dispatcher.Dispatch(stageCtx, next.input)
	if ctx.Err() != nil {
		logger.Debug("stage interrupted", logging.Error(ctx.Err()))
		return false
	}
	if err == nil {
		err = m.validator.Validate(next.input, out)
	}
	if err != nil {
		return m.handleStageFailure(stageCtx, id, next, err)
	}

	snapshot, ok := m.markStage(id, next.index, func(st *Stage, wf *Workflow, now time.Time) {
		st.Status = StageCompleted
		st.CompletedAt = &now
		st.Output = cloneMap(out)
		wf.CurrentStageIndex = next.index + 1
	})
	if !ok {
		return m.resync(stageCtx, id, next)
	}
	if !m.persistInLoop(stageCtx, id, next.stageID, snapshot) {
		return false
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(started)),
	)
	m.emit(events.StageCompleted, id, next.stageID, map[string]any{"progress": snapshot.Progress()})
	return true
}

func (m *Manager) handleStageFailure(ctx context.Context, id string, next step, stageErr error) bool {
	category, severity := Classify(stageErr)
	snapshot, ok := m.markStage(id, next.index, func(st *Stage, _ *Workflow, now time.Time) {
		st.Status = StageError
		st.CompletedAt = &now
		st.Error = stageErr.Error()
	})
	if !ok {
		return m.resync(ctx, id, next)
	}
	if !m.persistInLoop(ctx, id, next.stageID, snapshot) {
		return false
	}
	m.emit(events.StageFailed, id, next.stageID, map[string]any{
		"error":    stageErr.Error(),
		"category": category.String(),
		"severity": severity.String(),
	})

	outcome := m.handler.HandleError(ctx, id, next.stageID, stageErr, category, severity, map[string]string{
		"agent_type":     next.input.AgentType,
		"correlation_id": next.input.CorrelationID,
	})
	if m.terminal(id) {
		return false
	}
	if outcome.Recovered {
		return true
	}
	if err := m.FailWorkflow(ctx, id, category, severity, stageErr.Error()); err != nil && !errors.Is(err, services.ErrInvalidState) {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "fail workflow after exhausted recovery failed", "workflow_fail_failed",
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "workflow may be restored as pending after restart"),
			logging.Error(err),
		)
	}
	return false
}

// markStage applies mutate while the workflow is still InProgress and the
// stage is the one the loop is working on.
func (m *Manager) markStage(id string, index int, mutate func(*Stage, *Workflow, time.Time)) (*Workflow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok || wf.Status != StatusInProgress || index >= len(wf.Stages) || wf.CurrentStageIndex != index {
		return nil, false
	}
	mutate(&wf.Stages[index], wf, time.Now().UTC())
	return wf.Clone(), true
}

// resync is called when a stage result no longer matches the workflow. The
// loop keeps going from the recorded position while the workflow is still
// InProgress; otherwise it exits.
func (m *Manager) resync(ctx context.Context, id string, next step) bool {
	m.mu.RLock()
	wf, ok := m.workflows[id]
	running := ok && wf.Status == StatusInProgress
	current := -1
	if ok {
		current = wf.CurrentStageIndex
	}
	m.mu.RUnlock()
	if !running {
		return false
	}
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "stage result discarded", "stage_result_discarded",
		logging.String(logging.FieldErrorHint, "workflow position changed while the stage was running"),
		logging.String(logging.FieldImpact, "stage runs again from the recorded position"),
		logging.Int("stage_index", next.index),
		logging.Int("current_stage_index", current),
	)
	return true
}

func (m *Manager) complete(ctx context.Context, snapshot *Workflow) {
	if !m.persistInLoop(ctx, snapshot.ID, "", snapshot) {
		return
	}
	var elapsed time.Duration
	if snapshot.StartedAt != nil && snapshot.CompletedAt != nil {
		elapsed = snapshot.CompletedAt.Sub(*snapshot.StartedAt)
	}
	logging.WithContext(ctx, m.logger).Info("workflow completed",
		logging.String(logging.FieldEventType, "workflow_completed"),
		logging.Duration("workflow_duration", elapsed),
		logging.Bool("manual_review", snapshot.ManualReview()),
	)
	m.emit(events.WorkflowCompleted, snapshot.ID, "", map[string]any{"manual_review": snapshot.ManualReview()})
}

// persistInLoop writes snapshot; a failure is reported as a Database/High
// error, which fails the workflow. Returns false when the loop should exit.
func (m *Manager) persistInLoop(ctx context.Context, id, stageID string, snapshot *Workflow) bool {
	err := m.persist(ctx, snapshot)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	m.handler.HandleError(ctx, id, stageID, err, recovery.CategoryDatabase, recovery.SeverityHigh, nil)
	return false
}

func (m *Manager) terminal(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	return !ok || wf.Status.Terminal()
}
