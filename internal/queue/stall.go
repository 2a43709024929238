package queue

import (
	"fmt"
	"math"
	"time"

	"assessflow/internal/events"
	"assessflow/internal/logging"
	"assessflow/internal/workflow"
)

// Stall describes a stage that has run past its threshold.
type Stall struct {
	WorkflowID string        `json:"workflow_id"`
	StageID    string        `json:"stage_id"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Threshold  time.Duration `json:"threshold"`
}

// detectStalls reports each stalled stage run once. Stalled workflows keep
// running.
func (m *Manager) detectStalls(now time.Time) []Stall {
	var found []Stall
	current := make(map[string]struct{})
	for _, wf := range m.workflows.ListWorkflows(workflow.Filter{Status: workflow.StatusInProgress}) {
		stage, ok := wf.CurrentStage()
		if !ok || stage.Status != workflow.StageInProgress || stage.StartedAt == nil {
			continue
		}
		threshold := m.opts.StallThresholds[stage.ID]
		if threshold <= 0 {
			continue
		}
		elapsed := now.Sub(*stage.StartedAt)
		if elapsed < threshold {
			continue
		}
		key := fmt.Sprintf("%s|%s|%d", wf.ID, stage.ID, stage.StartedAt.UnixNano())
		current[key] = struct{}{}
		m.mu.Lock()
		_, seen := m.stalled[key]
		m.mu.Unlock()
		if seen {
			continue
		}
		stall := Stall{
			WorkflowID: wf.ID,
			StageID:    stage.ID,
			StartedAt:  *stage.StartedAt,
			Elapsed:    elapsed,
			Threshold:  threshold,
		}
		found = append(found, stall)
		m.report(stall)
	}
	m.mu.Lock()
	m.stalled = current
	m.mu.Unlock()
	return found
}

func (m *Manager) report(stall Stall) {
	logging.WarnWithContext(m.logger, "workflow stage stalled", "workflow_stalled",
		logging.String("workflow_id", stall.WorkflowID),
		logging.String(logging.FieldStage, stall.StageID),
		logging.Duration("elapsed", stall.Elapsed),
		logging.Duration("threshold", stall.Threshold),
		logging.String(logging.FieldImpact, "assessment is delayed"),
		logging.String(logging.FieldErrorHint, "check the agent for this stage or cancel the workflow"),
	)
	m.emitter.Publish(events.Event{
		Type:       events.WorkflowStalled,
		WorkflowID: stall.WorkflowID,
		StageID:    stall.StageID,
		Payload: map[string]any{
			"elapsed_hours":   hours(stall.Elapsed),
			"threshold_hours": hours(stall.Threshold),
		},
	})
}

func hours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
