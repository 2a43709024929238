package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessflow/internal/agent"
	"assessflow/internal/agent/builtin"
	"assessflow/internal/events"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

func TestWorkflowRunsAllStages(t *testing.T) {
	h := newHarness(t, nil, defaultAgents()...)
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "client-1", "therapist-1", "Initial", map[string]any{"source": "intake"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, wf.Status)
	assert.Len(t, wf.Stages, 3)
	assert.Equal(t, "initial", wf.AssessmentType)

	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.Equal(t, 100.0, done.Progress())
	assert.Equal(t, 3, done.CurrentStageIndex)
	_, ok := done.CurrentStage()
	assert.False(t, ok)
	for _, st := range done.Stages {
		assert.Equal(t, StageCompleted, st.Status)
		assert.Equal(t, st.ID, st.Output["stage"])
		require.NotNil(t, st.StartedAt)
		require.NotNil(t, st.CompletedAt)
	}
	require.NotNil(t, done.CompletedAt)

	require.Eventually(t, func() bool {
		types := eventTypes(h.router, wf.ID)
		return len(types) > 0 && types[len(types)-1] == events.WorkflowCompleted
	}, 3*time.Second, 5*time.Millisecond)
	types := eventTypes(h.router, wf.ID)
	assert.Equal(t, events.WorkflowCreated, types[0])
	assert.Contains(t, types, events.WorkflowStarted)
	assert.Contains(t, types, events.StageCompleted)
}

func TestStartRejectsNonPendingAndMissing(t *testing.T) {
	h := newHarness(t, nil, defaultAgents()...)
	ctx := context.Background()

	assert.ErrorIs(t, h.manager.StartWorkflow(ctx, "wf_missing"), services.ErrNotFound)

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "followup", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.ErrorIs(t, h.manager.StartWorkflow(ctx, wf.ID), services.ErrInvalidState)
	assert.ErrorIs(t, h.manager.CancelWorkflow(ctx, wf.ID), services.ErrInvalidState)
	after, _ := h.manager.GetWorkflow(wf.ID)
	assert.Equal(t, StatusCompleted, after.Status, "terminal state is idempotent")
}

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t, nil, defaultAgents()...)
	_, err := h.manager.CreateWorkflow(context.Background(), "", "t", "initial", nil)
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestConcurrencyCeiling(t *testing.T) {
	started := make(chan string, 32)
	h := newHarness(t, nil,
		blockingAgent(agent.TypeAssessment, started),
		okAgent(agent.TypeAnalysis),
		okAgent(agent.TypeDocumentation),
	)
	ctx := context.Background()

	ids := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		wf, err := h.manager.CreateWorkflow(ctx, fmt.Sprintf("client-%d", i), "therapist-1", "initial", nil)
		require.NoError(t, err)
		ids = append(ids, wf.ID)
	}
	for _, id := range ids[:10] {
		require.NoError(t, h.manager.StartWorkflow(ctx, id))
	}
	assert.Equal(t, 10, h.manager.ActiveCount())

	err := h.manager.StartWorkflow(ctx, ids[10])
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCapacityExceeded)

	_, err = h.manager.CreateWorkflow(ctx, "client-x", "therapist-1", "initial", nil)
	assert.ErrorIs(t, err, services.ErrCapacityExceeded)

	eleventh, _ := h.manager.GetWorkflow(ids[10])
	assert.Equal(t, StatusPending, eleventh.Status)
	assert.Equal(t, 10, h.manager.StatusCounts()[StatusInProgress])
	assert.Equal(t, 1, h.manager.StatusCounts()[StatusPending])
	assert.Zero(t, h.manager.StatusCounts()[StatusCancelled])
}

func TestTimeoutIsRecoveredAndRetried(t *testing.T) {
	var calls atomic.Int32
	flaky := agent.Func(agent.TypeAssessment, func(_ context.Context, in agent.StageInput) (agent.Output, error) {
		if calls.Add(1) == 1 {
			return nil, services.Wrap(services.ErrTimeout, "assessment", "execute", "agent timed out", context.DeadlineExceeded)
		}
		return agent.Output{"stage": in.StageID}, nil
	})
	h := newHarness(t, nil, flaky, okAgent(agent.TypeAnalysis), okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "urgent", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, StageCompleted, done.Stages[0].Status)
	assert.Empty(t, done.Stages[0].Error)
	assert.Equal(t, 1, h.manager.Handler().AttemptsUsed(wf.ID))

	records, err := h.manager.Handler().WorkflowErrors(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, recovery.CategoryProcessing, records[0].Category)
	assert.Equal(t, recovery.SeverityMedium, records[0].Severity)
	require.Len(t, records[0].Attempts, 1)
	assert.True(t, records[0].Attempts[0].Success)
	assert.Contains(t, eventTypes(h.router, wf.ID), events.StageReset)
}

func TestOutOfBandRecoveryCannotRewindRunningWorkflow(t *testing.T) {
	var assessmentCalls atomic.Int32
	flaky := agent.Func(agent.TypeAssessment, func(_ context.Context, in agent.StageInput) (agent.Output, error) {
		if assessmentCalls.Add(1) == 1 {
			return nil, services.Wrap(services.ErrTimeout, "assessment", "execute", "agent timed out", nil)
		}
		return agent.Output{"stage": in.StageID}, nil
	})
	started := make(chan string, 1)
	release := make(chan struct{})
	gated := agent.Func(agent.TypeAnalysis, func(ctx context.Context, in agent.StageInput) (agent.Output, error) {
		started <- in.WorkflowID
		select {
		case <-release:
			return agent.Output{"stage": in.StageID}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	h := newHarness(t, nil, flaky, gated, okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		close(release)
		t.Fatal("analysis never started")
	}

	timeout := errors.New("request timeout")
	recovered := h.manager.Handler().AttemptRecovery(ctx, wf.ID, timeout, recovery.CategoryProcessing)
	assert.False(t, recovered)
	err = h.manager.ResetStage(ctx, wf.ID, recovery.StageReset{StageID: agent.TypeAssessment})
	assert.ErrorIs(t, err, services.ErrInvalidState)
	err = h.manager.ResetStage(ctx, wf.ID, recovery.StageReset{StageID: agent.TypeAnalysis})
	assert.ErrorIs(t, err, services.ErrInvalidState, "running stage")

	mid, err := h.manager.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mid.CurrentStageIndex)
	assert.Equal(t, StageCompleted, mid.Stages[0].Status)
	assert.Equal(t, "assessment", mid.Stages[0].Output["stage"])
	assert.Equal(t, StageInProgress, mid.Stages[1].Status)

	close(release)
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)
	assert.Equal(t, 3, done.CurrentStageIndex)
	assert.Equal(t, int32(2), assessmentCalls.Load())
	assert.Zero(t, h.manager.ActiveCount())
}

func TestHighSeverityMovesToErrorWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	bad := agent.Func(agent.TypeAnalysis, func(context.Context, agent.StageInput) (agent.Output, error) {
		calls.Add(1)
		return nil, services.Wrap(services.ErrAgentResponse, "analysis", "execute", "malformed response", nil)
	})
	h := newHarness(t, nil, okAgent(agent.TypeAssessment), bad, okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	failed := waitForStatus(t, h.manager, wf.ID, StatusError)

	h.manager.Stop()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, recovery.CategoryAgentFailure, failed.ErrorCategory)
	assert.Equal(t, recovery.SeverityHigh, failed.ErrorSeverity)
	assert.Contains(t, failed.Error, "malformed response")
	assert.Equal(t, StageCompleted, failed.Stages[0].Status, "completed output survives later failure")
	assert.Equal(t, "assessment", failed.Stages[0].Output["stage"])
	assert.Equal(t, StageError, failed.Stages[1].Status)
	assert.Equal(t, 1, failed.CurrentStageIndex)
}

func TestRecoveryBudgetExhaustionFailsWorkflow(t *testing.T) {
	var calls atomic.Int32
	slow := agent.Func(agent.TypeAssessment, func(context.Context, agent.StageInput) (agent.Output, error) {
		calls.Add(1)
		return nil, services.Wrap(services.ErrTimeout, "assessment", "execute", "timed out", nil)
	})
	h := newHarness(t, nil, slow, okAgent(agent.TypeAnalysis), okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	failed := waitForStatus(t, h.manager, wf.ID, StatusError)
	h.manager.Stop()

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 3, h.manager.Handler().AttemptsUsed(wf.ID))
	assert.Equal(t, recovery.CategoryProcessing, failed.ErrorCategory)
	summary := h.manager.Handler().GetErrorSummary()
	assert.Equal(t, 4, summary.RecoveryAttempts)
	assert.Equal(t, 4, summary.Counts["processing:timeout"])
}

func TestCancelWhileAwaitingAgent(t *testing.T) {
	started := make(chan string, 1)
	h := newHarness(t, nil, blockingAgent(agent.TypeAssessment, started), okAgent(agent.TypeAnalysis), okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("agent never started")
	}

	require.NoError(t, h.manager.CancelWorkflow(ctx, wf.ID))
	h.manager.Stop()

	got, err := h.manager.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, StageInProgress, got.Stages[0].Status)
	assert.Equal(t, 0, got.CurrentStageIndex)
	assert.NotNil(t, got.CompletedAt)
	assert.ErrorIs(t, h.manager.CancelWorkflow(ctx, wf.ID), services.ErrInvalidState)
}

func TestSkipStagesFromMetadata(t *testing.T) {
	var analysisCalls atomic.Int32
	analysis := agent.Func(agent.TypeAnalysis, func(context.Context, agent.StageInput) (agent.Output, error) {
		analysisCalls.Add(1)
		return agent.Output{"x": 1}, nil
	})
	h := newHarness(t, nil, okAgent(agent.TypeAssessment), analysis, okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "followup", map[string]any{MetaSkipStages: []any{"analysis"}})
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.Zero(t, analysisCalls.Load())
	assert.Equal(t, StageSkipped, done.Stages[1].Status)
	assert.InDelta(t, 200.0/3, done.Progress(), 1e-9)
	assert.Contains(t, eventTypes(h.router, wf.ID), events.StageSkipped)
}

func TestResumeFromErrorKeepsCompletedStages(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var assessmentCalls atomic.Int32
	assessment := agent.Func(agent.TypeAssessment, func(_ context.Context, in agent.StageInput) (agent.Output, error) {
		assessmentCalls.Add(1)
		return agent.Output{"stage": in.StageID}, nil
	})
	analysis := agent.Func(agent.TypeAnalysis, func(_ context.Context, in agent.StageInput) (agent.Output, error) {
		if fail.Load() {
			return nil, services.Wrap(services.ErrDatabase, "analysis", "execute", "lookup failed", nil)
		}
		if _, ok := in.PriorOutputs[agent.TypeAssessment]; !ok {
			return nil, errors.New("missing prior output")
		}
		return agent.Output{"stage": in.StageID}, nil
	})
	h := newHarness(t, nil, assessment, analysis, okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	failed := waitForStatus(t, h.manager, wf.ID, StatusError)
	assert.Equal(t, recovery.CategoryDatabase, failed.ErrorCategory)

	fail.Store(false)
	require.NoError(t, h.manager.ResumeWorkflow(ctx, wf.ID))
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.Equal(t, int32(1), assessmentCalls.Load(), "completed stage is not re-run")
	assert.Empty(t, done.Error)
	assert.Zero(t, done.ErrorCategory)
	assert.Contains(t, eventTypes(h.router, wf.ID), events.WorkflowResumed)
	assert.ErrorIs(t, h.manager.ResumeWorkflow(ctx, wf.ID), services.ErrInvalidState)
}

func TestFillDefaultsRecoversMissingField(t *testing.T) {
	h := newHarness(t, nil, builtin.Agents()...)
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "client-9", "therapist-2", "initial", map[string]any{
		"daily_activities_score": 4.0,
		"attendant_care_needs": []any{
			map[string]any{"task": "bathing", "minutes_per_week": 120.0, "level": 1.0},
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	done := waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	assert.True(t, done.ManualReview())
	assert.Equal(t, 0, done.Metadata["mobility_score"])
	assert.InDelta(t, 2.0, done.Stages[0].Output["total_hours"], 1e-9)
	summary, _ := done.Stages[2].Output["summary"].(string)
	assert.Contains(t, summary, "Flagged for manual review")

	records, err := h.manager.Handler().WorkflowErrors(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, recovery.CategoryDataValidation, records[0].Category)
	assert.Equal(t, recovery.StrategyFillDefaults, records[0].Attempts[0].Strategy)
}

func TestValidatorRejectsDivergentCareTotals(t *testing.T) {
	lying := agent.Func(agent.TypeAssessment, func(context.Context, agent.StageInput) (agent.Output, error) {
		return agent.Output{"total_hours": 10.0, "monthly_benefit": 1.0}, nil
	})
	h := newHarness(t, []Option{WithRecovery(recovery.WithMaxAttempts(0))}, lying, okAgent(agent.TypeAnalysis), okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", map[string]any{
		"attendant_care_needs": []any{map[string]any{"task": "meals", "minutes_per_week": 60.0, "level": 2.0}},
	})
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	failed := waitForStatus(t, h.manager, wf.ID, StatusError)
	assert.Equal(t, recovery.CategoryDataValidation, failed.ErrorCategory)
	assert.Contains(t, failed.Error, "hours mismatch")
}

func TestWorkflowJSONRoundTrip(t *testing.T) {
	h := newHarness(t, nil, defaultAgents()...)
	ctx := context.Background()
	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", map[string]any{
		"notes":   "client prefers mornings",
		"score":   3.5,
		"tags":    []any{"a", "b"},
		"details": map[string]any{"room": "kitchen"},
	})
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	waitForStatus(t, h.manager, wf.ID, StatusCompleted)

	original, err := h.manager.GetWorkflow(wf.ID)
	require.NoError(t, err)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Workflow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, &decoded)
}

func TestRestoreReclaimsInterruptedWorkflows(t *testing.T) {
	store := newMemStore()
	started := make(chan string, 1)
	h := newHarness(t, []Option{WithStore(store)}, blockingAgent(agent.TypeAssessment, started), okAgent(agent.TypeAnalysis), okAgent(agent.TypeDocumentation))
	ctx := context.Background()

	running, err := h.manager.CreateWorkflow(ctx, "c1", "t", "initial", nil)
	require.NoError(t, err)
	queued, err := h.manager.CreateWorkflow(ctx, "c2", "t", "followup", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, running.ID))
	<-started
	h.manager.Stop()

	restored := NewManager(h.pool, nil, WithStore(store))
	t.Cleanup(restored.Stop)
	pending, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{running.ID, queued.ID}, pending)

	got, err := restored.GetWorkflow(running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, StagePending, got.Stages[0].Status)
	assert.Nil(t, got.Stages[0].StartedAt)
	assert.Nil(t, got.StartedAt)
	assert.Len(t, restored.ListWorkflows(Filter{}), 2)
	assert.Len(t, restored.ListWorkflows(Filter{ClientID: "c2"}), 1)
}

func TestPersistenceFailureFailsWorkflow(t *testing.T) {
	store := newMemStore()
	store.failAfter = 2
	h := newHarness(t, []Option{WithStore(store)}, defaultAgents()...)
	ctx := context.Background()

	wf, err := h.manager.CreateWorkflow(ctx, "c", "t", "initial", nil)
	require.NoError(t, err)
	require.NoError(t, h.manager.StartWorkflow(ctx, wf.ID))
	failed := waitForStatus(t, h.manager, wf.ID, StatusError)
	assert.Equal(t, recovery.CategoryDatabase, failed.ErrorCategory)
	assert.Equal(t, recovery.SeverityHigh, failed.ErrorSeverity)
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o deadline" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

type transientError struct{}

func (transientError) Error() string { return "connection reset" }
func (transientError) Timeout() bool { return false }

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		category recovery.Category
		severity recovery.Severity
	}{
		{context.DeadlineExceeded, recovery.CategoryProcessing, recovery.SeverityMedium},
		{services.ErrBackpressure, recovery.CategoryProcessing, recovery.SeverityMedium},
		{services.Wrap(services.ErrAgentResponse, "a", "b", "c", nil), recovery.CategoryAgentFailure, recovery.SeverityHigh},
		{services.ErrValidation, recovery.CategoryDataValidation, recovery.SeverityMedium},
		{services.ErrNetwork, recovery.CategoryNetwork, recovery.SeverityMedium},
		{services.ErrDatabase, recovery.CategoryDatabase, recovery.SeverityHigh},
		{services.ErrAgentCrashed, recovery.CategoryAgentFailure, recovery.SeverityMedium},
		{errors.New("unexpected"), recovery.CategoryAgentFailure, recovery.SeverityMedium},
		{errors.New("upstream Request TIMEOUT"), recovery.CategoryProcessing, recovery.SeverityMedium},
		{fmt.Errorf("dial scorer: %w", timeoutError{}), recovery.CategoryProcessing, recovery.SeverityMedium},
		{fmt.Errorf("dial scorer: %w", transientError{}), recovery.CategoryAgentFailure, recovery.SeverityMedium},
	}
	for _, tc := range cases {
		c, s := Classify(tc.err)
		assert.Equal(t, tc.category, c, tc.err.Error())
		assert.Equal(t, tc.severity, s, tc.err.Error())
	}
}

func TestWeeklySummary(t *testing.T) {
	wednesday := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), WeekStart(wednesday))
	sunday := time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), WeekStart(sunday))

	h := newHarness(t, nil, defaultAgents()...)
	_, err := h.manager.CreateWorkflow(context.Background(), "c", "t", "initial", nil)
	require.NoError(t, err)
	summary := h.manager.WeeklySummary(time.Now())
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Pending)
}
