package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessflow/internal/events"
	"assessflow/internal/services"
)

type fakeController struct {
	mu       sync.Mutex
	failed   map[string]string
	resets   []StageReset
	panicOn  bool
	resetErr error
}

func newFakeController() *fakeController {
	return &fakeController{failed: make(map[string]string)}
}

func (f *fakeController) FailWorkflow(_ context.Context, id string, _ Category, _ Severity, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.failed[id]; ok {
		return services.ErrInvalidState
	}
	f.failed[id] = message
	return nil
}

func (f *fakeController) ResetStage(_ context.Context, id string, reset StageReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn {
		panic("controller exploded")
	}
	if _, ok := f.failed[id]; ok {
		return services.Wrap(services.ErrInvalidState, "test", "reset", "workflow is terminal", nil)
	}
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, reset)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	records  []ErrorRecord
	attempts []RecoveryAttempt
}

func (s *fakeStore) AppendError(_ context.Context, r ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *fakeStore) AppendRecoveryAttempt(_ context.Context, a RecoveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *fakeStore) ResolveError(_ context.Context, id string, at time.Time, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].ResolvedAt = &at
			s.records[i].ResolutionNotes = notes
			return nil
		}
	}
	return services.ErrNotFound
}

func (s *fakeStore) ListErrors(_ context.Context, workflowID string) ([]ErrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ErrorRecord
	for _, r := range s.records {
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		rec := r.Clone()
		rec.Attempts = nil
		for _, a := range s.attempts {
			if a.ErrorID == r.ID {
				rec.Attempts = append(rec.Attempts, a)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func timeoutErr() error {
	return services.Wrap(services.ErrTimeout, "workflow", "dispatch", "stage timed out", context.DeadlineExceeded)
}

func TestBudgetIsSharedAndCapped(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil)
	ctx := context.Background()

	out := h.HandleError(ctx, "wf_1", "assessment", timeoutErr(), CategoryProcessing, SeverityMedium, nil)
	assert.True(t, out.Recovered)
	out = h.HandleError(ctx, "wf_1", "assessment", errors.New("schema drift"), CategoryDataValidation, SeverityMedium, nil)
	assert.False(t, out.Recovered, "nothing to fill still spends budget")
	out = h.HandleError(ctx, "wf_1", "analysis", services.ErrAgentCrashed, CategoryAgentFailure, SeverityMedium, nil)
	assert.True(t, out.Recovered)
	assert.Equal(t, 3, h.AttemptsUsed("wf_1"))

	out = h.HandleError(ctx, "wf_1", "analysis", timeoutErr(), CategoryProcessing, SeverityMedium, nil)
	assert.False(t, out.Recovered)
	require.Len(t, out.Record.Attempts, 1)
	assert.Equal(t, StrategyBudgetExhausted, out.Record.Attempts[0].Strategy)
	assert.False(t, out.Record.Attempts[0].Success)

	assert.Len(t, ctrl.resets, 2, "exhausted call must not invoke a strategy")
	assert.Equal(t, 3, h.AttemptsUsed("wf_1"))
	assert.Equal(t, 4, h.GetErrorSummary().RecoveryAttempts)
}

func TestDirectAttemptRecoveryRespectsBudget(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil, WithMaxAttempts(3))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, h.AttemptRecovery(ctx, "wf_2", timeoutErr(), CategoryProcessing))
	}
	assert.False(t, h.AttemptRecovery(ctx, "wf_2", timeoutErr(), CategoryProcessing))
	assert.Len(t, ctrl.resets, 3)
	assert.Equal(t, 4, h.GetErrorSummary().RecoveryAttempts)
}

func TestHighSeverityFailsWorkflowAtRecordTime(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil)
	out := h.HandleError(context.Background(), "wf_3", "assessment",
		services.Wrap(services.ErrAgentResponse, "agent", "execute", "empty", nil), CategoryAgentFailure, SeverityHigh, nil)

	assert.Contains(t, ctrl.failed, "wf_3")
	assert.False(t, out.Recovered)
	require.Len(t, out.Record.Attempts, 1)
	assert.Equal(t, StrategyResetStageAgent, out.Record.Attempts[0].Strategy)
	assert.False(t, out.Record.Attempts[0].Success)
}

func TestCriticalSkipsRecovery(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil)
	out := h.HandleError(context.Background(), "wf_4", "", errors.New("disk gone"), CategorySystem, SeverityCritical, nil)
	assert.Contains(t, ctrl.failed, "wf_4")
	assert.Empty(t, out.Record.Attempts)
	assert.Zero(t, h.AttemptsUsed("wf_4"))
}

func TestFillDefaultsAppliesPlaceholder(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil)
	err := services.Wrap(services.ErrValidation, "assessment", "validate", "required field 'mobility_score' is missing", nil)
	out := h.HandleError(context.Background(), "wf_5", "assessment", err, CategoryDataValidation, SeverityMedium, nil)

	require.True(t, out.Recovered)
	require.Len(t, ctrl.resets, 1)
	reset := ctrl.resets[0]
	assert.Equal(t, "assessment", reset.StageID)
	assert.Equal(t, map[string]any{"mobility_score": 0}, reset.Defaults)
	assert.True(t, reset.ManualReview)
	assert.Equal(t, "validation", out.Record.Kind)
}

func TestFillDefaultsUnknownField(t *testing.T) {
	ctrl := newFakeController()
	h := NewHandler(ctrl, nil)
	err := errors.New("required field 'client_signature' is missing")
	assert.False(t, h.AttemptRecovery(context.Background(), "wf_6", err, CategoryDataValidation))
	assert.Empty(t, ctrl.resets)
}

func TestStrategyPanicCountsAsFailedAttempt(t *testing.T) {
	ctrl := newFakeController()
	ctrl.panicOn = true
	h := NewHandler(ctrl, nil)
	out := h.HandleError(context.Background(), "wf_7", "analysis", timeoutErr(), CategoryProcessing, SeverityMedium, nil)
	assert.False(t, out.Recovered)
	require.Len(t, out.Record.Attempts, 1)
	assert.Equal(t, StrategyResetStage, out.Record.Attempts[0].Strategy)
	assert.Contains(t, out.Record.Attempts[0].Notes, "panicked")
}

func TestNoStrategyCategoriesReturnFalse(t *testing.T) {
	h := NewHandler(newFakeController(), nil)
	for _, c := range []Category{CategoryDatabase, CategorySystem, CategoryNetwork, Category(99)} {
		assert.False(t, h.AttemptRecovery(context.Background(), "wf_8", errors.New("x"), c))
	}
	assert.Equal(t, 3, h.AttemptsUsed("wf_8"))
}

func TestSummaryResolveAndClear(t *testing.T) {
	store := &fakeStore{}
	router := events.NewRouter(64, nil)
	h := NewHandler(newFakeController(), nil, WithStore(store), WithEmitter(router))
	ctx := context.Background()

	first := h.HandleError(ctx, "wf_9", "assessment", timeoutErr(), CategoryProcessing, SeverityMedium, map[string]string{"attempt": "1"})
	h.HandleError(ctx, "wf_10", "analysis", timeoutErr(), CategoryProcessing, SeverityMedium, nil)

	summary := h.GetErrorSummary()
	assert.Equal(t, 2, summary.Counts["processing:timeout"])
	assert.Equal(t, 2, summary.ActiveIssues)
	assert.Equal(t, 2, summary.RecoveryAttempts)

	require.NoError(t, h.ResolveError(ctx, first.Record.ID, "re-ran manually"))
	assert.ErrorIs(t, h.ResolveError(ctx, first.Record.ID, "again"), services.ErrInvalidState)
	assert.ErrorIs(t, h.ResolveError(ctx, "err_missing", ""), services.ErrNotFound)
	assert.Equal(t, 1, h.GetErrorSummary().ActiveIssues)

	assert.Equal(t, 1, h.ClearResolved())
	assert.Zero(t, h.AttemptsUsed("wf_9"))
	summary = h.GetErrorSummary()
	assert.Equal(t, 1, summary.Counts["processing:timeout"])
	assert.Equal(t, 1, summary.RecoveryAttempts)

	records, err := h.WorkflowErrors(ctx, "wf_9")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Resolved())
	assert.Equal(t, "1", records[0].Context["attempt"])
	require.Len(t, records[0].Attempts, 1)

	tail, _ := router.Tail(0)
	var types []events.Type
	for _, evt := range tail {
		types = append(types, evt.Type)
	}
	assert.Contains(t, types, events.ErrorRecorded)
	assert.Contains(t, types, events.RecoveryAttempted)
	assert.Contains(t, types, events.ErrorResolved)
}

func TestRestoreRebuildsBudget(t *testing.T) {
	store := &fakeStore{}
	ctrl := newFakeController()
	ctx := context.Background()
	h := NewHandler(ctrl, nil, WithStore(store))
	h.HandleError(ctx, "wf_11", "assessment", timeoutErr(), CategoryProcessing, SeverityMedium, nil)
	h.HandleError(ctx, "wf_11", "assessment", timeoutErr(), CategoryProcessing, SeverityMedium, nil)

	restored := NewHandler(ctrl, nil, WithStore(store))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 2, restored.AttemptsUsed("wf_11"))
	assert.Equal(t, 2, restored.GetErrorSummary().Counts["processing:timeout"])
	assert.True(t, restored.AttemptRecovery(ctx, "wf_11", timeoutErr(), CategoryProcessing))
	assert.False(t, restored.AttemptRecovery(ctx, "wf_11", timeoutErr(), CategoryProcessing))
}

func TestParseTaxonomy(t *testing.T) {
	c, err := ParseCategory("Agent_Failure")
	require.NoError(t, err)
	assert.Equal(t, CategoryAgentFailure, c)
	_, err = ParseCategory("cosmic_rays")
	assert.Error(t, err)

	s, err := ParseSeverity("critical")
	require.NoError(t, err)
	assert.True(t, s.Terminal())
	assert.False(t, SeverityMedium.Terminal())
	assert.Len(t, Categories(), 6)
}
