package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"assessflow/internal/events"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
	"assessflow/internal/store"
	"assessflow/internal/testsupport"
	"assessflow/internal/workflow"
)

func backends(t *testing.T) map[string]store.Backend {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return map[string]store.Backend{
		"sqlite": testsupport.MustOpenStore(t, cfg),
		"memory": store.NewMemory(),
	}
}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	health, err := st.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.DatabaseExists || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Close()
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	st.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			wf := testsupport.NewWorkflow("wf_1", "therapist-1")
			if err := backend.SaveWorkflow(ctx, wf); err != nil {
				t.Fatalf("SaveWorkflow: %v", err)
			}

			started := time.Now().UTC().Truncate(time.Microsecond)
			finished := started.Add(2 * time.Second)
			wf.Status = workflow.StatusError
			wf.StartedAt = &started
			wf.CurrentStageIndex = 1
			wf.Error = "analysis agent returned nothing"
			wf.ErrorCategory = recovery.CategoryAgentFailure
			wf.ErrorSeverity = recovery.SeverityHigh
			wf.Stages[0].Status = workflow.StageCompleted
			wf.Stages[0].StartedAt = &started
			wf.Stages[0].CompletedAt = &finished
			wf.Stages[0].Output = map[string]any{"total_hours": 12.5}
			wf.Stages[1].Status = workflow.StageError
			wf.Stages[1].Error = "empty output"
			if err := backend.SaveWorkflow(ctx, wf); err != nil {
				t.Fatalf("SaveWorkflow update: %v", err)
			}

			got, err := backend.GetWorkflow(ctx, "wf_1")
			if err != nil {
				t.Fatalf("GetWorkflow: %v", err)
			}
			if got.Status != workflow.StatusError || got.CurrentStageIndex != 1 {
				t.Fatalf("unexpected status/index: %s %d", got.Status, got.CurrentStageIndex)
			}
			if got.ErrorCategory != recovery.CategoryAgentFailure || got.ErrorSeverity != recovery.SeverityHigh {
				t.Fatalf("unexpected classification: %s/%s", got.ErrorCategory, got.ErrorSeverity)
			}
			if got.StartedAt == nil || !got.StartedAt.Equal(started) {
				t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
			}
			if !got.CreatedAt.Equal(wf.CreatedAt) {
				t.Fatalf("created_at = %v, want %v", got.CreatedAt, wf.CreatedAt)
			}
			if len(got.Stages) != 3 {
				t.Fatalf("expected 3 stages, got %d", len(got.Stages))
			}
			if got.Stages[0].Output["total_hours"] != 12.5 {
				t.Fatalf("unexpected stage output: %#v", got.Stages[0].Output)
			}
			if got.Stages[0].CompletedAt == nil || !got.Stages[0].CompletedAt.Equal(finished) {
				t.Fatalf("stage completed_at = %v", got.Stages[0].CompletedAt)
			}
			if got.Stages[1].Error != "empty output" || got.Stages[2].Status != workflow.StagePending {
				t.Fatalf("unexpected stages: %#v", got.Stages)
			}
			if got.Metadata["mobility_score"] != 3.0 {
				t.Fatalf("unexpected metadata: %#v", got.Metadata)
			}

			if _, err := backend.GetWorkflow(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListWorkflowsAndStats(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)
			for i, status := range []workflow.Status{workflow.StatusPending, workflow.StatusInProgress, workflow.StatusPending, workflow.StatusCompleted} {
				wf := testsupport.NewWorkflow(string(rune('a'+i)), "t1")
				wf.Status = status
				wf.CreatedAt = base.Add(time.Duration(i) * time.Second)
				if err := backend.SaveWorkflow(ctx, wf); err != nil {
					t.Fatalf("SaveWorkflow: %v", err)
				}
			}

			pending, err := backend.ListWorkflows(ctx, workflow.StatusPending)
			if err != nil {
				t.Fatalf("ListWorkflows: %v", err)
			}
			if len(pending) != 2 || pending[0].ID != "a" || pending[1].ID != "c" {
				t.Fatalf("unexpected pending list: %v", ids(pending))
			}
			if len(pending[0].Stages) != 3 {
				t.Fatalf("stages not loaded: %#v", pending[0].Stages)
			}

			all, err := backend.ListWorkflows(ctx)
			if err != nil {
				t.Fatalf("ListWorkflows all: %v", err)
			}
			if len(all) != 4 {
				t.Fatalf("expected 4 workflows, got %d", len(all))
			}

			stats, err := backend.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats[workflow.StatusPending] != 2 || stats[workflow.StatusInProgress] != 1 || stats[workflow.StatusCompleted] != 1 {
				t.Fatalf("unexpected stats: %v", stats)
			}
		})
	}
}

func TestErrorRecordsAndAttempts(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)
			first := recovery.ErrorRecord{
				ID:         "err_1",
				WorkflowID: "wf_1",
				StageID:    "assessment",
				Message:    "required field 'mobility_score' is missing",
				Kind:       "validation",
				Category:   recovery.CategoryDataValidation,
				Severity:   recovery.SeverityMedium,
				Context:    map[string]string{"agent_type": "assessment"},
				Timestamp:  now,
			}
			second := recovery.ErrorRecord{
				ID:         "err_2",
				WorkflowID: "wf_2",
				Message:    "timeout",
				Category:   recovery.CategoryProcessing,
				Severity:   recovery.SeverityMedium,
				Timestamp:  now.Add(time.Second),
			}
			for _, rec := range []recovery.ErrorRecord{first, second} {
				if err := backend.AppendError(ctx, rec); err != nil {
					t.Fatalf("AppendError: %v", err)
				}
			}
			attempt := recovery.RecoveryAttempt{
				ID:         "rec_1",
				ErrorID:    "err_1",
				WorkflowID: "wf_1",
				Timestamp:  now.Add(time.Millisecond),
				Strategy:   recovery.StrategyFillDefaults,
				Success:    true,
			}
			if err := backend.AppendRecoveryAttempt(ctx, attempt); err != nil {
				t.Fatalf("AppendRecoveryAttempt: %v", err)
			}

			records, err := backend.ListErrors(ctx, "wf_1")
			if err != nil {
				t.Fatalf("ListErrors: %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("expected one record, got %d", len(records))
			}
			rec := records[0]
			if rec.Category != recovery.CategoryDataValidation || rec.Severity != recovery.SeverityMedium {
				t.Fatalf("unexpected classification: %s/%s", rec.Category, rec.Severity)
			}
			if rec.Context["agent_type"] != "assessment" || !rec.Timestamp.Equal(now) {
				t.Fatalf("unexpected record: %+v", rec)
			}
			if len(rec.Attempts) != 1 || rec.Attempts[0].Strategy != recovery.StrategyFillDefaults || !rec.Attempts[0].Success {
				t.Fatalf("unexpected attempts: %+v", rec.Attempts)
			}

			if err := backend.ResolveError(ctx, "err_2", now.Add(time.Hour), "fixed by operator"); err != nil {
				t.Fatalf("ResolveError: %v", err)
			}
			if err := backend.ResolveError(ctx, "err_missing", now, ""); !errors.Is(err, services.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			all, err := backend.ListErrors(ctx, "")
			if err != nil {
				t.Fatalf("ListErrors all: %v", err)
			}
			if len(all) != 2 || all[0].ID != "err_1" {
				t.Fatalf("unexpected order: %+v", all)
			}
			if !all[1].Resolved() || all[1].ResolutionNotes != "fixed by operator" {
				t.Fatalf("resolution not stored: %+v", all[1])
			}
		})
	}
}

func TestEventsAreIdempotent(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			evts := []events.Event{
				{ID: "evt-1", Sequence: 1, Type: events.WorkflowCreated, WorkflowID: "wf_1", Timestamp: now},
				{ID: "evt-2", Sequence: 2, Type: events.StageStarted, WorkflowID: "wf_1", StageID: "assessment", Timestamp: now.Add(time.Millisecond),
					Payload: map[string]any{"agent_type": "assessment"}},
				{ID: "evt-3", Sequence: 3, Type: events.WorkflowCreated, WorkflowID: "wf_2", Timestamp: now.Add(2 * time.Millisecond)},
			}
			for _, evt := range evts {
				if err := backend.SaveEvent(ctx, evt); err != nil {
					t.Fatalf("SaveEvent: %v", err)
				}
			}
			if err := backend.SaveEvent(ctx, evts[1]); err != nil {
				t.Fatalf("redelivery: %v", err)
			}

			got, err := backend.EventsSince(ctx, now, "wf_1", 0)
			if err != nil {
				t.Fatalf("EventsSince: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 events, got %d", len(got))
			}
			if got[1].StageID != "assessment" || got[1].Payload["agent_type"] != "assessment" || got[1].Sequence != 2 {
				t.Fatalf("unexpected event: %+v", got[1])
			}

			limited, err := backend.EventsSince(ctx, now.Add(time.Millisecond), "", 1)
			if err != nil {
				t.Fatalf("EventsSince limited: %v", err)
			}
			if len(limited) != 1 || limited[0].ID != "evt-2" {
				t.Fatalf("unexpected limited events: %+v", limited)
			}
		})
	}
}

func TestOpenBackendSelectsDriver(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryStore())
	backend, err := store.OpenBackend(cfg)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	if _, ok := backend.(*store.Memory); !ok {
		t.Fatalf("expected memory backend, got %T", backend)
	}

	cfg.Store.Driver = "postgres"
	if _, err := store.OpenBackend(cfg); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func ids(list []*workflow.Workflow) []string {
	out := make([]string, 0, len(list))
	for _, wf := range list {
		out = append(out, wf.ID)
	}
	return out
}
