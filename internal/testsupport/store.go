package testsupport

import (
	"context"
	"testing"

	"assessflow/internal/config"
	"assessflow/internal/store"
	"assessflow/internal/workflow"
)

// MustOpenStore opens a SQLite store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SaveWorkflow persists a fresh Pending workflow for tests.
func SaveWorkflow(t testing.TB, st workflow.Store, id, therapistID string) *workflow.Workflow {
	t.Helper()

	wf := NewWorkflow(id, therapistID)
	if err := st.SaveWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	return wf
}
