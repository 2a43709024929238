package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"assessflow/internal/events"
	"assessflow/internal/recovery"
	"assessflow/internal/services"
	"assessflow/internal/workflow"
)

// Memory keeps everything in process. Contents are lost on exit.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
	records   []recovery.ErrorRecord
	attempts  []recovery.RecoveryAttempt
	events    []events.Event
	eventIDs  map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]*workflow.Workflow),
		eventIDs:  make(map[string]struct{}),
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf.Clone()
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "store", "get workflow", id, nil)
	}
	return wf.Clone(), nil
}

func (m *Memory) ListWorkflows(_ context.Context, statuses ...workflow.Status) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if len(statuses) > 0 && !slices.Contains(statuses, wf.Status) {
			continue
		}
		out = append(out, wf.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (map[workflow.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[workflow.Status]int)
	for _, wf := range m.workflows {
		stats[wf.Status]++
	}
	return stats, nil
}

func (m *Memory) AppendError(_ context.Context, record recovery.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := record.Clone()
	rec.Attempts = nil
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) AppendRecoveryAttempt(_ context.Context, attempt recovery.RecoveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *Memory) ResolveError(_ context.Context, errorID string, resolvedAt time.Time, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == errorID {
			resolved := resolvedAt
			m.records[i].ResolvedAt = &resolved
			m.records[i].ResolutionNotes = notes
			return nil
		}
	}
	return services.Wrap(services.ErrNotFound, "store", "resolve error", errorID, nil)
}

func (m *Memory) ListErrors(_ context.Context, workflowID string) ([]recovery.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []recovery.ErrorRecord
	index := make(map[string]int)
	for i := range m.records {
		if workflowID != "" && m.records[i].WorkflowID != workflowID {
			continue
		}
		index[m.records[i].ID] = len(out)
		out = append(out, m.records[i].Clone())
	}
	for _, attempt := range m.attempts {
		if i, ok := index[attempt.ErrorID]; ok {
			out[i].Attempts = append(out[i].Attempts, attempt)
		}
	}
	return out, nil
}

func (m *Memory) SaveEvent(_ context.Context, evt events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.eventIDs[evt.ID]; ok {
		return nil
	}
	m.eventIDs[evt.ID] = struct{}{}
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) EventsSince(_ context.Context, since time.Time, workflowID string, limit int) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []events.Event
	for _, evt := range m.events {
		if evt.Timestamp.Before(since) {
			continue
		}
		if workflowID != "" && evt.WorkflowID != workflowID {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
