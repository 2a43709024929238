package queue

import (
	"time"

	"assessflow/internal/workflow"
)

// Status is a point-in-time view of the queue.
type Status struct {
	Counts    map[workflow.Status]int `json:"counts"`
	Pooled    int                     `json:"pooled"`
	Active    int                     `json:"active"`
	Capacity  int                     `json:"capacity"`
	Next      []Entry                 `json:"next,omitempty"`
	LastTick  time.Time               `json:"last_tick,omitzero"`
	LastError string                  `json:"last_error,omitempty"`
}

// GetQueueStatus snapshots counts and the current admission order. It
// changes nothing.
func (m *Manager) GetQueueStatus() Status {
	now := m.opts.Now()
	load := m.workflows.TherapistLoad()
	ids := m.Pooled()

	next := make([]Entry, 0, len(ids))
	for _, id := range ids {
		wf, err := m.workflows.GetWorkflow(id)
		if err != nil || wf.Status != workflow.StatusPending {
			continue
		}
		next = append(next, entryFor(wf, now, load))
	}
	rank(next)

	m.mu.Lock()
	lastTick, lastErr := m.lastTick, m.lastErr
	m.mu.Unlock()
	return Status{
		Counts:    m.workflows.StatusCounts(),
		Pooled:    len(ids),
		Active:    m.workflows.ActiveCount(),
		Capacity:  m.workflows.Capacity(),
		Next:      next,
		LastTick:  lastTick,
		LastError: lastErr,
	}
}
