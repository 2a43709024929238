package recovery

import "maps"

// Summary aggregates handler state.
type Summary struct {
	Counts           map[string]int `json:"error_counts"`
	RecoveryAttempts int            `json:"recovery_attempts"`
	ActiveIssues     int            `json:"active_issues"`
}

// GetErrorSummary returns counts by "<category>:<kind>", the total number of
// attempts recorded, and the number of unresolved records.
func (h *Handler) GetErrorSummary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := 0
	for _, rec := range h.byID {
		if !rec.Resolved() {
			active++
		}
	}
	return Summary{
		Counts:           maps.Clone(h.counts),
		RecoveryAttempts: h.totalAttempts,
		ActiveIssues:     active,
	}
}

// ClearResolved forgets workflows whose records are all resolved, resetting
// their budgets, and rebuilds counters from what remains. It returns the
// number of workflows cleared.
func (h *Handler) ClearResolved() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cleared := 0
	for workflowID, recs := range h.records {
		if !allResolved(recs) {
			continue
		}
		for _, rec := range recs {
			delete(h.byID, rec.ID)
		}
		delete(h.records, workflowID)
		delete(h.budget, workflowID)
		cleared++
	}

	h.counts = make(map[string]int)
	h.totalAttempts = len(h.orphans)
	for _, recs := range h.records {
		for _, rec := range recs {
			h.counts[countKey(rec.Category, rec.Kind)]++
			h.totalAttempts += len(rec.Attempts)
		}
	}
	return cleared
}
