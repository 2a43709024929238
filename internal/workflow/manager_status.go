package workflow

import "time"

// WeeklySummary counts workflows created since the most recent Monday 00:00 UTC.
type WeeklySummary struct {
	Since      time.Time `json:"since"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	InProgress int       `json:"in_progress"`
	Pending    int       `json:"pending"`
	Error      int       `json:"error"`
	Cancelled  int       `json:"cancelled"`
}

// WeekStart returns Monday 00:00 UTC of the week containing now.
func WeekStart(now time.Time) time.Time {
	now = now.UTC()
	offset := (int(now.Weekday()) + 6) % 7
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// WeeklySummary counts workflows created since the start of now's week, by status.
func (m *Manager) WeeklySummary(now time.Time) WeeklySummary {
	since := WeekStart(now)
	summary := WeeklySummary{Since: since}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		if wf.CreatedAt.Before(since) {
			continue
		}
		summary.Total++
		switch wf.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusInProgress:
			summary.InProgress++
		case StatusPending:
			summary.Pending++
		case StatusError:
			summary.Error++
		case StatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// StatusCounts returns the number of workflows per status, with every
// status present.
func (m *Manager) StatusCounts() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses()))
	for _, s := range AllStatuses() {
		counts[s] = 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		counts[wf.Status]++
	}
	return counts
}

// ActiveCount is the number of InProgress workflows.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Capacity is the InProgress ceiling.
func (m *Manager) Capacity() int {
	return m.maxConcurrent
}

// TherapistLoad counts InProgress workflows per therapist.
func (m *Manager) TherapistLoad() map[string]int {
	load := make(map[string]int)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wf := range m.workflows {
		if wf.Status == StatusInProgress {
			load[wf.TherapistID]++
		}
	}
	return load
}
