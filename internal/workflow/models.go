package workflow

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"assessflow/internal/agent"
	"assessflow/internal/recovery"
)

// Status is the workflow lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every workflow status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusError, StatusCancelled}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, error) {
	needle := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range AllStatuses() {
		if s == needle {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown workflow status %q", value)
}

// StageStatus is the per-stage state.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageError      StageStatus = "error"
	StageSkipped    StageStatus = "skipped"
)

// Done reports whether the stage no longer needs to run.
func (s StageStatus) Done() bool {
	return s == StageCompleted || s == StageSkipped
}

// Metadata keys the manager itself interprets.
const (
	MetaSkipStages   = "skip_stages"
	MetaManualReview = "manual_review"
)

// Stage is one step of a workflow.
type Stage struct {
	ID          string         `json:"id"`
	AgentType   string         `json:"agent_type"`
	Status      StageStatus    `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (s *Stage) reset() {
	s.Status = StagePending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.Output = nil
	s.Error = ""
}

// Workflow is one assessment's run through the stage pipeline.
type Workflow struct {
	ID                string            `json:"id"`
	ClientID          string            `json:"client_id"`
	TherapistID       string            `json:"therapist_id"`
	AssessmentType    string            `json:"assessment_type"`
	Status            Status            `json:"status"`
	Stages            []Stage           `json:"stages"`
	CurrentStageIndex int               `json:"current_stage_index"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	Error             string            `json:"error,omitempty"`
	ErrorCategory     recovery.Category `json:"error_category,omitzero"`
	ErrorSeverity     recovery.Severity `json:"error_severity,omitzero"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// DefaultStages returns the fixed pipeline, all Pending.
func DefaultStages() []Stage {
	return []Stage{
		{ID: agent.TypeAssessment, AgentType: agent.TypeAssessment, Status: StagePending},
		{ID: agent.TypeAnalysis, AgentType: agent.TypeAnalysis, Status: StagePending},
		{ID: agent.TypeDocumentation, AgentType: agent.TypeDocumentation, Status: StagePending},
	}
}

// CurrentStage returns the stage at the current index, or false once the
// index has run past the list.
func (w *Workflow) CurrentStage() (*Stage, bool) {
	if w.CurrentStageIndex < 0 || w.CurrentStageIndex >= len(w.Stages) {
		return nil, false
	}
	return &w.Stages[w.CurrentStageIndex], true
}

// Progress is the percentage of stages completed.
func (w *Workflow) Progress() float64 {
	if len(w.Stages) == 0 {
		return 0
	}
	completed := 0
	for _, st := range w.Stages {
		if st.Status == StageCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(w.Stages)) * 100
}

// ManualReview reports whether recovery flagged the workflow.
func (w *Workflow) ManualReview() bool {
	flag, _ := w.Metadata[MetaManualReview].(bool)
	return flag
}

func (w *Workflow) stageIndex(id string) int {
	for i := range w.Stages {
		if w.Stages[i].ID == id {
			return i
		}
	}
	return -1
}

func (w *Workflow) skipped(stageID string) bool {
	switch v := w.Metadata[MetaSkipStages].(type) {
	case []string:
		for _, s := range v {
			if s == stageID {
				return true
			}
		}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok && str == stageID {
				return true
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) == stageID {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Metadata = cloneMap(w.Metadata)
	out.StartedAt = cloneTime(w.StartedAt)
	out.CompletedAt = cloneTime(w.CompletedAt)
	out.Stages = make([]Stage, len(w.Stages))
	for i, st := range w.Stages {
		st.StartedAt = cloneTime(st.StartedAt)
		st.CompletedAt = cloneTime(st.CompletedAt)
		st.Output = cloneMap(st.Output)
		out.Stages[i] = st
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
