package testsupport

import (
	"time"

	"assessflow/internal/workflow"
)

// NewWorkflow builds a Pending initial assessment with the default stages.
func NewWorkflow(id, therapistID string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:             id,
		ClientID:       "client-" + id,
		TherapistID:    therapistID,
		AssessmentType: "initial",
		Status:         workflow.StatusPending,
		Stages:         workflow.DefaultStages(),
		Metadata: map[string]any{
			"mobility_score":         3.0,
			"daily_activities_score": 4.0,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
