package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assessflow/internal/agent"
	"assessflow/internal/services"
)

func assessmentInput(meta map[string]any) agent.StageInput {
	return agent.StageInput{
		WorkflowID:     "wf_1",
		StageID:        agent.TypeAssessment,
		AgentType:      agent.TypeAssessment,
		ClientID:       "client-1",
		TherapistID:    "therapist-1",
		AssessmentType: "initial",
		Metadata:       meta,
	}
}

func TestAssessmentRequiresFields(t *testing.T) {
	_, err := NewAssessment(DefaultRequiredFields...).Execute(context.Background(), assessmentInput(map[string]any{
		"daily_activities_score": 3,
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrValidation)
	assert.Contains(t, err.Error(), "required field 'mobility_score'")
}

func TestAssessmentDerivesTotals(t *testing.T) {
	out, err := NewAssessment().Execute(context.Background(), assessmentInput(map[string]any{
		MetaCareNeeds: []any{
			map[string]any{"task": "bathing", "minutes_per_week": float64(120), "level": float64(1)},
		},
	}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out["total_hours"], 1e-9)
	assert.InDelta(t, 2*4.33*14.90, out["monthly_benefit"], 1e-9)
	assert.Equal(t, 1, out["need_count"])
}

func TestAssessmentFlagsDivergentReportedBenefit(t *testing.T) {
	_, err := NewAssessment().Execute(context.Background(), assessmentInput(map[string]any{
		MetaCareNeeds: []any{
			map[string]any{"task": "bathing", "minutes_per_week": float64(120), "level": float64(1)},
		},
		MetaReportedHours:   2.0,
		MetaReportedBenefit: 9999.0,
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestPipelineOutputsChain(t *testing.T) {
	ctx := context.Background()
	in := assessmentInput(map[string]any{
		"mobility_score":         0,
		"daily_activities_score": 0,
		MetaManualReview:         true,
		MetaCareNeeds: []any{
			map[string]any{"task": "transfers", "minutes_per_week": float64(600), "level": float64(3)},
		},
	})
	assessed, err := NewAssessment(DefaultRequiredFields...).Execute(ctx, in)
	require.NoError(t, err)

	in.PriorOutputs = map[string]map[string]any{agent.TypeAssessment: assessed}
	analysed, err := NewAnalysis().Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 4.5, analysed["risk_score"])
	assert.Equal(t, "low", analysed["priority_level"])

	in.PriorOutputs[agent.TypeAnalysis] = analysed
	doc, err := NewDocumentation().Execute(ctx, in)
	require.NoError(t, err)
	summary, _ := doc["summary"].(string)
	assert.Contains(t, summary, "client-1")
	assert.Contains(t, summary, "Flagged for manual review")
	assert.Contains(t, summary, "Priority: low")
}

func TestRegistryHasDefaultAgents(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{agent.TypeAnalysis, agent.TypeAssessment, agent.TypeDocumentation}, reg.Types())
}
