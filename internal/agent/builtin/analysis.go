package builtin

import (
	"context"
	"math"

	"assessflow/internal/agent"
	"assessflow/internal/services"
)

// Analysis turns assessment totals into a priority level.
type Analysis struct{}

func NewAnalysis() *Analysis { return &Analysis{} }

func (a *Analysis) Type() string { return agent.TypeAnalysis }

func (a *Analysis) Execute(ctx context.Context, in agent.StageInput) (agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assessment, ok := in.PriorOutputs[agent.TypeAssessment]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "analysis", "execute",
			"required field 'assessment' output is missing", nil)
	}
	hours, _ := floatValue(assessment["total_hours"])
	var highNeeds float64
	if levels, ok := assessment["care_levels"].(map[string]any); ok {
		highNeeds, _ = floatValue(levels["3"])
	}

	score := math.Min(hours/4+2*highNeeds, 10)
	score = math.Round(score*10) / 10
	return agent.Output{
		"risk_score":     score,
		"priority_level": priorityLevel(score, highNeeds),
		"high_needs":     int(highNeeds),
		"weekly_hours":   hours,
	}, nil
}

func priorityLevel(score, highNeeds float64) string {
	switch {
	case score >= 8 || highNeeds >= 3:
		return "high"
	case score >= 5:
		return "moderate"
	default:
		return "low"
	}
}
