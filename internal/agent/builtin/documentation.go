package builtin

import (
	"context"
	"fmt"
	"strings"

	"assessflow/internal/agent"
	"assessflow/internal/services"
)

// Documentation renders a plain-text summary from earlier stage outputs.
type Documentation struct{}

func NewDocumentation() *Documentation { return &Documentation{} }

func (d *Documentation) Type() string { return agent.TypeDocumentation }

func (d *Documentation) Execute(ctx context.Context, in agent.StageInput) (agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assessment := in.PriorOutputs[agent.TypeAssessment]
	analysis := in.PriorOutputs[agent.TypeAnalysis]
	if assessment == nil && analysis == nil {
		return nil, services.Wrap(services.ErrValidation, "documentation", "execute",
			"required field 'assessment' output is missing", nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s assessment for client %s (therapist %s)\n", in.AssessmentType, in.ClientID, in.TherapistID)
	if assessment != nil {
		hours, _ := floatValue(assessment["total_hours"])
		benefit, _ := floatValue(assessment["monthly_benefit"])
		fmt.Fprintf(&b, "Attendant care: %.2f hours/week, monthly benefit $%.2f\n", hours, benefit)
		if review, _ := assessment[MetaManualReview].(bool); review {
			b.WriteString("Flagged for manual review\n")
		}
	}
	if analysis != nil {
		fmt.Fprintf(&b, "Priority: %v (risk score %v)\n", analysis["priority_level"], analysis["risk_score"])
	}

	sections := []string{"summary"}
	if assessment != nil {
		sections = append(sections, "attendant_care")
	}
	if analysis != nil {
		sections = append(sections, "priority")
	}
	return agent.Output{
		"summary":  b.String(),
		"sections": sections,
	}, nil
}
