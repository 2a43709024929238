package workflow

import (
	"assessflow/internal/agent"
	"assessflow/internal/carecalc"
	"assessflow/internal/services"
)

// OutputValidator checks agent output before a stage is marked Completed.
type OutputValidator interface {
	Validate(input agent.StageInput, output agent.Output) error
}

// ValidatorFunc adapts a function into an OutputValidator.
type ValidatorFunc func(agent.StageInput, agent.Output) error

func (f ValidatorFunc) Validate(input agent.StageInput, output agent.Output) error {
	return f(input, output)
}

// DefaultValidator recomputes attendant-care totals from the workflow's
// care needs and rejects assessment output that disagrees.
var DefaultValidator OutputValidator = ValidatorFunc(validateCareTotals)

func validateCareTotals(input agent.StageInput, output agent.Output) error {
	if len(output) == 0 {
		return services.Wrap(services.ErrAgentResponse, "workflow", "validate output", "empty output", nil)
	}
	if input.AgentType != agent.TypeAssessment {
		return nil
	}
	hours, hasHours := number(output["total_hours"])
	benefit, hasBenefit := number(output["monthly_benefit"])
	if !hasHours && !hasBenefit {
		return nil
	}
	needs, err := carecalc.ParseNeeds(input.Metadata["attendant_care_needs"])
	if err != nil {
		return err
	}
	totals, err := carecalc.Derive(needs)
	if err != nil {
		return err
	}
	if !hasHours {
		hours = totals.Hours
	}
	if !hasBenefit {
		benefit = totals.MonthlyBenefit
	}
	_, err = carecalc.Verify(needs, hours, benefit)
	return err
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
