package builtin

import (
	"context"
	"fmt"

	"assessflow/internal/agent"
	"assessflow/internal/carecalc"
	"assessflow/internal/services"
)

// Metadata keys read by the assessment agent.
const (
	MetaCareNeeds       = "attendant_care_needs"
	MetaReportedHours   = "total_attendant_care_hours"
	MetaReportedBenefit = "monthly_attendant_care_benefit"
	MetaManualReview    = "manual_review"
)

// DefaultRequiredFields must be present in workflow metadata before the
// assessment stage can complete.
var DefaultRequiredFields = []string{"mobility_score", "daily_activities_score"}

// Assessment validates intake data and derives attendant-care totals.
type Assessment struct {
	required []string
}

func NewAssessment(required ...string) *Assessment {
	return &Assessment{required: append([]string(nil), required...)}
}

func (a *Assessment) Type() string { return agent.TypeAssessment }

func (a *Assessment) Execute(ctx context.Context, in agent.StageInput) (agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, field := range a.required {
		if _, ok := in.Metadata[field]; !ok {
			return nil, services.Wrap(services.ErrValidation, "assessment", "validate",
				fmt.Sprintf("required field '%s' is missing", field), nil)
		}
	}

	needs, err := carecalc.ParseNeeds(in.Metadata[MetaCareNeeds])
	if err != nil {
		return nil, err
	}
	var totals carecalc.Totals
	reportedHours, hasHours := floatValue(in.Metadata[MetaReportedHours])
	reportedBenefit, hasBenefit := floatValue(in.Metadata[MetaReportedBenefit])
	if hasHours || hasBenefit {
		if !hasHours || !hasBenefit {
			totals, err = carecalc.Derive(needs)
			if err != nil {
				return nil, err
			}
			if !hasHours {
				reportedHours = totals.Hours
			}
			if !hasBenefit {
				reportedBenefit = totals.MonthlyBenefit
			}
		}
		totals, err = carecalc.Verify(needs, reportedHours, reportedBenefit)
	} else {
		totals, err = carecalc.Derive(needs)
	}
	if err != nil {
		return nil, err
	}

	out := agent.Output{
		"client_id":       in.ClientID,
		"therapist_id":    in.TherapistID,
		"need_count":      len(needs),
		"total_hours":     totals.Hours,
		"monthly_benefit": totals.MonthlyBenefit,
		"care_levels": map[string]any{
			"1": totals.Levels[1],
			"2": totals.Levels[2],
			"3": totals.Levels[3],
		},
	}
	for _, field := range a.required {
		out[field] = in.Metadata[field]
	}
	if review, ok := in.Metadata[MetaManualReview].(bool); ok && review {
		out[MetaManualReview] = true
	}
	return out, nil
}
