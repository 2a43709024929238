package recovery

import (
	"context"
	"fmt"
	"regexp"
)

const manualReviewNote = "Pending manual review"

var requiredFieldPattern = regexp.MustCompile(`(?i)required field '([^']+)'`)

// fieldDefaults are the placeholder values fill_defaults may apply.
var fieldDefaults = map[string]any{
	"mobility_score":         0,
	"daily_activities_score": 0,
	"notes":                  manualReviewNote,
	"observations":           manualReviewNote,
}

type target struct {
	workflowID string
	stageID    string
	errorID    string
	err        error
}

type strategy struct {
	name string
	run  func(ctx context.Context, ctrl Controller, t target) (bool, string, error)
}

func defaultStrategies() map[Category]strategy {
	return map[Category]strategy{
		CategoryDataValidation: {name: StrategyFillDefaults, run: fillDefaults},
		CategoryProcessing:     {name: StrategyResetStage, run: resetStage},
		CategoryAgentFailure:   {name: StrategyResetStageAgent, run: resetStage},
	}
}

// fillDefaults applies a placeholder for a missing required field and
// flags the workflow for manual review.
func fillDefaults(ctx context.Context, ctrl Controller, t target) (bool, string, error) {
	if t.err == nil {
		return false, "no error to inspect", nil
	}
	match := requiredFieldPattern.FindStringSubmatch(t.err.Error())
	if match == nil {
		return false, "error does not name a missing required field", nil
	}
	field := match[1]
	value, ok := fieldDefaults[field]
	if !ok {
		return false, fmt.Sprintf("no default known for field %q", field), nil
	}
	err := ctrl.ResetStage(ctx, t.workflowID, StageReset{
		StageID:      t.stageID,
		Defaults:     map[string]any{field: value},
		ManualReview: true,
		Reason:       StrategyFillDefaults,
	})
	if err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("filled %s with default and flagged for manual review", field), nil
}

func resetStage(ctx context.Context, ctrl Controller, t target) (bool, string, error) {
	if err := ctrl.ResetStage(ctx, t.workflowID, StageReset{StageID: t.stageID, Reason: "retry"}); err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("stage %s reset to pending", t.stageID), nil
}
