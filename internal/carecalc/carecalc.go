// Package carecalc derives attendant-care hours and the monthly benefit from
// individual care needs. Both values are always recomputed; caller-supplied
// totals are only ever compared against the derived figures.
package carecalc

import (
	"encoding/json"
	"fmt"
	"math"

	"assessflow/internal/services"
)

const (
	// WeeksPerMonth is the average used to convert weekly minutes to monthly hours.
	WeeksPerMonth = 4.33
	// BenefitCap is the monthly maximum.
	BenefitCap = 6000.0
	// Tolerance is the allowed divergence between reported and derived values.
	Tolerance = 0.01
)

var hourlyRates = map[int]float64{
	1: 14.90,
	2: 14.90,
	3: 22.36,
}

// Need is one attendant-care task.
type Need struct {
	Task           string `json:"task"`
	Observations   string `json:"observations,omitempty"`
	MinutesPerWeek int    `json:"minutes_per_week"`
	Level          int    `json:"level"`
}

// Totals holds the derived figures.
type Totals struct {
	Hours          float64     `json:"total_hours"`
	MonthlyBenefit float64     `json:"monthly_benefit"`
	Levels         map[int]int `json:"care_levels"`
}

// Rate returns the hourly rate for level.
func Rate(level int) (float64, bool) {
	rate, ok := hourlyRates[level]
	return rate, ok
}

// Derive computes hours and benefit for needs.
func Derive(needs []Need) (Totals, error) {
	totals := Totals{Levels: map[int]int{1: 0, 2: 0, 3: 0}}
	var minutes int
	var benefit float64
	for i, need := range needs {
		if need.MinutesPerWeek < 0 {
			return Totals{}, services.Wrap(services.ErrValidation, "carecalc", "derive",
				fmt.Sprintf("need %d (%s) has negative minutes_per_week", i, need.Task), nil)
		}
		rate, ok := Rate(need.Level)
		if !ok {
			return Totals{}, services.Wrap(services.ErrValidation, "carecalc", "derive",
				fmt.Sprintf("need %d (%s) has level %d outside 1-3", i, need.Task, need.Level), nil)
		}
		minutes += need.MinutesPerWeek
		benefit += float64(need.MinutesPerWeek) / 60 * WeeksPerMonth * rate
		totals.Levels[need.Level]++
	}
	totals.Hours = float64(minutes) / 60
	totals.MonthlyBenefit = math.Min(benefit, BenefitCap)
	return totals, nil
}

// Verify derives the totals and reports a validation error when either
// reported value diverges from them by more than Tolerance.
func Verify(needs []Need, reportedHours, reportedBenefit float64) (Totals, error) {
	totals, err := Derive(needs)
	if err != nil {
		return totals, err
	}
	if math.Abs(totals.Hours-reportedHours) > Tolerance {
		return totals, services.Wrap(services.ErrValidation, "carecalc", "verify",
			fmt.Sprintf("total attendant care hours mismatch: reported %.2f, derived %.2f", reportedHours, totals.Hours), nil)
	}
	if math.Abs(totals.MonthlyBenefit-reportedBenefit) > Tolerance {
		return totals, services.Wrap(services.ErrValidation, "carecalc", "verify",
			fmt.Sprintf("monthly attendant care benefit mismatch: reported %.2f, derived %.2f", reportedBenefit, totals.MonthlyBenefit), nil)
	}
	return totals, nil
}

// ParseNeeds converts loosely typed metadata (as decoded from JSON) into needs.
func ParseNeeds(raw any) ([]Need, error) {
	if raw == nil {
		return nil, nil
	}
	if needs, ok := raw.([]Need); ok {
		return needs, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "carecalc", "parse needs", "attendant_care_needs is not serializable", err)
	}
	var needs []Need
	if err := json.Unmarshal(data, &needs); err != nil {
		return nil, services.Wrap(services.ErrValidation, "carecalc", "parse needs", "attendant_care_needs has unexpected shape", err)
	}
	return needs, nil
}
