package queue

import (
	"math"
	"sort"
	"strings"
	"time"
)

// maxAgeHours caps how much priority waiting can earn.
const maxAgeHours = 168.0

var typeBonus = map[string]float64{
	"urgent":   100,
	"initial":  50,
	"followup": 25,
}

// TypeBonus returns the flat boost for an assessment type.
func TypeBonus(assessmentType string) float64 {
	return typeBonus[strings.ToLower(strings.TrimSpace(assessmentType))]
}

// Score ranks a pooled workflow: therapist load dominates, age accrues
// slowly up to a week, and time-sensitive types get a flat boost.
func Score(therapistLoad int, age time.Duration, assessmentType string) float64 {
	ageHours := math.Max(age.Hours(), 0)
	return -10*float64(therapistLoad) + math.Min(ageHours, maxAgeHours)/8 + TypeBonus(assessmentType)
}

// Entry is a scored admission candidate.
type Entry struct {
	WorkflowID     string    `json:"workflow_id"`
	TherapistID    string    `json:"therapist_id"`
	AssessmentType string    `json:"assessment_type"`
	CreatedAt      time.Time `json:"created_at"`
	TherapistLoad  int       `json:"therapist_load"`
	Score          float64   `json:"score"`
}

func rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].WorkflowID < entries[j].WorkflowID
	})
}
