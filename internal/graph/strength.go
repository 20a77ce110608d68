package graph

import (
	"math"
	"time"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

const (
	InitialStrength = 1.0
	MaxStrength     = 10.0
	MinStrength     = 0.0

	minRecency        = 0.1
	recencyWindowDays = 7.0
	strengthScale     = 1.5
)

// Score is the outcome of one strengthening step.
type Score struct {
	DaysSinceLast float64
	// DaysSinceFirst is reported for diagnostics only; it does not enter the formula.
	DaysSinceFirst   float64
	InteractionCount int
	Recency          float64
	Frequency        float64
	Strength         float64
}

// ComputeScore applies one interaction at now to rel. Decay is only ever evaluated here, so
// an edge that is never touched again keeps its last computed strength.
func ComputeScore(rel models.Relationship, now time.Time) Score {
	daysSinceLast := math.Max(1, days(now.Sub(rel.LastInteractionAt)))
	daysSinceFirst := math.Max(0, days(now.Sub(rel.FirstCreatedAt)))
	count := rel.InteractionCount + 1

	recency := math.Max(minRecency, 1/(1+daysSinceLast/recencyWindowDays))
	frequency := math.Log10(float64(count)+1) * 2
	strength := math.Min(MaxStrength, frequency*recency*strengthScale)

	return Score{
		DaysSinceLast:    daysSinceLast,
		DaysSinceFirst:   daysSinceFirst,
		InteractionCount: count,
		Recency:          recency,
		Frequency:        frequency,
		Strength:         clampStrength(strength),
	}
}

func clampStrength(s float64) float64 {
	if math.IsNaN(s) || s < MinStrength {
		return MinStrength
	}
	if s > MaxStrength {
		return MaxStrength
	}
	return s
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
