package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
)

var t0 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func fresh() models.Relationship {
	return models.Relationship{
		Strength:          InitialStrength,
		InteractionCount:  1,
		FirstCreatedAt:    t0,
		LastInteractionAt: t0,
	}
}

func TestComputeScoreNextDay(t *testing.T) {
	s := ComputeScore(fresh(), t0.Add(24*time.Hour))

	assert.Equal(t, 2, s.InteractionCount)
	assert.InDelta(t, 1.0, s.DaysSinceLast, 1e-9)
	assert.InDelta(t, 0.875, s.Recency, 1e-9)
	assert.InDelta(t, 0.954, s.Frequency, 1e-3)
	assert.InDelta(t, 1.252, s.Strength, 1e-3)
}

func TestComputeScoreSameDayUsesOneDayFloor(t *testing.T) {
	s := ComputeScore(fresh(), t0.Add(time.Minute))

	assert.Equal(t, 1.0, s.DaysSinceLast)
	assert.InDelta(t, 1.252, s.Strength, 1e-3)
}

func TestComputeScoreAfterDormancyHitsRecencyFloor(t *testing.T) {
	rel := fresh()
	rel.InteractionCount = 2
	s := ComputeScore(rel, t0.Add(90*24*time.Hour))

	assert.InDelta(t, 90.0, s.DaysSinceLast, 1e-9)
	assert.Equal(t, 3, s.InteractionCount)
	// 1/(1+90/7) is about 0.072, below the floor.
	assert.Equal(t, 0.1, s.Recency)
	assert.InDelta(t, 1.204, s.Frequency, 1e-3)
	assert.InDelta(t, 0.1806, s.Strength, 1e-3)
	assert.Less(t, s.Strength, 1.252)
}

func TestComputeScoreReportsDaysSinceFirst(t *testing.T) {
	rel := fresh()
	rel.LastInteractionAt = t0.Add(10 * 24 * time.Hour)
	s := ComputeScore(rel, t0.Add(12*24*time.Hour))

	assert.InDelta(t, 12.0, s.DaysSinceFirst, 1e-9)
	assert.InDelta(t, 2.0, s.DaysSinceLast, 1e-9)
}

func TestComputeScoreSaturates(t *testing.T) {
	rel := fresh()
	now := t0.Add(time.Hour)
	for i := 0; i < 10000; i++ {
		s := ComputeScore(rel, now)
		rel.InteractionCount = s.InteractionCount
		rel.Strength = s.Strength
		assert.LessOrEqual(t, rel.Strength, MaxStrength)
		assert.GreaterOrEqual(t, rel.Strength, MinStrength)
	}
	assert.Equal(t, 10001, rel.InteractionCount)
}

func TestClampStrength(t *testing.T) {
	assert.Equal(t, MaxStrength, clampStrength(12))
	assert.Equal(t, MinStrength, clampStrength(-1))
	assert.Equal(t, 3.5, clampStrength(3.5))
}
