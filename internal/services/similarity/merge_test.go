package similarity

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternEngine/internal/domain/models"
)

func fixedMerger() *Merger {
	now := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	return NewMerger(
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "merged_test" }),
	)
}

func TestMergeTwoPatterns(t *testing.T) {
	a := newPattern("a", models.PatternTechnicalBreakout, 0.6, 10)
	b := newPattern("b", models.PatternTechnicalBreakout, 0.8, 20)

	merged, err := fixedMerger().Merge([]*models.MarketPattern{a, b})
	require.NoError(t, err)

	assert.Equal(t, "merged_test", merged.PatternID)
	assert.Equal(t, 30, merged.LearningMetrics.ObservationCount)
	rel, ok := merged.Reliability()
	require.True(t, ok)
	assert.InDelta(t, 0.74, rel, 1e-9)
	assert.Greater(t, rel, 0.6)
	assert.Less(t, rel, 0.95)
	assert.Equal(t, []string{"a", "b"}, merged.Meta.RelatedPatterns)
	assert.Equal(t, DiscoveryMethodConsolidation, merged.Meta.Discovery.Method)
	assert.Equal(t, "b", merged.Meta.Discovery.Source)

	// inputs untouched
	assert.Equal(t, 10, a.LearningMetrics.ObservationCount)
	assert.Equal(t, "a", a.PatternID)
}

func TestMergeWeightsAndVotes(t *testing.T) {
	a := newPattern("a", models.PatternMeanReversion, 0.2, 5)
	b := newPattern("b", models.PatternMeanReversion, 0.6, 5)
	c := newPattern("c", models.PatternTrendFollowing, 0.2, 5)
	a.Outcomes.SuccessRate, b.Outcomes.SuccessRate, c.Outcomes.SuccessRate = 0.5, 0.9, 0.5
	a.Outcomes.MaxDrawdown, b.Outcomes.MaxDrawdown = -0.3, -0.1
	c.Conditions.MarketConditions[models.ConditionMarketRegime] = models.LabelValue("bear")
	b.Conditions.MarketConditions[models.ConditionMarketRegime] = models.LabelValue("bear")
	a.Meta.RiskFactors = []models.RiskFactor{{Name: "gap", Severity: models.SeverityLow}}
	c.Meta.RiskFactors = []models.RiskFactor{{Name: "gap", Severity: models.SeverityHigh}}
	b.Conditions.Temporal = models.TemporalConstraints{MinDurationHours: 1, MaxDurationHours: 100, DayOfWeek: []string{"mon"}}

	merged, err := fixedMerger().Merge([]*models.MarketPattern{a, b, c})
	require.NoError(t, err)

	// (0.2*0.5 + 0.6*0.9 + 0.2*0.5) / 1.0
	assert.InDelta(t, 0.74, merged.Outcomes.SuccessRate, 1e-9)
	assert.Equal(t, -0.3, merged.Outcomes.MaxDrawdown)
	assert.Equal(t, "bear", merged.Regime())
	assert.Equal(t, models.PatternMeanReversion, merged.PatternType)
	require.Len(t, merged.Meta.RiskFactors, 1)
	assert.Equal(t, models.SeverityHigh, merged.Meta.RiskFactors[0].Severity)
	assert.Equal(t, 1.0, merged.Conditions.Temporal.MinDurationHours)
	assert.Equal(t, 100.0, merged.Conditions.Temporal.MaxDurationHours)
	assert.Equal(t, []string{"mon"}, merged.Conditions.Temporal.DayOfWeek)
	assert.Equal(t, 15, merged.LearningMetrics.ObservationCount)
}

func TestMergeConfidenceIntervals(t *testing.T) {
	a := newPattern("a", models.PatternTechnicalBreakout, 0.6, 10)
	b := newPattern("b", models.PatternTechnicalBreakout, 0.8, 20)
	a.Outcomes.ConfidenceIntervals = map[string]models.Interval{"95": {Lower: 0.0, Upper: 0.1}}
	b.Outcomes.ConfidenceIntervals = map[string]models.Interval{"95": {Lower: 0.02, Upper: 0.2}}

	merged, err := fixedMerger().Merge([]*models.MarketPattern{a, b})
	require.NoError(t, err)
	iv := merged.Outcomes.ConfidenceIntervals["95"]
	assert.Greater(t, iv.Lower, 0.0)
	assert.Less(t, iv.Lower, 0.02)
	assert.Greater(t, iv.Upper, 0.1)
	assert.Less(t, iv.Upper, 0.2)
}

func TestMergeEdgeCases(t *testing.T) {
	m := fixedMerger()

	_, err := m.Merge(nil)
	assert.ErrorIs(t, err, models.ErrEmptyInput)

	single := newPattern("only", models.PatternVolumeAnomaly, 0.5, 3)
	got, err := m.Merge([]*models.MarketPattern{single})
	require.NoError(t, err)
	assert.Equal(t, single, got)
	assert.NotSame(t, single, got)

	a := newPattern("a", models.PatternVolumeAnomaly, 0.5, 3)
	b := newPattern("b", models.PatternVolumeAnomaly, 0.5, 3)
	a.LearningMetrics.ReliabilityScore = nil
	b.LearningMetrics.ReliabilityScore = nil
	_, err = m.Merge([]*models.MarketPattern{a, b})
	assert.ErrorIs(t, err, models.ErrNoValidPatterns)
}

func TestMergeFallsBackOnMalformedInput(t *testing.T) {
	a := newPattern("a", models.PatternTechnicalBreakout, 0.6, 10)
	b := newPattern("b", models.PatternTechnicalBreakout, 0.8, 20)
	bad := newPattern("bad", "unknown_type", 0.9, 20)
	bad.Outcomes.AvgReturn = math.NaN()

	got, err := fixedMerger().Merge([]*models.MarketPattern{a, b, bad})
	require.NoError(t, err)
	assert.Equal(t, "bad", got.PatternID)

	bad.LearningMetrics.ReliabilityScore = models.Float(math.NaN())
	got, err = fixedMerger().Merge([]*models.MarketPattern{a, b, bad})
	require.NoError(t, err)
	assert.Equal(t, "b", got.PatternID)
}
