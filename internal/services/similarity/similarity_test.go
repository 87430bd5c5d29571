package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternEngine/internal/domain/models"
)

func newPattern(id string, typ models.PatternType, rel float64, obs int) *models.MarketPattern {
	return &models.MarketPattern{
		PatternID:   id,
		PatternType: typ,
		Conditions: models.Conditions{
			TechnicalIndicators: map[string]models.IndicatorCondition{
				"rsi": {Threshold: 70, Weight: 0.8},
			},
			MarketConditions: map[string]models.ConditionValue{
				models.ConditionMarketRegime: models.LabelValue("bull"),
				models.ConditionVolatility:   models.NumberValue(0.2),
			},
			Temporal: models.TemporalConstraints{MinDurationHours: 4, MaxDurationHours: 48},
		},
		Outcomes: models.Outcomes{
			SuccessRate:  0.65,
			AvgReturn:    0.03,
			Volatility:   0.2,
			MaxDrawdown:  -0.08,
			TimeToTarget: 12,
		},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: obs,
			LastUpdated:      time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
			ReliabilityScore: models.Float(rel),
		},
		Meta: models.MetaInformation{ValidationStatus: models.StatusCandidate},
	}
}

func TestSimilaritySymmetricAndBounded(t *testing.T) {
	calc := NewCalculator()
	a := newPattern("a", models.PatternTechnicalBreakout, 0.6, 10)
	b := newPattern("b", models.PatternMeanReversion, 0.9, 40)
	b.Conditions.TechnicalIndicators["rsi"] = models.IndicatorCondition{Threshold: 30, Weight: 0.5}
	b.Conditions.TechnicalIndicators["macd"] = models.IndicatorCondition{Threshold: 1, Weight: 0.5}
	a.Conditions.TechnicalIndicators["macd"] = models.IndicatorCondition{Threshold: 0.4, Weight: 0.5}
	b.Outcomes.AvgReturn = -0.2
	b.Conditions.MarketConditions[models.ConditionMarketRegime] = models.LabelValue("bear")

	ab := calc.Similarity(a, b)
	ba := calc.Similarity(b, a)
	assert.Equal(t, ab, ba)
	assert.GreaterOrEqual(t, ab, 0.0)
	assert.LessOrEqual(t, ab, 1.0)
	assert.Less(t, ab, 0.6)
}

func TestSimilaritySelfIsOne(t *testing.T) {
	calc := NewCalculator()
	a := newPattern("a", models.PatternTrendFollowing, 0.7, 10)
	assert.Equal(t, 1.0, calc.Similarity(a, a))

	// identical content under a different id is also fully similar
	b := a.Clone()
	b.PatternID = "b"
	assert.InDelta(t, 1.0, calc.Similarity(a, b), 1e-12)
}

func TestCompareSkipsMissingDimensions(t *testing.T) {
	calc := NewCalculator()
	a := newPattern("a", models.PatternTrendFollowing, 0.7, 10)
	b := newPattern("b", models.PatternTrendFollowing, 0.7, 10)
	a.Conditions.TechnicalIndicators = nil
	b.LearningMetrics.ReliabilityScore = nil

	res := calc.Compare(a, b)
	require.Len(t, res.Warnings, 2)
	assert.NotContains(t, res.Dimensions, models.SimIndicators)
	assert.NotContains(t, res.Dimensions, models.SimReliability)
	assert.InDelta(t, 1.0, res.Score, 1e-12)
}

func TestCompareNilIsNeutral(t *testing.T) {
	res := NewCalculator().Compare(nil, newPattern("a", models.PatternTrendFollowing, 0.7, 10))
	assert.Equal(t, 0.5, res.Score)
	assert.NotEmpty(t, res.Warnings)
}

func TestCoherence(t *testing.T) {
	calc := NewCalculator()
	a := newPattern("a", models.PatternTrendFollowing, 0.7, 10)
	assert.Equal(t, 1.0, Coherence(calc, []*models.MarketPattern{a}))

	b := a.Clone()
	b.PatternID = "b"
	c := newPattern("c", models.PatternNewsSentiment, 0.2, 10)
	c.Outcomes.SuccessRate = 0.1
	got := Coherence(calc, []*models.MarketPattern{a, b, c})
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
}
