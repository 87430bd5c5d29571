package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternEngine/internal/domain/models"
)

var now = time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

func newEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return now }))
}

func newPattern(id string, rel float64, obs int) *models.MarketPattern {
	return &models.MarketPattern{
		PatternID:   id,
		PatternType: models.PatternTrendFollowing,
		Conditions: models.Conditions{
			TechnicalIndicators: map[string]models.IndicatorCondition{
				"rsi": {Threshold: 60, Min: models.Float(50), Max: models.Float(70), Weight: 1},
			},
		},
		Outcomes: models.Outcomes{SuccessRate: 0.7, AvgReturn: 0.04, Volatility: 0.2, MaxDrawdown: -0.1},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: obs,
			LastUpdated:      now.Add(-48 * time.Hour),
			ReliabilityScore: models.Float(rel),
		},
	}
}

func TestScoreRegimeSpecialistBoost(t *testing.T) {
	p := newPattern("p", 0.8, 25)
	p.LearningMetrics.MarketRegimeDependence = map[string]float64{"bull": 0.9, "bear": 0.2}

	s := newEngine().Score(p, &models.ScoringContext{CurrentMarketRegime: "bull"})
	assert.GreaterOrEqual(t, s.DimensionScores[models.DimMarketRegimeAlignment], 0.9)
	assert.Equal(t, 1.0, s.DimensionScores[models.DimMarketRegimeAlignment])

	// two strong regimes: no specialist boost
	p.LearningMetrics.MarketRegimeDependence["sideways"] = 0.8
	s = newEngine().Score(p, &models.ScoringContext{CurrentMarketRegime: "bull"})
	assert.InDelta(t, 0.9, s.DimensionScores[models.DimMarketRegimeAlignment], 1e-12)
}

func TestScoreInapplicableDimensionsAreDefaulted(t *testing.T) {
	p := newPattern("p", 0.8, 25)
	s := newEngine().Score(p, nil)

	assert.True(t, s.Defaulted())
	assert.Equal(t, []string{models.DimTemporalProximity, models.DimConfidenceAdjustment}, s.Metadata.Applied)
	for _, d := range []string{models.DimFeatureSimilarity, models.DimOutcomeCorrelation, models.DimMarketRegimeAlignment, models.DimVolatilityEnvironment} {
		assert.Equal(t, 0.5, s.DimensionScores[d], d)
	}

	temporal := math.Exp(-0.2)
	conf := 0.8 * (1 - 1/5.0)
	want := (0.2*temporal + 0.1*conf) / 0.3
	assert.InDelta(t, want, s.Overall, 1e-9)
}

func TestScoreAllDimensions(t *testing.T) {
	p := newPattern("p", 0.9, 100)
	p.LearningMetrics.LastUpdated = now
	p.LearningMetrics.MarketRegimeDependence = map[string]float64{"bull": 0.9}
	ctx := &models.ScoringContext{
		CurrentMarketRegime: "bull",
		CurrentVolatility:   models.Float(0.23),
		Features:            map[string]float64{"rsi": 65, "unknown": 1},
		ExpectedSuccessRate: models.Float(0.7),
		ExpectedReturn:      models.Float(0.04),
		ExpectedVolatility:  models.Float(0.2),
	}
	s := newEngine().Score(p, ctx)

	assert.Empty(t, s.Metadata.Warnings)
	assert.Equal(t, 1.0, s.DimensionScores[models.DimFeatureSimilarity])
	assert.Equal(t, 1.0, s.DimensionScores[models.DimTemporalProximity])
	assert.InDelta(t, 1.0, s.DimensionScores[models.DimOutcomeCorrelation], 1e-12)
	assert.Equal(t, 1.0, s.DimensionScores[models.DimMarketRegimeAlignment])
	assert.InDelta(t, 0.85*1.1, s.DimensionScores[models.DimVolatilityEnvironment], 1e-9)
	assert.InDelta(t, 0.81, s.DimensionScores[models.DimConfidenceAdjustment], 1e-9)
	assert.LessOrEqual(t, s.ConfidenceInterval.Lower, s.Overall)
	assert.GreaterOrEqual(t, s.ConfidenceInterval.Upper, s.Overall)
	assert.LessOrEqual(t, s.ConfidenceInterval.Upper, 1.0)
}

func TestScoreTemporalCutoff(t *testing.T) {
	p := newPattern("p", 0.8, 25)
	p.LearningMetrics.LastUpdated = now.Add(-31 * 24 * time.Hour)
	s := newEngine().Score(p, nil)
	assert.Equal(t, 0.0, s.DimensionScores[models.DimTemporalProximity])
}

func TestFeatureSimilarityOutsideRange(t *testing.T) {
	p := newPattern("p", 0.8, 25)
	s := newEngine().Score(p, &models.ScoringContext{Features: map[string]float64{"rsi": 80}})
	assert.InDelta(t, 1-20.0/80, s.DimensionScores[models.DimFeatureSimilarity], 1e-12)
}

func TestScoreBatchPreservesOrder(t *testing.T) {
	e := NewEngine(WithClock(func() time.Time { return now }), WithConfig(Config{BatchSize: 3}))
	var patterns []*models.MarketPattern
	for i := 0; i < 8; i++ {
		patterns = append(patterns, newPattern(string(rune('a'+i)), 0.5+float64(i)/20, 10+i))
	}
	var calls []int
	out := e.ScoreBatch(patterns, nil, func(done, total int) {
		assert.Equal(t, 8, total)
		calls = append(calls, done)
	})
	require.Len(t, out, 8)
	for i, sp := range out {
		assert.Equal(t, patterns[i].PatternID, sp.Score.Metadata.PatternID)
		assert.Same(t, patterns[i], sp.Pattern)
	}
	assert.Equal(t, []int{3, 6, 8}, calls)
}

func TestBatchSizeCapped(t *testing.T) {
	e := NewEngine(WithConfig(Config{BatchSize: 5000}))
	assert.Equal(t, 1000, e.Config().BatchSize)
}

type idSimilarity map[string]float64

func (s idSimilarity) Similarity(a, b *models.MarketPattern) float64 {
	if v, ok := s[a.PatternID+b.PatternID]; ok {
		return v
	}
	return s[b.PatternID+a.PatternID]
}

func scored(id string, overall, width float64) models.ScoredPattern {
	return models.ScoredPattern{
		Pattern: &models.MarketPattern{PatternID: id},
		Score: models.PatternScore{
			Overall:            overall,
			ConfidenceInterval: models.Interval{Lower: overall - width/2, Upper: overall + width/2},
			Metadata:           models.ScoreMetadata{PatternID: id},
		},
	}
}

func TestSelectTop(t *testing.T) {
	e := newEngine()
	in := []models.ScoredPattern{
		scored("low", 0.2, 0.1),
		scored("a", 0.800, 0.4),
		scored("b", 0.795, 0.1),
		scored("c", 0.6, 0.1),
	}

	top := e.SelectTop(in, TopOptions{K: 2, MinScore: 0.3})
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].PatternID, "near tie goes to the narrower interval")
	assert.Equal(t, "a", top[1].PatternID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 2, top[1].Rank)

	all := e.SelectTop(in, TopOptions{MinScore: 0.3})
	assert.Len(t, all, 3)
}

func TestSelectTopDiversity(t *testing.T) {
	e := newEngine()
	in := []models.ScoredPattern{
		scored("a", 0.9, 0.1),
		scored("b", 0.85, 0.1),
		scored("c", 0.7, 0.1),
	}
	sim := idSimilarity{"ab": 0.95, "ac": 0.1, "bc": 0.1}

	top := e.SelectTop(in, TopOptions{K: 2, Diversity: true, DiversityWeight: 0.5, Similarity: sim})
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].PatternID)
	assert.Equal(t, "c", top[1].PatternID)
	assert.InDelta(t, 0.65, top[1].AdjustedScore, 1e-12)
}
