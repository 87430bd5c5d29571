package selection

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternEngine/internal/domain/models"
	"PatternEngine/internal/services/scoring"
	"PatternEngine/internal/services/similarity"
)

var now = time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newEngine() *Engine {
	return NewEngine(
		scoring.NewEngine(scoring.WithClock(clock)),
		similarity.NewCalculator(),
		similarity.NewMerger(similarity.WithClock(clock)),
		WithClock(clock),
	)
}

func newPattern(id string, typ models.PatternType, rel float64, obs int) *models.MarketPattern {
	return &models.MarketPattern{
		PatternID:   id,
		PatternType: typ,
		Conditions: models.Conditions{
			TechnicalIndicators: map[string]models.IndicatorCondition{"rsi": {Threshold: 60, Weight: 1}},
			MarketConditions: map[string]models.ConditionValue{
				models.ConditionMarketRegime: models.LabelValue("bull"),
			},
			Temporal: models.TemporalConstraints{MinDurationHours: 2, MaxDurationHours: 24},
		},
		Outcomes: models.Outcomes{SuccessRate: 0.7, AvgReturn: 0.03, Volatility: 0.2, MaxDrawdown: -0.1},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: obs,
			LastUpdated:      now.Add(-24 * time.Hour),
			ReliabilityScore: models.Float(rel),
		},
	}
}

var types = []models.PatternType{
	models.PatternTechnicalBreakout,
	models.PatternMeanReversion,
	models.PatternNewsSentiment,
	models.PatternVolumeAnomaly,
}

func TestSelectRespectsMaxAndFilters(t *testing.T) {
	var in []*models.MarketPattern
	passing := map[string]bool{}
	for i := 0; i < 20; i++ {
		rel := 0.3 + float64(i%8)*0.09
		obs := 2 + i
		p := newPattern(fmt.Sprintf("p%02d", i), types[i%len(types)], rel, obs)
		p.Outcomes.SuccessRate = 0.3 + float64(i%5)*0.15
		p.Outcomes.AvgReturn = -0.05 + float64(i%7)*0.02
		in = append(in, p)
		if rel >= 0.5 && obs >= 5 {
			passing[p.PatternID] = true
		}
	}

	res := newEngine().Select(in, &models.ScoringContext{CurrentMarketRegime: "bull"}, models.SelectionCriteria{MaxPatterns: 5})
	require.NotEmpty(t, res.Patterns)
	assert.LessOrEqual(t, len(res.Patterns), 5)
	assert.Equal(t, 20, res.Stats.Input)
	assert.Equal(t, len(passing), res.Stats.Filtered)

	for i, sp := range res.Patterns {
		assert.Equal(t, i+1, sp.Rank)
		if i > 0 {
			assert.LessOrEqual(t, sp.OverallScore, res.Patterns[i-1].OverallScore)
		}
		if sp.Consolidated {
			for _, id := range sp.SourceIDs {
				assert.True(t, passing[id], id)
			}
			continue
		}
		assert.True(t, passing[sp.PatternID], sp.PatternID)
		assert.GreaterOrEqual(t, sp.Pattern.ReliabilityOr(0), 0.5)
		assert.GreaterOrEqual(t, sp.Pattern.LearningMetrics.ObservationCount, 5)
	}
	assert.Greater(t, res.SelectionConfidence, 0.0)
	assert.LessOrEqual(t, res.SelectionConfidence, 1.0)
}

func TestSelectHonoursExplicitZeroThresholds(t *testing.T) {
	var in []*models.MarketPattern
	for i := 0; i < 20; i++ {
		in = append(in, newPattern(fmt.Sprintf("p%02d", i), types[i%len(types)], 0.3+float64(i%8)*0.09, 2+i))
	}

	var criteria models.SelectionCriteria
	require.NoError(t, json.Unmarshal([]byte(`{"max_patterns":5,"min_reliability":0,"min_observations":0}`), &criteria))
	res := newEngine().Select(in, nil, criteria)
	assert.Equal(t, 20, res.Stats.Filtered)
	assert.LessOrEqual(t, len(res.Patterns), 5)

	res = newEngine().Select(in, nil, models.SelectionCriteria{MaxPatterns: 5})
	assert.Equal(t, 10, res.Stats.Filtered)
}

type criteriaRecorder struct {
	*scoring.Engine
	seen []any
}

func (r *criteriaRecorder) ScoreWithCriteria(p *models.MarketPattern, ctx *models.ScoringContext, criteria any) models.PatternScore {
	r.seen = append(r.seen, criteria)
	return r.Score(p, ctx)
}

func TestSelectPassesCriteriaToScorer(t *testing.T) {
	rec := &criteriaRecorder{Engine: scoring.NewEngine(scoring.WithClock(clock))}
	e := NewEngine(rec, similarity.NewCalculator(), similarity.NewMerger(similarity.WithClock(clock)), WithClock(clock))
	off := false
	criteria := models.SelectionCriteria{MaxPatterns: 3, Consolidate: &off}

	e.Select([]*models.MarketPattern{newPattern("a", models.PatternTrendFollowing, 0.8, 10)}, nil, criteria)
	require.Len(t, rec.seen, 1)
	got, ok := rec.seen[0].(*models.SelectionCriteria)
	require.True(t, ok)
	assert.Equal(t, 3, got.MaxPatterns)
}

func TestSelectConsolidatesCoherentGroup(t *testing.T) {
	a := newPattern("a", models.PatternTrendFollowing, 0.7, 10)
	b := newPattern("b", models.PatternTrendFollowing, 0.72, 12)
	c := newPattern("c", models.PatternTrendFollowing, 0.71, 8)
	other := newPattern("z", models.PatternVolumeAnomaly, 0.9, 40)
	other.Conditions.TechnicalIndicators = map[string]models.IndicatorCondition{"obv": {Threshold: 1e6, Weight: 1}}
	other.Conditions.MarketConditions[models.ConditionMarketRegime] = models.LabelValue("bear")
	other.Outcomes = models.Outcomes{SuccessRate: 0.2, AvgReturn: -0.15, Volatility: 0.45, MaxDrawdown: -0.25}

	res := newEngine().Select([]*models.MarketPattern{a, b, c, other}, nil, models.SelectionCriteria{})
	assert.Equal(t, 2, res.Stats.Groups)
	assert.Equal(t, 1, res.Stats.Consolidated)
	assert.Equal(t, 2, res.Stats.Candidates)
	require.Len(t, res.Patterns, 2)

	var merged *models.SelectedPattern
	for i := range res.Patterns {
		if res.Patterns[i].Consolidated {
			merged = &res.Patterns[i]
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, []string{"a", "b", "c"}, merged.SourceIDs)
	assert.Equal(t, 30, merged.Pattern.LearningMetrics.ObservationCount)
	assert.Greater(t, merged.Pattern.ReliabilityOr(0), 0.75)

	// inputs are not modified
	assert.Equal(t, 0.7, a.ReliabilityOr(0))
}

func TestSelectWithoutConsolidation(t *testing.T) {
	a := newPattern("a", models.PatternTrendFollowing, 0.7, 10)
	b := newPattern("b", models.PatternTrendFollowing, 0.72, 12)
	off := false

	res := newEngine().Select([]*models.MarketPattern{a, b}, nil, models.SelectionCriteria{Consolidate: &off})
	assert.Equal(t, 0, res.Stats.Consolidated)
	assert.Len(t, res.Patterns, 2)
}

func TestSelectNothingPasses(t *testing.T) {
	res := newEngine().Select([]*models.MarketPattern{newPattern("a", models.PatternTrendFollowing, 0.1, 1)}, nil, models.SelectionCriteria{})
	assert.Empty(t, res.Patterns)
	assert.Equal(t, 0.0, res.SelectionConfidence)
}

func TestFilterRiskRegimeAndTimeframe(t *testing.T) {
	e := newEngine()
	calm := newPattern("calm", models.PatternTrendFollowing, 0.8, 10)
	wild := newPattern("wild", models.PatternTrendFollowing, 0.8, 10)
	wild.Outcomes.Volatility = 0.4
	flagged := newPattern("flagged", models.PatternTrendFollowing, 0.8, 10)
	flagged.Meta.RiskFactors = []models.RiskFactor{{Name: "liquidity", Severity: models.SeverityHigh}}
	bearish := newPattern("bearish", models.PatternTrendFollowing, 0.8, 10)
	bearish.LearningMetrics.MarketRegimeDependence = map[string]float64{"bull": 0.1}
	slow := newPattern("slow", models.PatternTrendFollowing, 0.8, 10)
	slow.Conditions.Temporal = models.TemporalConstraints{MinDurationHours: 200, MaxDurationHours: 400}
	in := []*models.MarketPattern{calm, wild, flagged, bearish, slow}
	criteria := models.SelectionCriteria{MinReliability: models.Float(0.5), MinObservations: models.Int(5)}

	low := &models.ScoringContext{RiskTolerance: models.RiskLow, CurrentMarketRegime: "bull", TargetTimeframe: "1d"}
	out, warnings := e.filter(in, low, criteria)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"calm"}, ids(out))

	medium := &models.ScoringContext{RiskTolerance: models.RiskMedium}
	out, _ = e.filter(in, medium, criteria)
	assert.Equal(t, []string{"calm", "wild", "flagged", "bearish", "slow"}, ids(out))

	bad := &models.ScoringContext{TargetTimeframe: "soon"}
	out, warnings = e.filter(in, bad, criteria)
	assert.Len(t, out, 5)
	require.Len(t, warnings, 1)
	assert.Equal(t, "target_timeframe", warnings[0].Dimension)
}

func ids(ps []*models.MarketPattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.PatternID
	}
	return out
}

func TestPriorityWeightsRenormalised(t *testing.T) {
	e := newEngine()
	w := e.weights(models.SelectionCriteria{Priorities: []string{models.PrioritizePerformance}})
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, w[CriterionPerformance], 0.25)
	assert.Less(t, w[CriterionReliability], 0.30)

	base := e.weights(models.SelectionCriteria{})
	assert.InDelta(t, 0.35, base[CriterionRelevance], 1e-12)
}

type pairSimilarity map[[2]string]float64

func (s pairSimilarity) Similarity(a, b *models.MarketPattern) float64 {
	if v, ok := s[[2]string{a.PatternID, b.PatternID}]; ok {
		return v
	}
	return s[[2]string{b.PatternID, a.PatternID}]
}

func TestGroupIsSingleLinkFirstMatch(t *testing.T) {
	sim := pairSimilarity{
		{"a", "b"}: 0.1,
		{"a", "c"}: 0.8,
		{"b", "c"}: 0.9,
		{"c", "d"}: 0.75,
	}
	e := NewEngine(nil, sim, nil)
	cands := []*candidate{
		{pattern: &models.MarketPattern{PatternID: "a"}},
		{pattern: &models.MarketPattern{PatternID: "b"}},
		{pattern: &models.MarketPattern{PatternID: "c"}},
		{pattern: &models.MarketPattern{PatternID: "d"}},
	}
	groups := e.group(cands)
	require.Len(t, groups, 2)
	// c joins the first group it links to even though b is closer
	assert.Len(t, groups[0], 3)
	assert.Equal(t, "d", groups[0][2].pattern.PatternID)
	assert.Equal(t, "b", groups[1][0].pattern.PatternID)
}

func TestPerformance(t *testing.T) {
	got := performance(models.Outcomes{SuccessRate: 1, AvgReturn: 0.1, MaxDrawdown: 0})
	assert.InDelta(t, 1.0, got, 1e-12)
	got = performance(models.Outcomes{SuccessRate: 0, AvgReturn: -0.5, MaxDrawdown: -0.9})
	assert.Equal(t, 0.0, got)
}
