package scoring

import (
	"math"
	"sort"
	"time"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/util"
)

const neutral = 0.5

// primaryDimensions feed the confidence interval spread.
var primaryDimensions = []string{
	models.DimFeatureSimilarity,
	models.DimTemporalProximity,
	models.DimOutcomeCorrelation,
	models.DimMarketRegimeAlignment,
	models.DimVolatilityEnvironment,
}

var allDimensions = append(append([]string(nil), primaryDimensions...), models.DimConfidenceAdjustment)

// Engine scores patterns against a query context. It is stateless apart from
// its configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{cfg: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

type dimension struct {
	value   float64
	applied bool
	reason  string
}

func applied(v float64) dimension { return dimension{value: util.Clamp01(v), applied: true} }

func defaulted(reason string) dimension { return dimension{value: neutral, reason: reason} }

// Score computes the blended score of p for ctx. Dimensions whose input is
// missing are reported at 0.5 with a warning and left out of the blend.
func (e *Engine) Score(p *models.MarketPattern, ctx *models.ScoringContext) models.PatternScore {
	if ctx == nil {
		ctx = &models.ScoringContext{}
	}
	now := e.now()
	score := models.PatternScore{
		DimensionScores: make(map[string]float64, len(allDimensions)),
		Metadata:        models.ScoreMetadata{CalculatedAt: now},
	}
	if p == nil {
		score.Overall = neutral
		score.ConfidenceInterval = models.Interval{Lower: 0, Upper: 1}
		score.Metadata.Warnings = []models.Warning{{Dimension: "pattern", Reason: "nil pattern"}}
		for _, d := range allDimensions {
			score.DimensionScores[d] = neutral
		}
		return score
	}
	score.Metadata.PatternID = p.PatternID
	score.Metadata.ObservationCount = p.LearningMetrics.ObservationCount

	dims := map[string]dimension{
		models.DimFeatureSimilarity:     e.featureSimilarity(p, ctx),
		models.DimTemporalProximity:     e.temporalProximity(p, now),
		models.DimOutcomeCorrelation:    e.outcomeCorrelation(p, ctx),
		models.DimMarketRegimeAlignment: e.regimeAlignment(p, ctx),
		models.DimVolatilityEnvironment: e.volatilityEnvironment(p, ctx),
		models.DimConfidenceAdjustment:  e.confidenceAdjustment(p),
	}

	var wsum, total float64
	for _, name := range allDimensions {
		d := dims[name]
		score.DimensionScores[name] = d.value
		if !d.applied {
			score.Metadata.Warnings = append(score.Metadata.Warnings, models.Warning{Dimension: name, Reason: d.reason})
			continue
		}
		score.Metadata.Applied = append(score.Metadata.Applied, name)
		w := e.cfg.Weights[name]
		wsum += w
		total += w * d.value
	}
	if wsum > 0 {
		score.Overall = util.Clamp01(total / wsum)
	} else {
		score.Overall = neutral
	}

	primary := make([]float64, 0, len(primaryDimensions))
	for _, name := range primaryDimensions {
		primary = append(primary, score.DimensionScores[name])
	}
	sampleErr := 1 / math.Sqrt(math.Max(float64(p.LearningMetrics.ObservationCount), 1))
	sigma := math.Sqrt(util.Variance(primary) + sampleErr*sampleErr)
	score.ConfidenceInterval = models.Interval{
		Lower: util.Clamp01(score.Overall - 1.96*sigma),
		Upper: util.Clamp01(score.Overall + 1.96*sigma),
	}
	return score
}

func (e *Engine) featureSimilarity(p *models.MarketPattern, ctx *models.ScoringContext) dimension {
	if len(ctx.Features) == 0 {
		return defaulted("context has no features")
	}
	names := make([]string, 0, len(ctx.Features))
	for name := range ctx.Features {
		if _, ok := p.Conditions.TechnicalIndicators[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return defaulted("no shared indicators")
	}
	sort.Strings(names)

	var wsum, total, plain float64
	for _, name := range names {
		ind := p.Conditions.TechnicalIndicators[name]
		s := indicatorMatch(ctx.Features[name], ind)
		plain += s
		wsum += ind.Weight
		total += ind.Weight * s
	}
	if wsum == 0 {
		return applied(plain / float64(len(names)))
	}
	return applied(total / wsum)
}

func indicatorMatch(v float64, ind models.IndicatorCondition) float64 {
	if ind.Min != nil || ind.Max != nil {
		inside := (ind.Min == nil || v >= *ind.Min) && (ind.Max == nil || v <= *ind.Max)
		if inside {
			return 1
		}
	}
	den := math.Max(math.Abs(v), math.Abs(ind.Threshold))
	if den == 0 {
		return 1
	}
	return util.Clamp01(1 - math.Abs(v-ind.Threshold)/den)
}

func (e *Engine) temporalProximity(p *models.MarketPattern, now time.Time) dimension {
	if p.LearningMetrics.LastUpdated.IsZero() {
		return defaulted("last update unknown")
	}
	days := util.DaysBetween(p.LearningMetrics.LastUpdated, now)
	if days > e.cfg.TemporalCutoffDays {
		return applied(0)
	}
	return applied(math.Exp(-e.cfg.TemporalDecay * days))
}

func (e *Engine) outcomeCorrelation(p *models.MarketPattern, ctx *models.ScoringContext) dimension {
	if !ctx.HasExpectations() {
		return defaulted("context has no outcome expectations")
	}
	o := p.Outcomes
	var wsum, total float64
	if ctx.ExpectedSuccessRate != nil {
		wsum += e.cfg.OutcomeSuccessWeight
		total += e.cfg.OutcomeSuccessWeight * util.Clamp01(1-math.Abs(o.SuccessRate-*ctx.ExpectedSuccessRate))
	}
	if ctx.ExpectedReturn != nil {
		wsum += e.cfg.OutcomeReturnWeight
		total += e.cfg.OutcomeReturnWeight * util.Clamp01(1-math.Abs(o.AvgReturn-*ctx.ExpectedReturn)/e.cfg.ReturnRange)
	}
	if ctx.ExpectedVolatility != nil {
		wsum += e.cfg.OutcomeVolatilityWeight
		total += e.cfg.OutcomeVolatilityWeight * util.Clamp01(1-math.Abs(o.Volatility-*ctx.ExpectedVolatility)/e.cfg.OutcomeVolatilityRange)
	}
	return applied(total / wsum)
}

func (e *Engine) regimeAlignment(p *models.MarketPattern, ctx *models.ScoringContext) dimension {
	if ctx.CurrentMarketRegime == "" {
		return defaulted("context has no market regime")
	}
	deps := p.LearningMetrics.MarketRegimeDependence
	aff, ok := deps[ctx.CurrentMarketRegime]
	if !ok {
		return defaulted("no affinity for regime " + ctx.CurrentMarketRegime)
	}
	if specialist, isSpecialist := specialistRegime(deps, e.cfg.SpecialistThreshold); isSpecialist && specialist == ctx.CurrentMarketRegime {
		aff *= e.cfg.SpecialistBoost
	}
	return applied(aff)
}

// specialistRegime returns the only regime whose affinity exceeds threshold.
func specialistRegime(deps map[string]float64, threshold float64) (string, bool) {
	var found string
	n := 0
	for regime, aff := range deps {
		if aff > threshold {
			found = regime
			n++
		}
	}
	return found, n == 1
}

func (e *Engine) volatilityEnvironment(p *models.MarketPattern, ctx *models.ScoringContext) dimension {
	if ctx.CurrentVolatility == nil {
		return defaulted("context has no current volatility")
	}
	pv, ok := p.ConditionNumber(models.ConditionVolatility)
	if !ok {
		pv = p.Outcomes.Volatility
	}
	diff := math.Abs(pv - *ctx.CurrentVolatility)
	s := math.Max(0, 1-diff/e.cfg.VolatilityRange)
	if diff < e.cfg.VolatilityMatchBand {
		s *= e.cfg.VolatilityMatchBoost
	}
	return applied(s)
}

func (e *Engine) confidenceAdjustment(p *models.MarketPattern) dimension {
	rel, ok := p.Reliability()
	if !ok {
		return defaulted("reliability undefined")
	}
	n := math.Max(float64(p.LearningMetrics.ObservationCount), 1)
	return applied(rel * (1 - 1/math.Sqrt(n)))
}

var _ domsvc.PatternScorer = (*Engine)(nil)
