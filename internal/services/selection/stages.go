package selection

import (
	"math"
	"time"

	"PatternEngine/internal/domain/models"
	"PatternEngine/pkg/util"
)

func (e *Engine) filter(ps []*models.MarketPattern, ctx *models.ScoringContext, c models.SelectionCriteria) ([]*models.MarketPattern, []models.Warning) {
	var warnings []models.Warning
	targetHours := -1.0
	if ctx.TargetTimeframe != "" {
		d, err := util.ParseTimeframe(ctx.TargetTimeframe)
		if err != nil {
			warnings = append(warnings, models.Warning{Dimension: "target_timeframe", Reason: err.Error()})
		} else {
			targetHours = d.Hours()
		}
	}

	out := make([]*models.MarketPattern, 0, len(ps))
	for _, p := range ps {
		if p == nil {
			continue
		}
		rel, ok := p.Reliability()
		if !ok || rel < c.ReliabilityFloor() || p.LearningMetrics.ObservationCount < c.ObservationFloor() {
			continue
		}
		if !e.regimeCompatible(p, ctx.CurrentMarketRegime) {
			continue
		}
		if !riskCompatible(p, ctx.RiskTolerance) {
			continue
		}
		if targetHours >= 0 && !temporalCompatible(p, targetHours) {
			continue
		}
		out = append(out, p)
	}
	return out, warnings
}

func (e *Engine) regimeCompatible(p *models.MarketPattern, regime string) bool {
	if regime == "" {
		return true
	}
	aff, ok := p.LearningMetrics.MarketRegimeDependence[regime]
	return !ok || aff >= e.cfg.MinRegimeAffinity
}

func riskCompatible(p *models.MarketPattern, tolerance models.RiskTolerance) bool {
	var maxVol, minDD float64
	var banned int
	switch tolerance {
	case models.RiskLow:
		maxVol, minDD, banned = 0.3, -0.15, models.SeverityHigh.Rank()
	case models.RiskMedium:
		maxVol, minDD, banned = 0.5, -0.3, models.SeverityCritical.Rank()
	default:
		return true
	}
	if p.Outcomes.Volatility > maxVol || p.Outcomes.MaxDrawdown < minDD {
		return false
	}
	for _, rf := range p.Meta.RiskFactors {
		if rf.Severity.Rank() >= banned {
			return false
		}
	}
	return true
}

// temporalCompatible checks the target against the declared duration range.
// Patterns without a declared range always pass.
func temporalCompatible(p *models.MarketPattern, hours float64) bool {
	t := p.Conditions.Temporal
	if t.MinDurationHours <= 0 && t.MaxDurationHours <= 0 {
		return true
	}
	if hours < 0.5*t.MinDurationHours {
		return false
	}
	return t.MaxDurationHours <= 0 || hours <= 2*t.MaxDurationHours
}

// weights applies the requested priorities and renormalises to sum 1.
func (e *Engine) weights(c models.SelectionCriteria) map[string]float64 {
	w := make(map[string]float64, len(e.cfg.Weights))
	for k, v := range e.cfg.Weights {
		w[k] = v
	}
	if c.HasPriority(models.PrioritizePerformance) {
		w[CriterionPerformance] *= 1.5
		w[CriterionReliability] *= 0.8
	}
	if c.HasPriority(models.PrioritizeReliability) {
		w[CriterionReliability] *= 1.5
		w[CriterionPerformance] *= 0.8
	}
	if c.HasPriority(models.PrioritizeFreshness) {
		w[CriterionFreshness] *= 2
	}
	if c.HasPriority(models.PrioritizeRelevance) {
		w[CriterionRelevance] *= 1.5
	}
	total := 0.0
	for _, v := range w {
		total += v
	}
	if total > 0 {
		for k := range w {
			w[k] /= total
		}
	}
	return w
}

func performance(o models.Outcomes) float64 {
	ret := util.Clamp01((o.AvgReturn + 0.1) / 0.2)
	dd := 1 - math.Min(1, math.Abs(o.MaxDrawdown)/0.5)
	return util.Clamp01(0.5*o.SuccessRate + 0.3*ret + 0.2*dd)
}

// relevance scores p under ctx. Scorers that cache per criteria get them.
func (e *Engine) relevance(p *models.MarketPattern, ctx *models.ScoringContext, c *models.SelectionCriteria) models.PatternScore {
	if cs, ok := e.scorer.(criteriaScorer); ok {
		return cs.ScoreWithCriteria(p, ctx, c)
	}
	return e.scorer.Score(p, ctx)
}

func (e *Engine) evaluate(p *models.MarketPattern, ctx *models.ScoringContext, c *models.SelectionCriteria, w map[string]float64, now time.Time) *candidate {
	relevance := e.relevance(p, ctx, c)
	breakdown := map[string]float64{
		CriterionReliability: util.Clamp01(p.ReliabilityOr(0)),
		CriterionRelevance:   relevance.Overall,
		CriterionPerformance: performance(p.Outcomes),
		CriterionFreshness:   math.Exp(-util.DaysBetween(p.LearningMetrics.LastUpdated, now) / e.cfg.FreshnessDecayDays),
	}
	score := w[CriterionReliability]*breakdown[CriterionReliability] +
		w[CriterionRelevance]*breakdown[CriterionRelevance] +
		w[CriterionPerformance]*breakdown[CriterionPerformance] +
		w[CriterionFreshness]*breakdown[CriterionFreshness]
	return &candidate{
		pattern:   p,
		score:     util.Clamp01(score),
		relevance: relevance,
		breakdown: breakdown,
	}
}

// group is greedy single-link, first match wins, in the given order. It is
// order-sensitive and not an optimal clustering; keep it that way.
func (e *Engine) group(cs []*candidate) [][]*candidate {
	var groups [][]*candidate
	for _, c := range cs {
		placed := false
		for gi, g := range groups {
			if len(g) >= e.cfg.MaxGroupSize {
				continue
			}
			for _, m := range g {
				if e.sim.Similarity(c.pattern, m.pattern) >= e.cfg.GroupThreshold {
					groups[gi] = append(groups[gi], c)
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, []*candidate{c})
		}
	}
	return groups
}

func (e *Engine) coherence(g []*candidate) float64 {
	var sum float64
	var n int
	for i := 0; i < len(g); i++ {
		for j := i + 1; j < len(g); j++ {
			sum += e.sim.Similarity(g[i].pattern, g[j].pattern)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// consolidate merges a coherent group into one enhanced candidate.
func (e *Engine) consolidate(g []*candidate, ctx *models.ScoringContext, crit *models.SelectionCriteria, w map[string]float64, now time.Time) (*candidate, float64, bool) {
	coh := e.coherence(g)
	if coh <= e.cfg.CoherenceThreshold {
		return nil, 0, false
	}
	members := make([]*models.MarketPattern, len(g))
	for i, c := range g {
		members[i] = c.pattern
	}
	merged, err := e.merger.Merge(members)
	if err != nil || merged == nil {
		return nil, 0, false
	}
	enhanced := merged.Clone()
	rel := util.Clamp01(enhanced.ReliabilityOr(0) + e.cfg.CoherenceBonus*coh)
	enhanced.LearningMetrics.ReliabilityScore = models.Float(rel)
	enhanced.Meta.RelatedPatterns = models.PatternIDs(members)

	c := e.evaluate(enhanced, ctx, crit, w, now)
	c.consolidated = true
	c.sources = enhanced.Meta.RelatedPatterns
	c.coherence = coh
	return c, coh, true
}

// diversify subtracts weight times the mean similarity to every other pooled
// candidate. Penalties are computed from the undiversified pool.
func (e *Engine) diversify(pool []*candidate, weight float64) {
	penalties := make([]float64, len(pool))
	for i := range pool {
		sum := 0.0
		for j := range pool {
			if i != j {
				sum += e.sim.Similarity(pool[i].pattern, pool[j].pattern)
			}
		}
		penalties[i] = weight * sum / float64(len(pool)-1)
	}
	for i, c := range pool {
		c.score = util.Clamp01(c.score - penalties[i])
	}
}
