package similarity

import (
	"math"
	"sort"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/util"
)

// Normalisation ranges for outcome closeness.
const (
	returnRange     = 0.2
	volatilityRange = 0.5
	neutralScore    = 0.5
)

var dimensionOrder = []string{models.SimType, models.SimIndicators, models.SimConditions, models.SimOutcomes, models.SimReliability}

// Calculator computes pairwise pattern similarity. It holds no state and is
// safe for concurrent use.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

// Similarity returns the overall similarity of a and b in [0,1].
func (c *Calculator) Similarity(a, b *models.MarketPattern) float64 {
	return c.Compare(a, b).Score
}

// Compare returns the overall similarity with its per-dimension breakdown.
// Dimensions without comparable data on both sides are left out of the mean.
func (c *Calculator) Compare(a, b *models.MarketPattern) models.SimilarityResult {
	if a == nil || b == nil {
		return models.SimilarityResult{
			Score:    neutralScore,
			Warnings: []models.Warning{{Dimension: "pattern", Reason: "nil pattern"}},
		}
	}
	if a.PatternID != "" && a.PatternID == b.PatternID {
		return models.SimilarityResult{Score: 1, Dimensions: map[string]float64{models.SimType: 1}}
	}

	dims := make(map[string]float64, 5)
	var warnings []models.Warning

	if a.PatternType != "" && b.PatternType != "" {
		if a.PatternType == b.PatternType {
			dims[models.SimType] = 1
		} else {
			dims[models.SimType] = 0
		}
	} else {
		warnings = append(warnings, models.Warning{Dimension: models.SimType, Reason: "pattern type missing"})
	}

	if v, ok := indicatorSimilarity(a, b); ok {
		dims[models.SimIndicators] = v
	} else {
		warnings = append(warnings, models.Warning{Dimension: models.SimIndicators, Reason: "no shared indicators"})
	}

	if v, ok := conditionSimilarity(a, b); ok {
		dims[models.SimConditions] = v
	} else {
		warnings = append(warnings, models.Warning{Dimension: models.SimConditions, Reason: "no shared market conditions"})
	}

	dims[models.SimOutcomes] = outcomeSimilarity(a.Outcomes, b.Outcomes)

	ra, okA := a.Reliability()
	rb, okB := b.Reliability()
	if okA && okB {
		dims[models.SimReliability] = util.Clamp01(1 - math.Abs(ra-rb))
	} else {
		warnings = append(warnings, models.Warning{Dimension: models.SimReliability, Reason: "reliability undefined"})
	}

	if len(dims) == 0 {
		warnings = append(warnings, models.Warning{Dimension: "overall", Reason: "no comparable dimensions"})
		return models.SimilarityResult{Score: neutralScore, Warnings: warnings}
	}

	sum := 0.0
	for _, d := range dimensionOrder {
		sum += dims[d]
	}
	return models.SimilarityResult{
		Score:      util.Clamp01(sum / float64(len(dims))),
		Dimensions: dims,
		Warnings:   warnings,
	}
}

// closeness returns 1 - |a-b| / max(|a|,|b|), or 1 when both are zero.
func closeness(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 1
	}
	return util.Clamp01(1 - math.Abs(a-b)/den)
}

func indicatorSimilarity(a, b *models.MarketPattern) (float64, bool) {
	names := make([]string, 0, len(a.Conditions.TechnicalIndicators))
	for name := range a.Conditions.TechnicalIndicators {
		if _, ok := b.Conditions.TechnicalIndicators[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, false
	}
	// sorted so the float sum is identical for (a,b) and (b,a)
	sort.Strings(names)
	sum := 0.0
	for _, name := range names {
		sum += closeness(a.Conditions.TechnicalIndicators[name].Threshold, b.Conditions.TechnicalIndicators[name].Threshold)
	}
	return sum / float64(len(names)), true
}

func conditionSimilarity(a, b *models.MarketPattern) (float64, bool) {
	var parts []float64

	ra, rb := a.Regime(), b.Regime()
	if ra != "" && rb != "" {
		if ra == rb {
			parts = append(parts, 1)
		} else {
			parts = append(parts, 0)
		}
	}
	if va, ok := a.ConditionNumber(models.ConditionVolatility); ok {
		if vb, ok := b.ConditionNumber(models.ConditionVolatility); ok {
			parts = append(parts, util.Clamp01(1-math.Abs(va-vb)))
		}
	}
	if va, ok := a.ConditionNumber(models.ConditionVolume); ok {
		if vb, ok := b.ConditionNumber(models.ConditionVolume); ok {
			parts = append(parts, closeness(va, vb))
		}
	}
	if len(parts) == 0 {
		return 0, false
	}
	return util.Mean(parts), true
}

func outcomeSimilarity(a, b models.Outcomes) float64 {
	sr := util.Clamp01(1 - math.Abs(a.SuccessRate-b.SuccessRate))
	ret := util.Clamp01(1 - math.Abs(a.AvgReturn-b.AvgReturn)/returnRange)
	vol := util.Clamp01(1 - math.Abs(a.Volatility-b.Volatility)/volatilityRange)
	return (sr + ret + vol) / 3
}

// Coherence is the mean pairwise similarity within a group. Groups with fewer
// than two members are perfectly coherent.
func Coherence(sim domsvc.SimilarityCalculator, group []*models.MarketPattern) float64 {
	if len(group) < 2 {
		return 1
	}
	var sum float64
	var n int
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			sum += sim.Similarity(group[i], group[j])
			n++
		}
	}
	return sum / float64(n)
}

var _ domsvc.SimilarityCalculator = (*Calculator)(nil)
