package clustering

import (
	"math"

	"PatternEngine/internal/domain/models"
	"PatternEngine/pkg/util"
)

const hoursPerWeek = 168

// Vectorize maps records onto [0,1]^Dimensions. Categorical fields are coded
// by first appearance and divided by their category count.
func Vectorize(records []models.OutcomeRecord) [][]float64 {
	strategies := newEncoder()
	regimes := newEncoder()
	assets := newEncoder()
	for _, r := range records {
		strategies.add(r.Strategy)
		regimes.add(r.MarketRegime)
		assets.add(r.AssetClass)
	}

	out := make([][]float64, len(records))
	for i, r := range records {
		out[i] = []float64{
			util.Clamp01(finite(r.SuccessRate)),
			util.Clamp01((finite(r.ProfitLoss) + 1) / 2),
			util.Clamp01(finite(r.Volatility)),
			util.Clamp01(math.Abs(finite(r.MaxDrawdown))),
			util.Clamp01((finite(r.SharpeRatio) + 3) / 6),
			util.Clamp01(finite(r.WinRate)),
			util.Clamp01(finite(r.TradeDurationHours) / hoursPerWeek),
			strategies.value(r.Strategy),
			regimes.value(r.MarketRegime),
			assets.value(r.AssetClass),
		}
	}
	return out
}

func finite(v float64) float64 {
	if !util.IsFinite(v) {
		return 0
	}
	return v
}

type encoder struct {
	codes map[string]int
}

func newEncoder() *encoder { return &encoder{codes: make(map[string]int)} }

func (e *encoder) add(s string) {
	if _, ok := e.codes[s]; !ok {
		e.codes[s] = len(e.codes)
	}
}

func (e *encoder) value(s string) float64 {
	if len(e.codes) == 0 {
		return 0
	}
	return float64(e.codes[s]) / float64(len(e.codes))
}
