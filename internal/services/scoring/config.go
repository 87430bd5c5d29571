package scoring

import "PatternEngine/internal/domain/models"

// Config holds the weights and heuristic boosts of the scoring function.
// Every value is a default, not a derived constant.
type Config struct {
	Weights map[string]float64

	TemporalDecay      float64 // per day
	TemporalCutoffDays float64

	OutcomeSuccessWeight    float64
	OutcomeReturnWeight     float64
	OutcomeVolatilityWeight float64
	ReturnRange             float64
	OutcomeVolatilityRange  float64

	SpecialistThreshold float64
	SpecialistBoost     float64

	VolatilityRange      float64
	VolatilityMatchBand  float64
	VolatilityMatchBoost float64

	NearTie      float64
	BatchSize    int
	MaxBatchSize int
}

// DefaultWeights returns the default blend of score dimensions.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		models.DimFeatureSimilarity:     0.25,
		models.DimTemporalProximity:     0.20,
		models.DimOutcomeCorrelation:    0.20,
		models.DimMarketRegimeAlignment: 0.15,
		models.DimVolatilityEnvironment: 0.10,
		models.DimConfidenceAdjustment:  0.10,
	}
}

func DefaultConfig() Config {
	return Config{
		Weights:                 DefaultWeights(),
		TemporalDecay:           0.1,
		TemporalCutoffDays:      30,
		OutcomeSuccessWeight:    0.4,
		OutcomeReturnWeight:     0.35,
		OutcomeVolatilityWeight: 0.25,
		ReturnRange:             0.2,
		OutcomeVolatilityRange:  0.5,
		SpecialistThreshold:     0.7,
		SpecialistBoost:         1.2,
		VolatilityRange:         0.2,
		VolatilityMatchBand:     0.05,
		VolatilityMatchBoost:    1.1,
		NearTie:                 0.01,
		BatchSize:               50,
		MaxBatchSize:            1000,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Weights) == 0 {
		c.Weights = d.Weights
	}
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.TemporalDecay, d.TemporalDecay)
	fill(&c.TemporalCutoffDays, d.TemporalCutoffDays)
	fill(&c.OutcomeSuccessWeight, d.OutcomeSuccessWeight)
	fill(&c.OutcomeReturnWeight, d.OutcomeReturnWeight)
	fill(&c.OutcomeVolatilityWeight, d.OutcomeVolatilityWeight)
	fill(&c.ReturnRange, d.ReturnRange)
	fill(&c.OutcomeVolatilityRange, d.OutcomeVolatilityRange)
	fill(&c.SpecialistThreshold, d.SpecialistThreshold)
	fill(&c.SpecialistBoost, d.SpecialistBoost)
	fill(&c.VolatilityRange, d.VolatilityRange)
	fill(&c.VolatilityMatchBand, d.VolatilityMatchBand)
	fill(&c.VolatilityMatchBoost, d.VolatilityMatchBoost)
	fill(&c.NearTie, d.NearTie)
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchSize > c.MaxBatchSize {
		c.BatchSize = c.MaxBatchSize
	}
	return c
}
