package models

import "time"

// Score dimension names.
const (
	DimFeatureSimilarity     = "feature_similarity"
	DimTemporalProximity     = "temporal_proximity"
	DimOutcomeCorrelation    = "outcome_correlation"
	DimMarketRegimeAlignment = "market_regime_alignment"
	DimVolatilityEnvironment = "volatility_environment"
	DimConfidenceAdjustment  = "confidence_adjustment"
)

// Similarity dimension names.
const (
	SimType        = "pattern_type"
	SimIndicators  = "technical_indicators"
	SimConditions  = "market_conditions"
	SimOutcomes    = "outcomes"
	SimReliability = "reliability"
)

// Warning marks a value that was defaulted rather than computed.
type Warning struct {
	Dimension string `json:"dimension"`
	Reason    string `json:"reason"`
}

// SimilarityResult is a pairwise similarity with its per-dimension breakdown.
// Dimensions only holds the dimensions that had comparable data.
type SimilarityResult struct {
	Score      float64            `json:"score"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	Warnings   []Warning          `json:"warnings,omitempty"`
}

// ScoreMetadata describes how a score was produced.
type ScoreMetadata struct {
	PatternID        string    `json:"pattern_id"`
	ObservationCount int       `json:"observation_count"`
	CalculatedAt     time.Time `json:"calculated_at"`
	Applied          []string  `json:"applied_dimensions"`
	Warnings         []Warning `json:"warnings,omitempty"`
}

// PatternScore is the result of scoring one pattern against a context.
type PatternScore struct {
	Overall            float64            `json:"overall_score"`
	DimensionScores    map[string]float64 `json:"dimension_scores"`
	ConfidenceInterval Interval           `json:"confidence_interval"`
	Metadata           ScoreMetadata      `json:"metadata"`
}

// Defaulted reports whether any dimension fell back to a neutral value.
func (s PatternScore) Defaulted() bool { return len(s.Metadata.Warnings) > 0 }

// Clone returns a deep copy of s.
func (s PatternScore) Clone() PatternScore {
	c := s
	if s.DimensionScores != nil {
		c.DimensionScores = make(map[string]float64, len(s.DimensionScores))
		for k, v := range s.DimensionScores {
			c.DimensionScores[k] = v
		}
	}
	c.Metadata.Applied = append([]string(nil), s.Metadata.Applied...)
	c.Metadata.Warnings = append([]Warning(nil), s.Metadata.Warnings...)
	return c
}

// ScoredPattern pairs a pattern with its score.
type ScoredPattern struct {
	Pattern *MarketPattern `json:"-"`
	Score   PatternScore   `json:"score"`
}

// RankedPattern is one entry of a top-K result.
type RankedPattern struct {
	PatternID          string             `json:"pattern_id"`
	OverallScore       float64            `json:"overall_score"`
	AdjustedScore      float64            `json:"adjusted_score"`
	ConfidenceInterval Interval           `json:"confidence_interval"`
	DimensionScores    map[string]float64 `json:"dimension_scores"`
	Rank               int                `json:"rank"`
}

// SelectedPattern is one entry of a selection result.
type SelectedPattern struct {
	PatternID          string             `json:"pattern_id"`
	Pattern            *MarketPattern     `json:"pattern"`
	OverallScore       float64            `json:"overall_score"`
	ConfidenceInterval Interval           `json:"confidence_interval"`
	CriteriaBreakdown  map[string]float64 `json:"criteria_breakdown"`
	Rank               int                `json:"rank"`
	Consolidated       bool               `json:"consolidated"`
	SourceIDs          []string           `json:"source_ids,omitempty"`
}

// SelectionStats counts what each selection stage did.
type SelectionStats struct {
	Input        int `json:"input"`
	Filtered     int `json:"filtered"`
	Groups       int `json:"groups"`
	Consolidated int `json:"consolidated"`
	Candidates   int `json:"candidates"`
}

// SelectionResult is the output of a selection call. A low confidence or an
// empty list signals degraded input rather than an error.
type SelectionResult struct {
	Patterns            []SelectedPattern `json:"patterns"`
	SelectionConfidence float64           `json:"selection_confidence"`
	Stats               SelectionStats    `json:"stats"`
	Warnings            []Warning         `json:"warnings,omitempty"`
}
