package models

// SimilarityRequest asks for the pairwise similarity of two patterns.
type SimilarityRequest struct {
	A *MarketPattern `json:"a" validate:"required"`
	B *MarketPattern `json:"b" validate:"required"`
}

// MergeRequest asks for a single pattern consolidated from Patterns.
type MergeRequest struct {
	Patterns []*MarketPattern `json:"patterns" validate:"required,min=1,dive,required"`
}

// ScoreRequest scores a batch and returns the top entries.
type ScoreRequest struct {
	Patterns        []*MarketPattern `json:"patterns" validate:"required,min=1,max=1000,dive,required"`
	Context         *ScoringContext  `json:"context"`
	TopK            int              `json:"top_k" validate:"gte=0"`
	MinScore        float64          `json:"min_score" validate:"gte=0,lte=1"`
	Diversity       bool             `json:"diversity"`
	DiversityWeight float64          `json:"diversity_weight" default:"0.3" validate:"gte=0,lte=1"`
}

// SelectRequest runs the full selection pipeline.
type SelectRequest struct {
	Patterns []*MarketPattern  `json:"patterns" validate:"required,min=1,dive,required"`
	Context  *ScoringContext   `json:"context"`
	Criteria SelectionCriteria `json:"criteria"`
}

// ConsolidateRequest groups and merges raw observations.
type ConsolidateRequest struct {
	Kind         string           `json:"kind"`
	Observations []*MarketPattern `json:"observations" validate:"required,min=1,dive,required"`
}

// ClusterRequest clusters outcome records. With Discover set, each usable
// cluster is also turned into a candidate pattern.
type ClusterRequest struct {
	Records  []OutcomeRecord `json:"records" validate:"required,min=1"`
	Discover bool            `json:"discover"`
}

// ClusterResponse is returned by the outcome clustering endpoint.
type ClusterResponse struct {
	Result     ClusterResult    `json:"result"`
	Discovered []*MarketPattern `json:"discovered,omitempty"`
}

// ScoreResponse carries the full batch and the ranked top entries.
type ScoreResponse struct {
	Scores []PatternScore  `json:"scores"`
	Top    []RankedPattern `json:"top"`
}

// TopRequest lists stored patterns of Kind, most reliable first.
type TopRequest struct {
	Kind  string `query:"kind" json:"kind" default:"consolidated_pattern" validate:"oneof=consolidated_pattern discovered_pattern"`
	Limit int64  `query:"limit" json:"limit" default:"10" validate:"gte=1,lte=100"`
}
