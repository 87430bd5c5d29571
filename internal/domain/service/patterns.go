package service

import "PatternEngine/internal/domain/models"

// SimilarityCalculator computes symmetric pairwise similarity in [0,1].
type SimilarityCalculator interface {
	Similarity(a, b *models.MarketPattern) float64
}

// PatternMerger collapses several observations into one pattern.
type PatternMerger interface {
	Merge(patterns []*models.MarketPattern) (*models.MarketPattern, error)
}

// PatternScorer scores one pattern against a query context.
type PatternScorer interface {
	Score(p *models.MarketPattern, ctx *models.ScoringContext) models.PatternScore
}

// OutcomeClusterer groups outcome records.
type OutcomeClusterer interface {
	Cluster(records []models.OutcomeRecord) models.ClusterResult
}
