package selection

import (
	"math"
	"sort"
	"time"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/util"
)

// Criteria breakdown keys.
const (
	CriterionReliability = "reliability"
	CriterionRelevance   = "relevance"
	CriterionPerformance = "performance"
	CriterionFreshness   = "freshness"
)

// Config tunes the selection pipeline.
type Config struct {
	Weights            map[string]float64
	GroupThreshold     float64
	MaxGroupSize       int
	CoherenceThreshold float64
	CoherenceBonus     float64
	MinRegimeAffinity  float64
	FreshnessDecayDays float64
}

func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			CriterionReliability: 0.30,
			CriterionRelevance:   0.35,
			CriterionPerformance: 0.25,
			CriterionFreshness:   0.10,
		},
		GroupThreshold:     0.7,
		MaxGroupSize:       10,
		CoherenceThreshold: 0.7,
		CoherenceBonus:     0.1,
		MinRegimeAffinity:  0.3,
		FreshnessDecayDays: 30,
	}
}

// Engine runs Filter, Score, Group, Consolidate and Rank over a candidate set.
type Engine struct {
	scorer domsvc.PatternScorer
	sim    domsvc.SimilarityCalculator
	merger domsvc.PatternMerger
	cfg    Config
	now    func() time.Time
}

// criteriaScorer is a scorer that can key its results on the criteria too.
type criteriaScorer interface {
	ScoreWithCriteria(p *models.MarketPattern, ctx *models.ScoringContext, criteria any) models.PatternScore
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		d := DefaultConfig()
		if len(cfg.Weights) == 0 {
			cfg.Weights = d.Weights
		}
		if cfg.GroupThreshold <= 0 {
			cfg.GroupThreshold = d.GroupThreshold
		}
		if cfg.MaxGroupSize <= 0 {
			cfg.MaxGroupSize = d.MaxGroupSize
		}
		if cfg.CoherenceThreshold <= 0 {
			cfg.CoherenceThreshold = d.CoherenceThreshold
		}
		if cfg.CoherenceBonus < 0 {
			cfg.CoherenceBonus = d.CoherenceBonus
		}
		if cfg.MinRegimeAffinity <= 0 {
			cfg.MinRegimeAffinity = d.MinRegimeAffinity
		}
		if cfg.FreshnessDecayDays <= 0 {
			cfg.FreshnessDecayDays = d.FreshnessDecayDays
		}
		e.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(scorer domsvc.PatternScorer, sim domsvc.SimilarityCalculator, merger domsvc.PatternMerger, opts ...Option) *Engine {
	e := &Engine{scorer: scorer, sim: sim, merger: merger, cfg: DefaultConfig(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	pattern      *models.MarketPattern
	score        float64
	relevance    models.PatternScore
	breakdown    map[string]float64
	consolidated bool
	sources      []string
	coherence    float64
}

// Select returns at most criteria.Limit() patterns ranked from 1. Unset
// criteria fields take the models defaults. An empty result with zero
// confidence means nothing passed the filter.
func (e *Engine) Select(patterns []*models.MarketPattern, ctx *models.ScoringContext, criteria models.SelectionCriteria) models.SelectionResult {
	if ctx == nil {
		ctx = &models.ScoringContext{}
	}

	res := models.SelectionResult{Patterns: []models.SelectedPattern{}}
	res.Stats.Input = len(patterns)

	filtered, warnings := e.filter(patterns, ctx, criteria)
	res.Warnings = append(res.Warnings, warnings...)
	res.Stats.Filtered = len(filtered)
	if len(filtered) == 0 {
		return res
	}

	weights := e.weights(criteria)
	now := e.now()
	cands := make([]*candidate, 0, len(filtered))
	for _, p := range filtered {
		cands = append(cands, e.evaluate(p, ctx, &criteria, weights, now))
	}
	sortCandidates(cands)

	groups := e.group(cands)
	res.Stats.Groups = len(groups)

	var pool []*candidate
	var coherences []float64
	for _, g := range groups {
		if len(g) > 1 && criteria.ConsolidationEnabled() {
			if merged, coh, ok := e.consolidate(g, ctx, &criteria, weights, now); ok {
				pool = append(pool, merged)
				coherences = append(coherences, coh)
				res.Stats.Consolidated++
				continue
			}
		}
		pool = append(pool, g...)
	}
	res.Stats.Candidates = len(pool)

	allScores := make([]float64, len(pool))
	for i, c := range pool {
		allScores[i] = c.score
	}
	if criteria.Diversity && len(pool) > 1 {
		e.diversify(pool, criteria.DiversityPenalty())
	}
	sortCandidates(pool)
	if limit := criteria.Limit(); len(pool) > limit {
		pool = pool[:limit]
	}

	rels := make([]float64, 0, len(pool))
	for i, c := range pool {
		rels = append(rels, c.pattern.ReliabilityOr(0))
		res.Patterns = append(res.Patterns, c.output(i+1))
	}
	conf := util.Mean(rels) + math.Min(0.2, 2*util.Variance(allScores))
	if len(coherences) > 0 {
		conf += 0.1 * util.Mean(coherences)
	}
	res.SelectionConfidence = util.Clamp01(conf)
	return res
}

func (c *candidate) output(rank int) models.SelectedPattern {
	rel := c.relevance
	ci := models.Interval{
		Lower: util.Clamp01(c.score - (rel.Overall - rel.ConfidenceInterval.Lower)),
		Upper: util.Clamp01(c.score + (rel.ConfidenceInterval.Upper - rel.Overall)),
	}
	return models.SelectedPattern{
		PatternID:          c.pattern.PatternID,
		Pattern:            c.pattern,
		OverallScore:       c.score,
		ConfidenceInterval: ci,
		CriteriaBreakdown:  c.breakdown,
		Rank:               rank,
		Consolidated:       c.consolidated,
		SourceIDs:          c.sources,
	}
}

// sortCandidates orders by descending score, then pattern id.
func sortCandidates(cs []*candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].score != cs[j].score {
			return cs[i].score > cs[j].score
		}
		return cs[i].pattern.PatternID < cs[j].pattern.PatternID
	})
}
