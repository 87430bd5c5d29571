package scoring

import (
	"math"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
)

// ProgressFunc is called after each chunk with the number of items done.
type ProgressFunc func(done, total int)

// ScoreBatch scores patterns in chunks, preserving input order.
func (e *Engine) ScoreBatch(patterns []*models.MarketPattern, ctx *models.ScoringContext, progress ProgressFunc) []models.ScoredPattern {
	out := make([]models.ScoredPattern, len(patterns))
	size := e.cfg.BatchSize
	for start := 0; start < len(patterns); start += size {
		end := start + size
		if end > len(patterns) {
			end = len(patterns)
		}
		for i := start; i < end; i++ {
			out[i] = models.ScoredPattern{Pattern: patterns[i], Score: e.Score(patterns[i], ctx)}
		}
		if progress != nil {
			progress(end, len(patterns))
		}
	}
	return out
}

// TopOptions controls SelectTop.
type TopOptions struct {
	K               int
	MinScore        float64
	Diversity       bool
	DiversityWeight float64
	// Similarity is required when Diversity is set.
	Similarity domsvc.SimilarityCalculator
}

// SelectTop greedily picks up to K entries by score. When two candidates are
// within the near-tie margin the one with the narrower confidence interval
// wins. With diversity on, each candidate is penalised by its maximum
// similarity to what is already picked.
func (e *Engine) SelectTop(scored []models.ScoredPattern, opts TopOptions) []models.RankedPattern {
	pool := make([]models.ScoredPattern, 0, len(scored))
	for _, s := range scored {
		if s.Score.Overall >= opts.MinScore {
			pool = append(pool, s)
		}
	}
	k := opts.K
	if k <= 0 || k > len(pool) {
		k = len(pool)
	}
	diversify := opts.Diversity && opts.Similarity != nil && opts.DiversityWeight > 0

	picked := make([]bool, len(pool))
	var chosen []*models.MarketPattern
	out := make([]models.RankedPattern, 0, k)
	for len(out) < k {
		best := -1
		bestAdj := math.Inf(-1)
		for i, cand := range pool {
			if picked[i] {
				continue
			}
			adj := cand.Score.Overall
			if diversify && len(chosen) > 0 {
				maxSim := 0.0
				for _, c := range chosen {
					maxSim = math.Max(maxSim, opts.Similarity.Similarity(cand.Pattern, c))
				}
				adj -= opts.DiversityWeight * maxSim
			}
			switch {
			case best < 0 || adj > bestAdj+e.cfg.NearTie:
				best, bestAdj = i, adj
			case math.Abs(adj-bestAdj) < e.cfg.NearTie:
				bw := pool[best].Score.ConfidenceInterval.Width()
				cw := cand.Score.ConfidenceInterval.Width()
				if cw < bw || (cw == bw && adj > bestAdj) {
					best, bestAdj = i, adj
				}
			}
		}
		picked[best] = true
		s := pool[best]
		chosen = append(chosen, s.Pattern)
		out = append(out, models.RankedPattern{
			PatternID:          s.Score.Metadata.PatternID,
			OverallScore:       s.Score.Overall,
			AdjustedScore:      bestAdj,
			ConfidenceInterval: s.Score.ConfidenceInterval,
			DimensionScores:    s.Score.DimensionScores,
			Rank:               len(out) + 1,
		})
	}
	return out
}
