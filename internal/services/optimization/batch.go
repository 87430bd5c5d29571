package optimization

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"PatternEngine/internal/domain/models"
)

// ProgressFunc is called after each chunk with the number of items done.
type ProgressFunc func(done, total int)

// ScoreBatch scores patterns through the cache in chunks. With Parallel set
// and more than ParallelThreshold patterns, chunks run concurrently. Results
// are written by index so the output order matches the input either way.
func (e *Engine) ScoreBatch(patterns []*models.MarketPattern, ctx *models.ScoringContext, progress ProgressFunc) []models.ScoredPattern {
	out := make([]models.ScoredPattern, len(patterns))
	total := len(patterns)
	size := e.cfg.BatchSize

	scoreChunk := func(start, end int) {
		for i := start; i < end; i++ {
			out[i] = models.ScoredPattern{Pattern: patterns[i], Score: e.Score(patterns[i], ctx)}
		}
	}

	if !e.cfg.Parallel || total <= e.cfg.ParallelThreshold {
		for start := 0; start < total; start += size {
			end := min(start+size, total)
			scoreChunk(start, end)
			if progress != nil {
				progress(end, total)
			}
		}
		return out
	}

	var mu sync.Mutex
	done := 0
	var g errgroup.Group
	for start := 0; start < total; start += size {
		start, end := start, min(start+size, total)
		g.Go(func() error {
			scoreChunk(start, end)
			mu.Lock()
			done += end - start
			if progress != nil {
				progress(done, total)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
