package optimization

import (
	"fmt"

	"github.com/robfig/cron/v3"

	applogger "PatternEngine/pkg/logger"
)

// Stats is a read-only snapshot of cache effectiveness.
type Stats struct {
	CacheHitRatio        float64        `json:"cache_hit_ratio"`
	TotalCalculations    int64          `json:"total_calculations"`
	AvgCalculationTimeMs float64        `json:"avg_calculation_time_ms"`
	CacheSizes           map[string]int `json:"cache_sizes"`
}

// Stats reports hit ratio, calculation counts and current cache sizes.
func (e *Engine) Stats() Stats {
	hits := e.hits.Load()
	total := hits + e.misses.Load()
	calcs := e.calculations.Load()

	s := Stats{
		TotalCalculations: calcs,
		CacheSizes: map[string]int{
			CacheSimilarity: e.similarities.Len(),
			CacheScore:      e.scores.Len(),
			CacheMerge:      e.merges.Len(),
		},
	}
	if total > 0 {
		s.CacheHitRatio = float64(hits) / float64(total)
	}
	if calcs > 0 {
		s.AvgCalculationTimeMs = float64(e.calcNanos.Load()) / float64(calcs) / 1e6
	}
	return s
}

// Sweep drops expired entries from all caches and returns how many went.
func (e *Engine) Sweep() int {
	removed := e.similarities.Sweep() + e.scores.Sweep() + e.merges.Sweep()
	if e.metrics != nil {
		for name, size := range e.Stats().CacheSizes {
			e.metrics.RecordCacheSize(name, size)
		}
	}
	if removed > 0 {
		e.logger.Debug("cache sweep", applogger.Int("removed", removed))
	}
	return removed
}

// Clear empties every cache.
func (e *Engine) Clear() {
	e.similarities.Clear()
	e.scores.Clear()
	e.merges.Clear()
}

// Start schedules the periodic sweep.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("cache sweep already running")
	}

	c := cron.New()
	spec := "@every " + e.cfg.SweepInterval.String()
	if _, err := c.AddFunc(spec, func() { e.Sweep() }); err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	c.Start()
	e.cron = c
	e.running = true
	e.logger.Info("cache sweep started", applogger.String("schedule", spec))
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	<-e.cron.Stop().Done()
	e.running = false
	e.logger.Info("cache sweep stopped")
}
