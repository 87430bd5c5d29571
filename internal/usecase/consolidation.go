package usecase

import (
	"context"
	"time"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	domsvc "PatternEngine/internal/domain/service"
	applogger "PatternEngine/pkg/logger"
)

// ConsolidatorOption configures PatternConsolidator.
type ConsolidatorOption func(*PatternConsolidator)

// WithGroupThreshold sets the similarity needed to join a group.
func WithGroupThreshold(t float64) ConsolidatorOption {
	return func(c *PatternConsolidator) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// WithMaxGroupSize caps how many observations one merge may absorb.
func WithMaxGroupSize(n int) ConsolidatorOption {
	return func(c *PatternConsolidator) {
		if n > 0 {
			c.maxGroup = n
		}
	}
}

// PatternConsolidator turns raw observations into consolidated patterns
// and hands them to the pattern store.
type PatternConsolidator struct {
	sim       domsvc.SimilarityCalculator
	merger    domsvc.PatternMerger
	store     domrepo.PatternStore
	metrics   domrepo.Metrics
	l         *applogger.Logger
	threshold float64
	maxGroup  int
}

func NewPatternConsolidator(sim domsvc.SimilarityCalculator, merger domsvc.PatternMerger, store domrepo.PatternStore, metrics domrepo.Metrics, l *applogger.Logger, opts ...ConsolidatorOption) *PatternConsolidator {
	if l == nil {
		l = applogger.Nop()
	}
	c := &PatternConsolidator{
		sim:       sim,
		merger:    merger,
		store:     store,
		metrics:   metrics,
		l:         l,
		threshold: 0.75,
		maxGroup:  50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consolidate groups observations greedily by similarity to each group's
// first member, merges every group and stores the results. Store failures
// are logged and do not fail the call. Groups whose merge fails are skipped;
// the merge error is returned only when every group failed.
func (c *PatternConsolidator) Consolidate(ctx context.Context, kind string, observations []*models.MarketPattern) ([]*models.MarketPattern, error) {
	start := time.Now()
	obs := make([]*models.MarketPattern, 0, len(observations))
	for _, o := range observations {
		if o != nil {
			obs = append(obs, o)
		}
	}
	if len(obs) == 0 {
		return nil, models.ErrEmptyInput
	}
	if kind == "" {
		kind = domrepo.KindConsolidatedPattern
	}

	groups := c.group(obs)
	out := make([]*models.MarketPattern, 0, len(groups))
	var lastErr error
	for _, g := range groups {
		merged, err := c.merger.Merge(g)
		if err != nil {
			lastErr = err
			c.recordError("consolidate_merge")
			c.l.Warn("merge group failed",
				applogger.Strings("pattern_ids", models.PatternIDs(g)),
				applogger.Error(err))
			continue
		}
		out = append(out, merged)
	}
	if len(out) == 0 {
		return nil, lastErr
	}

	c.storeAll(ctx, kind, out)

	if c.metrics != nil {
		c.metrics.RecordLatency("consolidate", time.Since(start).Seconds())
	}
	c.l.Info("observations consolidated",
		applogger.String("kind", kind),
		applogger.Int("observations", len(obs)),
		applogger.Int("groups", len(groups)),
		applogger.Int("patterns", len(out)),
		applogger.Duration("took", time.Since(start)))
	return out, nil
}

func (c *PatternConsolidator) group(obs []*models.MarketPattern) [][]*models.MarketPattern {
	var groups [][]*models.MarketPattern
	for _, o := range obs {
		placed := false
		for i, g := range groups {
			if len(g) >= c.maxGroup {
				continue
			}
			if c.sim.Similarity(g[0], o) >= c.threshold {
				groups[i] = append(g, o)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []*models.MarketPattern{o})
		}
	}
	return groups
}

// storeAll writes ps best-effort; a failure never stops the remaining writes.
func (c *PatternConsolidator) storeAll(ctx context.Context, kind string, ps []*models.MarketPattern) {
	if c.store == nil {
		return
	}
	for _, p := range ps {
		if err := c.store.StoreEntity(ctx, kind, p); err != nil {
			c.recordError("store_entity")
			c.l.Warn("store pattern failed",
				applogger.String("kind", kind),
				applogger.String("pattern_id", p.PatternID),
				applogger.Error(err))
		}
	}
}

func (c *PatternConsolidator) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}
