package optimization

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"PatternEngine/internal/domain/models"
	"PatternEngine/internal/domain/repository"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/cache"
	applogger "PatternEngine/pkg/logger"
)

// Cache names used in keys, stats and metrics.
const (
	CacheSimilarity = "similarity"
	CacheScore      = "score"
	CacheMerge      = "merge"
)

// Config sizes the three caches and the background sweep.
type Config struct {
	MaxEntries        int
	TTL               time.Duration
	SweepInterval     time.Duration
	BatchSize         int
	Parallel          bool
	ParallelThreshold int
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:        1000,
		TTL:               5 * time.Minute,
		SweepInterval:     time.Minute,
		BatchSize:         100,
		ParallelThreshold: 50,
	}
}

// Engine memoizes similarity, scoring and merging. It satisfies the same
// domain interfaces as the engines it wraps so callers can swap it in.
type Engine struct {
	sim    domsvc.SimilarityCalculator
	scorer domsvc.PatternScorer
	merger domsvc.PatternMerger

	similarities *cache.MemoryStore[float64]
	scores       *cache.MemoryStore[models.PatternScore]
	merges       *cache.MemoryStore[*models.MarketPattern]

	cfg     Config
	metrics repository.Metrics
	logger  *applogger.Logger
	now     func() time.Time

	hits         atomic.Int64
	misses       atomic.Int64
	calculations atomic.Int64
	calcNanos    atomic.Int64

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		d := DefaultConfig()
		if cfg.MaxEntries <= 0 {
			cfg.MaxEntries = d.MaxEntries
		}
		if cfg.TTL <= 0 {
			cfg.TTL = d.TTL
		}
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = d.SweepInterval
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = d.BatchSize
		}
		if cfg.ParallelThreshold <= 0 {
			cfg.ParallelThreshold = d.ParallelThreshold
		}
		e.cfg = cfg
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *applogger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source of the caches.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(sim domsvc.SimilarityCalculator, scorer domsvc.PatternScorer, merger domsvc.PatternMerger, opts ...Option) *Engine {
	e := &Engine{
		sim:    sim,
		scorer: scorer,
		merger: merger,
		cfg:    DefaultConfig(),
		logger: applogger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.similarities = cache.NewMemoryStore[float64](e.storeOptions(CacheSimilarity)...)
	e.scores = cache.NewMemoryStore[models.PatternScore](e.storeOptions(CacheScore)...)
	e.merges = cache.NewMemoryStore[*models.MarketPattern](e.storeOptions(CacheMerge)...)
	return e
}

func (e *Engine) storeOptions(name string) []cache.MemoryOption {
	opts := []cache.MemoryOption{
		cache.WithMemoryMaxSize(e.cfg.MaxEntries),
		cache.WithMemoryTTL(e.cfg.TTL),
		cache.WithMemoryClock(e.now),
	}
	if e.metrics != nil {
		opts = append(opts, cache.WithEvictionHook(func(reason string) {
			e.metrics.RecordEviction(name, reason)
		}))
	}
	return opts
}

// SimilarityKey is symmetric in its arguments.
func SimilarityKey(a, b string) string {
	return cache.SortedKey("sim", "|", a, b)
}

// MergeKey ignores the order of ids.
func MergeKey(ids []string) string {
	return cache.SortedKey("merge", ",", ids...)
}

// ScoreKey hashes the context and criteria so equal queries share an entry.
func ScoreKey(id string, ctx *models.ScoringContext, criteria any) string {
	return fmt.Sprintf("score:%s:%s:%s", id, hashJSON(ctx), hashJSON(criteria))
}

func hashJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	return cache.HashKey(string(data))
}

// Similarity returns the cached pairwise similarity, computing it on a miss.
// Patterns without an id are never cached.
func (e *Engine) Similarity(a, b *models.MarketPattern) float64 {
	if !cacheable(a, b) {
		return e.sim.Similarity(a, b)
	}
	key := SimilarityKey(a.PatternID, b.PatternID)
	if v, ok := e.similarities.Get(key); ok {
		e.hit(CacheSimilarity)
		return v
	}
	e.miss(CacheSimilarity)
	start := time.Now()
	v := e.sim.Similarity(a, b)
	e.record(CacheSimilarity, start)
	e.similarities.Set(key, v)
	return v
}

// Score returns a copy of the cached score for p under ctx.
func (e *Engine) Score(p *models.MarketPattern, ctx *models.ScoringContext) models.PatternScore {
	return e.ScoreWithCriteria(p, ctx, nil)
}

// ScoreWithCriteria keys the score on criteria too, for callers whose result
// depends on more than the context.
func (e *Engine) ScoreWithCriteria(p *models.MarketPattern, ctx *models.ScoringContext, criteria any) models.PatternScore {
	if !cacheable(p) {
		return e.scorer.Score(p, ctx)
	}
	key := ScoreKey(p.PatternID, ctx, criteria)
	if v, ok := e.scores.Get(key); ok {
		e.hit(CacheScore)
		return v.Clone()
	}
	e.miss(CacheScore)
	start := time.Now()
	v := e.scorer.Score(p, ctx)
	e.record(CacheScore, start)
	e.scores.Set(key, v.Clone())
	return v
}

// Merge returns a copy of the cached merge of patterns. Errors are not cached.
func (e *Engine) Merge(patterns []*models.MarketPattern) (*models.MarketPattern, error) {
	if len(patterns) == 0 || !cacheable(patterns...) {
		return e.merger.Merge(patterns)
	}
	key := MergeKey(models.PatternIDs(patterns))
	if v, ok := e.merges.Get(key); ok {
		e.hit(CacheMerge)
		return v.Clone(), nil
	}
	e.miss(CacheMerge)
	start := time.Now()
	v, err := e.merger.Merge(patterns)
	e.record(CacheMerge, start)
	if err != nil {
		return nil, err
	}
	e.merges.Set(key, v.Clone())
	return v, nil
}

// cacheable reports whether every pattern is present and carries an id.
func cacheable(ps ...*models.MarketPattern) bool {
	for _, p := range ps {
		if p == nil || p.PatternID == "" {
			return false
		}
	}
	return true
}

func (e *Engine) hit(name string) {
	e.hits.Add(1)
	if e.metrics != nil {
		e.metrics.RecordCacheHit(name)
	}
}

func (e *Engine) miss(name string) {
	e.misses.Add(1)
	if e.metrics != nil {
		e.metrics.RecordCacheMiss(name)
	}
}

func (e *Engine) record(name string, start time.Time) {
	took := time.Since(start)
	e.calculations.Add(1)
	e.calcNanos.Add(int64(took))
	if e.metrics != nil {
		e.metrics.RecordLatency(name, took.Seconds())
	}
}

var (
	_ domsvc.SimilarityCalculator = (*Engine)(nil)
	_ domsvc.PatternScorer        = (*Engine)(nil)
	_ domsvc.PatternMerger        = (*Engine)(nil)
)
