package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"PatternEngine/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	evictions      *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	selected       prometheus.Histogram
	selectionConf  prometheus.Gauge
	patternsStored *prometheus.CounterVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_cache_hits_total",
				Help: "Cache lookups served from memory",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_cache_misses_total",
				Help: "Cache lookups that required a calculation",
			},
			[]string{"cache"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pattern_engine_cache_entries",
				Help: "Entries currently held per cache",
			},
			[]string{"cache"},
		),
		evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_cache_evictions_total",
				Help: "Entries removed from a cache",
			},
			[]string{"cache", "reason"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		selected: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_selected_patterns",
				Help:    "Patterns returned per selection call",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		selectionConf: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pattern_engine_selection_confidence",
				Help: "Confidence of the latest selection",
			},
		),
		patternsStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_patterns_stored_total",
				Help: "Patterns written to the knowledge store",
			},
			[]string{"backend", "kind"},
		),
	}
}

func (r *Recorder) RecordCacheHit(cache string) {
	r.cacheHits.WithLabelValues(cache).Inc()
}

func (r *Recorder) RecordCacheMiss(cache string) {
	r.cacheMisses.WithLabelValues(cache).Inc()
}

func (r *Recorder) RecordCacheSize(cache string, size int) {
	r.cacheSize.WithLabelValues(cache).Set(float64(size))
}

func (r *Recorder) RecordEviction(cache, reason string) {
	r.evictions.WithLabelValues(cache, reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordSelection(selected int, confidence float64) {
	r.selected.Observe(float64(selected))
	r.selectionConf.Set(confidence)
}

func (r *Recorder) RecordStored(backend, kind string) {
	r.patternsStored.WithLabelValues(backend, kind).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordCacheHit(string) {}
func (Nop) RecordCacheMiss(string) {}
func (Nop) RecordCacheSize(string, int) {}
func (Nop) RecordEviction(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordSelection(int, float64) {}
func (Nop) RecordStored(string, string) {}

var (
	_ repository.Metrics = (*Recorder)(nil)
	_ repository.Metrics = Nop{}
)
