package di

import (
	"context"
	"fmt"
	"time"

	"PatternEngine/internal/domain/repository"
	"PatternEngine/internal/handler/api"
	internalrepo "PatternEngine/internal/repository"
	"PatternEngine/internal/services/clustering"
	"PatternEngine/internal/services/optimization"
	"PatternEngine/internal/services/scoring"
	"PatternEngine/internal/services/selection"
	"PatternEngine/internal/services/similarity"
	"PatternEngine/internal/usecase"
	"PatternEngine/pkg/cache"
	pkgch "PatternEngine/pkg/clickhouse"
	"PatternEngine/pkg/config"
	xhttp "PatternEngine/pkg/http"
	pkgkafka "PatternEngine/pkg/kafka"
	applogger "PatternEngine/pkg/logger"
	"PatternEngine/pkg/metrics"
	"PatternEngine/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

func ProvideSimilarity() *similarity.Calculator {
	return similarity.NewCalculator()
}

func ProvideMerger() *similarity.Merger {
	return similarity.NewMerger()
}

// ProvideScorer maps the scoring block onto the engine config. Zero values
// fall back to engine defaults.
func ProvideScorer(cfg *config.Config) *scoring.Engine {
	sc := scoring.DefaultConfig()
	if len(cfg.Scoring.Weights) > 0 {
		sc.Weights = cfg.Scoring.Weights
	}
	sc.TemporalDecay = cfg.Scoring.TemporalDecay
	sc.TemporalCutoffDays = cfg.Scoring.TemporalCutoffDays
	sc.SpecialistThreshold = cfg.Scoring.SpecialistThreshold
	sc.SpecialistBoost = cfg.Scoring.SpecialistBoost
	sc.VolatilityMatchBand = cfg.Scoring.VolatilityMatchBand
	sc.VolatilityMatchBoost = cfg.Scoring.VolatilityBoost
	sc.BatchSize = cfg.Scoring.BatchSize
	sc.MaxBatchSize = cfg.Scoring.MaxBatchSize
	return scoring.NewEngine(scoring.WithConfig(sc))
}

// ProvideOptimizer wraps the engines with the memoizing layer.
func ProvideOptimizer(cfg *config.Config, sim *similarity.Calculator, scorer *scoring.Engine, merger *similarity.Merger, m repository.Metrics, l *applogger.Logger) *optimization.Engine {
	return optimization.NewEngine(sim, scorer, merger,
		optimization.WithConfig(optimization.Config{
			MaxEntries:        cfg.Cache.MaxEntries,
			TTL:               cfg.Cache.TTL,
			SweepInterval:     cfg.Cache.SweepInterval,
			BatchSize:         cfg.Cache.BatchSize,
			Parallel:          cfg.Cache.Parallel,
			ParallelThreshold: cfg.Cache.ParallelThreshold,
		}),
		optimization.WithMetrics(m),
		optimization.WithLogger(l.With(applogger.String("component", "optimization"))),
	)
}

// ProvideSelector runs selection through the cached engines.
func ProvideSelector(cfg *config.Config, opt *optimization.Engine) *selection.Engine {
	return selection.NewEngine(opt, opt, opt, selection.WithConfig(selection.Config{
		Weights:            cfg.Selection.Weights,
		GroupThreshold:     cfg.Selection.GroupThreshold,
		MaxGroupSize:       cfg.Selection.MaxGroupSize,
		CoherenceThreshold: cfg.Selection.CoherenceThreshold,
		CoherenceBonus:     cfg.Selection.CoherenceBonus,
	}))
}

func ProvideClusterer(cfg *config.Config) *clustering.Engine {
	opts := []clustering.Option{clustering.WithConfig(clustering.Config{
		MinRecords:    cfg.Clustering.MinRecords,
		MinK:          cfg.Clustering.MinK,
		MaxK:          cfg.Clustering.MaxK,
		MaxIterations: cfg.Clustering.MaxIterations,
		Tolerance:     cfg.Clustering.Tolerance,
	})}
	if cfg.Clustering.Seed != 0 {
		opts = append(opts, clustering.WithSeed(cfg.Clustering.Seed))
	}
	return clustering.NewEngine(opts...)
}

// ProvidePatternStore picks the persistence sink named by store.type.
func ProvidePatternStore(cfg *config.Config, m repository.Metrics, l *applogger.Logger) (repository.PatternStore, error) {
	sl := l.With(applogger.String("store", cfg.Store.Type))
	switch cfg.Store.Type {
	case config.StoreGraph:
		store, err := internalrepo.NewGraphStore(internalrepo.GraphConfig{
			BaseURL:     cfg.Store.Graph.URL,
			Timeout:     cfg.Store.Graph.Timeout,
			MaxFailures: cfg.Store.Graph.MaxFailures,
			OpenTimeout: cfg.Store.Graph.OpenTimeout,
		}, m, sl)
		if err != nil {
			return nil, fmt.Errorf("graph store: %w", err)
		}
		return store, nil

	case config.StoreKafka:
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Store.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Store.Kafka.RequiredAcks),
			pkgkafka.WithMaxAttempts(cfg.Store.Kafka.MaxAttempts),
			pkgkafka.WithBatchTimeout(cfg.Store.Kafka.Linger),
			pkgkafka.WithAsync(cfg.Store.Kafka.Async),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return internalrepo.NewKafkaStore(producer, cfg.Store.Kafka.Topic, m, sl), nil

	case config.StoreClickHouse:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ch := cfg.Store.ClickHouse
		client, err := pkgch.NewClient(ctx, pkgch.Config{
			Host:         ch.Host,
			Port:         ch.Port,
			Database:     ch.Database,
			User:         ch.User,
			Password:     ch.Password,
			UseHTTP:      ch.UseHTTP,
			AsyncInsert:  ch.AsyncInsert,
			WaitForAsync: ch.WaitForAsync,
			DialTimeout:  ch.DialTimeout,
			ReadTimeout:  ch.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store, err := internalrepo.NewCHPatternStore(ctx, client, m, sl)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		return store, nil

	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Host:     cfg.Store.Redis.Host,
			Port:     cfg.Store.Redis.Port,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return internalrepo.NewRedisStore(rc, cfg.Store.Redis.TTL, m), nil

	default:
		return internalrepo.NoopStore{}, nil
	}
}

// ProvideHealthChecker exposes the store health probe when it has one.
func ProvideHealthChecker(store repository.PatternStore) api.HealthChecker {
	if h, ok := store.(api.HealthChecker); ok {
		return h
	}
	return nil
}

func ProvideConsolidator(cfg *config.Config, opt *optimization.Engine, store repository.PatternStore, m repository.Metrics, l *applogger.Logger) *usecase.PatternConsolidator {
	return usecase.NewPatternConsolidator(opt, opt, store, m, l.With(applogger.String("component", "consolidation")),
		usecase.WithGroupThreshold(cfg.Consolidation.GroupThreshold),
		usecase.WithMaxGroupSize(cfg.Consolidation.MaxGroupSize),
	)
}

func ProvideDiscovery(clusterer *clustering.Engine, store repository.PatternStore, m repository.Metrics, l *applogger.Logger) *usecase.OutcomeDiscovery {
	return usecase.NewOutcomeDiscovery(clusterer, store, m, l.With(applogger.String("component", "discovery")))
}

// ProvideKafkaConsumer creates the observation consumer. It returns nil when
// ingest is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Ingest.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l.With(applogger.String("component", "kafka-consumer")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Ingest.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Ingest.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Ingest.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Ingest.RetryMax, cfg.Ingest.BackoffMin, cfg.Ingest.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Ingest.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.Use(pkgkafka.Trace)
	return consumer, nil
}

// ProvideObservationsHandler handles the observations topic.
func ProvideObservationsHandler(cfg *config.Config, c *usecase.PatternConsolidator, m repository.Metrics, l *applogger.Logger) *usecase.KafkaObservationsHandler {
	return usecase.NewKafkaObservationsHandler(cfg.Ingest.Topic, c, m, l)
}

func ProvidePatternsHandler(
	l *applogger.Logger,
	sim *similarity.Calculator,
	opt *optimization.Engine,
	scorer *scoring.Engine,
	selector *selection.Engine,
	clusterer *clustering.Engine,
	consolidator *usecase.PatternConsolidator,
	discovery *usecase.OutcomeDiscovery,
	m repository.Metrics,
	health api.HealthChecker,
	store repository.PatternStore,
) *api.PatternsEchoHandler {
	ranked, _ := store.(api.RankedStore)
	return api.NewPatternsEchoHandler(l, api.PatternsHandlerDeps{
		Calculator:   sim,
		Optimizer:    opt,
		Scorer:       scorer,
		Selector:     selector,
		Clusterer:    clusterer,
		Consolidator: consolidator,
		Discovery:    discovery,
		Metrics:      m,
		Health:       health,
		Ranked:       ranked,
	})
}

// ProvideHTTPServer builds the Echo server around the patterns handler.
func ProvideHTTPServer(cfg *config.Config, h *api.PatternsEchoHandler, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	}
	path := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		path = ""
	}
	opts = append(opts, xhttp.WithMetrics(path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	opt *optimization.Engine,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	store repository.PatternStore,
) *server.App {
	return server.New(cfg, l, httpServer, opt, consumer, kh, store)
}
