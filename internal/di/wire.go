//go:build wireinject
// +build wireinject

package di

import (
	"PatternEngine/pkg/config"
	"PatternEngine/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Engines
		ProvideSimilarity,
		ProvideMerger,
		ProvideScorer,
		ProvideOptimizer,
		ProvideSelector,
		ProvideClusterer,

		// Persistence
		ProvidePatternStore,
		ProvideHealthChecker,

		// Use cases
		ProvideConsolidator,
		ProvideDiscovery,
		ProvideKafkaConsumer,
		ProvideObservationsHandler,

		// Transport and application
		ProvidePatternsHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
