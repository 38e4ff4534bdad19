//go:build wireinject
// +build wireinject

package di

import (
	"FinOracle/pkg/config"
	"FinOracle/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application with
// its cleanup, which releases infrastructure clients in reverse order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideHTTPClient,
		ProvideRedisClient,
		ProvideSharedCache,
		ProvideClickHouseClient,

		// Reliability layer
		ProvideEndpoints,
		ProvideLimiter,
		ProvideBreakers,
		ProvideMarketCache,
		ProvideProviders,
		ProvideCoordinator,

		// Pipeline stages and sinks
		ProvideRetriever,
		ProvideAnalyzer,
		ProvideSubmitter,
		ProvideHistoryStore,
		ProvideFeedPublisher,
		ProvidePipeline,

		// Background work
		ProvideRunQueue,
		ProvideRunEnqueuer,
		ProvideScheduler,

		// API
		ProvideStatusService,
		ProvideHandler,
		ProvideApp,
	)
	return nil, nil, nil
}
