package di

import (
	"context"
	"fmt"
	"time"

	"FinOracle/internal/domain/repository"
	"FinOracle/internal/handler/api"
	internalrepo "FinOracle/internal/repository"
	"FinOracle/internal/service/breaker"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/fetcher"
	"FinOracle/internal/service/ledger"
	"FinOracle/internal/service/llm"
	"FinOracle/internal/service/marketdata"
	"FinOracle/internal/service/rag"
	"FinOracle/internal/service/ratelimit"
	"FinOracle/internal/usecase"
	pkgcache "FinOracle/pkg/cache"
	pkgch "FinOracle/pkg/clickhouse"
	"FinOracle/pkg/config"
	xhttp "FinOracle/pkg/http"
	pkgkafka "FinOracle/pkg/kafka"
	"FinOracle/pkg/logger"
	"FinOracle/pkg/metrics"
	"FinOracle/pkg/queue"
	"FinOracle/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideKafkaProducer creates the producer shared by the feed sink and the log
// collector. Nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithClientID(cfg.Kafka.ClientID),
		pkgkafka.WithTopicPrefix(cfg.Kafka.TopicPrefix),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger and, with kafka enabled, ships
// aggregated errors to the collector topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, err
	}
	l = l.With(logger.String("env", cfg.Environment))
	if producer == nil || cfg.Log.CollectTopic == "" {
		return l, func() {}, nil
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Log.CollectTopic,
		Publisher:      producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func ProvideHTTPClient() *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(60 * time.Second))
}

// ProvideRedisClient dials redis when the shared cache or the run queue needs it.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Shared && !cfg.Queue.Enabled {
		return nil, func() {}, nil
	}
	client, _, err := pkgcache.NewRedisClient(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideSharedCache wraps the redis client as the cache's second tier and the scheduler lock.
func ProvideSharedCache(cfg *config.Config, client *redis.Client) *pkgcache.RedisCache {
	if client == nil {
		return nil
	}
	return pkgcache.NewRedisCache(client, cfg.Redis.Prefix)
}

func ProvideMarketCache(cfg *config.Config, shared *pkgcache.RedisCache, lgr *logger.Logger) *cache.MarketCache {
	opts := []cache.Option{cache.WithLogger(lgr)}
	if shared != nil && cfg.Cache.Shared {
		opts = append(opts, cache.WithRemote(shared))
	}
	return cache.New(cache.Config{
		DefaultTTL: cfg.Cache.DefaultTTL,
		KindTTL: map[cache.Kind]time.Duration{
			cache.KindPrice:      cfg.Cache.PriceTTL,
			cache.KindHistorical: cfg.Cache.HistoricalTTL,
			cache.KindGlobal:     cfg.Cache.GlobalTTL,
		},
		MaxEntries: cfg.Cache.MaxEntries,
	}, opts...)
}

// ProvideEndpoints maps provider config onto marketdata endpoints.
func ProvideEndpoints(cfg *config.Config) []marketdata.Endpoint {
	eps := make([]marketdata.Endpoint, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		id := p.ID
		if id == "" {
			id = p.Kind
		}
		eps = append(eps, marketdata.Endpoint{
			ID:                id,
			Kind:              p.Kind,
			BaseURL:           p.BaseURL,
			APIKey:            p.APIKey,
			APISecret:         p.APISecret,
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
			Priority:          p.Priority,
			SymbolIDs:         p.SymbolIDs,
			MaxAge:            p.MaxAge,
			Symbols:           p.Symbols,
		})
	}
	return eps
}

// ProvideLimiter registers one bucket per provider.
func ProvideLimiter(eps []marketdata.Endpoint) *ratelimit.Limiter {
	l := ratelimit.New()
	for _, ep := range eps {
		if ep.RequestsPerSecond > 0 {
			l.Register(ep.ID, ep.Burst, ep.RequestsPerSecond)
		}
	}
	return l
}

// ProvideBreakers creates the breaker set; transitions are exported as a gauge and logged.
func ProvideBreakers(cfg *config.Config, m repository.Metrics, lgr *logger.Logger) *breaker.Set {
	return breaker.NewSet(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		BaseCooldown:     cfg.Breaker.BaseCooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
	}, breaker.WithStateChange(func(name string, from, to breaker.State) {
		m.RecordBreakerState(name, int(to))
		fields := []logger.Field{
			logger.String("provider", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		}
		if to == breaker.Open {
			lgr.Warn("circuit breaker opened", fields...)
			return
		}
		lgr.Info("circuit breaker transition", fields...)
	}))
}

func ProvideProviders(cfg *config.Config, eps []marketdata.Endpoint, client *xhttp.Client, lgr *logger.Logger) ([]marketdata.Provider, error) {
	return marketdata.BuildAll(eps, marketdata.Deps{HTTP: client, Logger: lgr, CallTimeout: cfg.Pipeline.FetchTimeout})
}

func ProvideCoordinator(
	cfg *config.Config,
	providers []marketdata.Provider,
	limiter *ratelimit.Limiter,
	breakers *breaker.Set,
	mc *cache.MarketCache,
	m repository.Metrics,
	lgr *logger.Logger,
) *fetcher.Coordinator {
	return fetcher.New(providers, limiter, breakers, mc,
		fetcher.WithCallTimeout(cfg.Pipeline.FetchTimeout),
		fetcher.WithMetrics(m),
		fetcher.WithLogger(lgr),
	)
}

// ProvideRetriever builds the Typesense-backed augmenter, nil when retrieval is disabled.
func ProvideRetriever(cfg *config.Config, client *xhttp.Client, m repository.Metrics, lgr *logger.Logger) *rag.Augmenter {
	if !cfg.RAG.Enabled {
		return nil
	}
	embedder := rag.NewGeminiEmbedder(client, cfg.RAG.GeminiAPIKey, rag.WithEmbedderModel(cfg.RAG.EmbeddingModel))
	index := rag.NewTypesense(client, cfg.RAG.TypesenseURL, cfg.RAG.TypesenseAPIKey,
		rag.WithCollection(cfg.RAG.Collection),
		rag.WithEmbeddingDim(cfg.RAG.EmbeddingDim),
	)
	return rag.NewAugmenter(embedder, index,
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithMetrics(m),
		rag.WithLogger(lgr),
	)
}

// ProvideAnalyzer builds the adapters in configured order.
func ProvideAnalyzer(cfg *config.Config, client *xhttp.Client, m repository.Metrics, lgr *logger.Logger) (*llm.Router, error) {
	adapters := make([]llm.Adapter, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		a, err := llm.New(llm.Config{
			Name:        p.Name,
			Kind:        p.Kind,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		}, client)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", p.Name, err)
		}
		adapters = append(adapters, a)
	}
	return llm.NewRouter(adapters,
		llm.WithCallTimeout(cfg.LLM.CallTimeout),
		llm.WithMetrics(m),
		llm.WithLogger(lgr),
	), nil
}

// ProvideSubmitter loads the signing key. Nil without a key file, which only
// validates when the feed is skipped.
func ProvideSubmitter(cfg *config.Config, m repository.Metrics, lgr *logger.Logger) (*ledger.Submitter, error) {
	if cfg.Ledger.KeyFile == "" {
		return nil, nil
	}
	key, err := ledger.LoadKeyFile(cfg.Ledger.KeyFile)
	if err != nil {
		return nil, err
	}
	program, err := ledger.ParseProgramID(cfg.Ledger.ProgramID)
	if err != nil {
		return nil, err
	}
	return ledger.NewSubmitter(ledger.NewSolanaRPC(cfg.Ledger.RPCURL), key, program,
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		ledger.WithMetrics(m),
		ledger.WithLogger(lgr),
	), nil
}

// ProvideClickHouseClient connects when history is enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, 0),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideHistoryStore creates the run history table if needed.
func ProvideHistoryStore(cfg *config.Config, ch *pkgch.Client) (repository.HistoryStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseHistory(ch.DB(), cfg.ClickHouse.Table)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideFeedPublisher fans feed events out to kafka and/or nats. Nil when both are off.
func ProvideFeedPublisher(cfg *config.Config, producer *pkgkafka.Producer, m repository.Metrics, lgr *logger.Logger) (repository.FeedPublisher, func(), error) {
	var sinks internalrepo.MultiFeedPublisher
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaFeedPublisher(producer, cfg.Kafka.FeedTopic, m))
	}
	cleanup := func() {}
	if cfg.NATS.Enabled {
		np, err := internalrepo.NewNATSFeedPublisher(internalrepo.NATSConfig{
			URL:           cfg.NATS.URL,
			ClientID:      cfg.NATS.ClientID,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			JetStream:     cfg.NATS.JetStream,
		}, m, lgr)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, np)
		// the producer has its own cleanup
		cleanup = func() { _ = np.Close() }
	}
	switch len(sinks) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return sinks[0], cleanup, nil
	}
	return sinks, cleanup, nil
}

// ProvidePipeline assembles the four stages.
func ProvidePipeline(
	cfg *config.Config,
	coord *fetcher.Coordinator,
	retriever *rag.Augmenter,
	analyzer *llm.Router,
	submitter *ledger.Submitter,
	history repository.HistoryStore,
	feed repository.FeedPublisher,
	m repository.Metrics,
	lgr *logger.Logger,
) *usecase.Pipeline {
	var aug usecase.Augmenter = rag.Passthrough{}
	if retriever != nil {
		aug = retriever
	}
	var feeder usecase.Feeder
	if submitter != nil {
		feeder = submitter
	}
	opts := []usecase.PipelineOption{
		usecase.WithSkipFeed(cfg.Pipeline.SkipFeed),
		usecase.WithParallelism(cfg.Pipeline.Parallelism),
		usecase.WithMetrics(m),
		usecase.WithLogger(lgr),
	}
	if history != nil {
		opts = append(opts, usecase.WithHistory(history))
	}
	if feed != nil {
		opts = append(opts, usecase.WithFeedPublisher(feed))
	}
	return usecase.NewPipeline(coord, aug, analyzer, feeder, opts...)
}

// ProvideRunQueue creates the redis queue with the run job registered. Nil when disabled.
func ProvideRunQueue(cfg *config.Config, client *redis.Client, p *usecase.Pipeline, lgr *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || client == nil {
		return nil
	}
	q := queue.NewRedisQueue(lgr, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, client, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewRunJob(p, lgr))
	return q
}

func ProvideRunEnqueuer(q *queue.RedisQueue) *usecase.RunEnqueuer {
	if q == nil {
		return nil
	}
	return usecase.NewRunEnqueuer(q)
}

// ProvideScheduler returns nil unless symbols and an interval are configured.
func ProvideScheduler(cfg *config.Config, p *usecase.Pipeline, shared *pkgcache.RedisCache, lgr *logger.Logger) *usecase.Scheduler {
	if cfg.Pipeline.ScheduleInterval <= 0 || len(cfg.Pipeline.Symbols) == 0 {
		return nil
	}
	var locker usecase.Locker
	if shared != nil {
		locker = shared
	}
	return usecase.NewScheduler(p, cfg.Pipeline.Symbols, cfg.Pipeline.ScheduleInterval, locker, lgr)
}

func ProvideStatusService(
	providers []marketdata.Provider,
	eps []marketdata.Endpoint,
	breakers *breaker.Set,
	limiter *ratelimit.Limiter,
	mc *cache.MarketCache,
	analyzer *llm.Router,
	q *queue.RedisQueue,
) *usecase.StatusService {
	var qs usecase.QueueStater
	if q != nil {
		qs = q
	}
	return usecase.NewStatusService(providers, eps, breakers, limiter, mc, analyzer.Adapters(), qs)
}

// ProvideHandler registers the oracle API.
func ProvideHandler(
	cfg *config.Config,
	lgr *logger.Logger,
	p *usecase.Pipeline,
	coord *fetcher.Coordinator,
	status *usecase.StatusService,
	mc *cache.MarketCache,
	submitter *ledger.Submitter,
	history repository.HistoryStore,
	enq *usecase.RunEnqueuer,
) xhttp.Handler {
	opts := []api.HandlerOption{api.WithRunTimeout(cfg.Server.WriteTimeout)}
	if enq != nil {
		opts = append(opts, api.WithEnqueuer(enq))
	}
	if submitter != nil {
		opts = append(opts, api.WithLedger(submitter))
	}
	if history != nil {
		opts = append(opts, api.WithHistory(history))
	}
	return api.NewOracleEchoHandler(lgr, p, coord, status, mc, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	p *usecase.Pipeline,
	coord *fetcher.Coordinator,
	retriever *rag.Augmenter,
	submitter *ledger.Submitter,
	status *usecase.StatusService,
	mc *cache.MarketCache,
	history repository.HistoryStore,
	q *queue.RedisQueue,
	enq *usecase.RunEnqueuer,
	sched *usecase.Scheduler,
	h xhttp.Handler,
) *server.App {
	app := server.New(cfg, lgr, p, coord,
		server.WithQueue(q),
		server.WithScheduler(sched),
		server.WithHandler(h),
	)
	app.Retriever = retriever
	app.Submitter = submitter
	app.Status = status
	app.Cache = mc
	app.History = history
	app.Enqueuer = enq
	lgr.Debug("application assembled",
		logger.Strings("providers", providerIDs(app)),
		logger.Bool("retrieval", retriever != nil),
		logger.Bool("feed", submitter != nil && !cfg.Pipeline.SkipFeed))
	return app
}

func providerIDs(app *server.App) []string {
	ids := make([]string, 0, len(app.Providers))
	for _, p := range app.Providers {
		ids = append(ids, p.ID())
	}
	return ids
}
