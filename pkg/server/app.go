package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinOracle/internal/domain/repository"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/fetcher"
	"FinOracle/internal/service/ledger"
	"FinOracle/internal/service/marketdata"
	"FinOracle/internal/service/rag"
	"FinOracle/internal/usecase"
	"FinOracle/pkg/config"
	xhttp "FinOracle/pkg/http"
	"FinOracle/pkg/logger"
	"FinOracle/pkg/queue"
)

// App owns every long-lived component. Commands use the exported fields
// directly; Serve runs the background loops and the HTTP API.
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Pipeline    *usecase.Pipeline
	Coordinator *fetcher.Coordinator
	Providers   []marketdata.Provider
	Retriever   *rag.Augmenter // nil when retrieval is disabled
	Submitter   *ledger.Submitter
	Status      *usecase.StatusService
	Cache       *cache.MarketCache
	History     repository.HistoryStore
	Enqueuer    *usecase.RunEnqueuer

	queue     *queue.RedisQueue
	scheduler *usecase.Scheduler
	handler   xhttp.Handler
}

// Option attaches optional components.
type Option func(*App)

func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

func WithScheduler(s *usecase.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

func WithHandler(h xhttp.Handler) Option {
	return func(a *App) { a.handler = h }
}

// New assembles the application.
func New(cfg *config.Config, lgr *logger.Logger, p *usecase.Pipeline, coord *fetcher.Coordinator, opts ...Option) *App {
	a := &App{Config: cfg, Logger: lgr, Pipeline: p, Coordinator: coord}
	if coord != nil {
		a.Providers = coord.Providers()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartStreams runs every streaming provider until ctx is done.
func (a *App) StartStreams(ctx context.Context, wg *sync.WaitGroup) {
	for _, p := range a.Providers {
		s, ok := p.(marketdata.Streamer)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("stream stopped", logger.String("provider", id), logger.Error(err))
			}
		}(p.ID())
	}
}

// Serve starts streams, queue workers, the scheduler and the HTTP API, and
// blocks until ctx is cancelled or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	a.StartStreams(ctx, &wg)

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.scheduler.Run(ctx)
		}()
	}

	srv := xhttp.NewServer(a.handler,
		xhttp.WithHost(a.Config.Server.Host),
		xhttp.WithPort(a.Config.Server.Port),
		xhttp.WithCORSOrigins(a.Config.Server.CORSOrigins),
		xhttp.WithTimeouts(a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout, a.Config.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath(a.Config)),
		xhttp.WithLogger(a.Logger),
	)
	if err := srv.Start(); err != nil {
		return err
	}
	a.Logger.Info("finoracle serving",
		logger.String("addr", a.Config.Addr()),
		logger.Int("providers", len(a.Providers)),
		logger.Bool("skip_feed", a.Config.Pipeline.SkipFeed))

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case serveErr = <-srv.Err():
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), srv.ShutdownTimeout())
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		a.Logger.Error("http shutdown error", logger.Error(err))
	}
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.Logger.Warn("queue stop error", logger.Error(err))
		}
	}
	cancel()
	waitTimeout(&wg, 5*time.Second)
	return serveErr
}

func metricsPath(cfg *config.Config) string {
	if !cfg.Metrics.Enabled {
		return ""
	}
	return cfg.Metrics.Path
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}
