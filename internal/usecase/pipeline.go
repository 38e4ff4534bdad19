package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	drepo "FinOracle/internal/domain/repository"
	"FinOracle/internal/service/ledger"
	"FinOracle/pkg/logger"
)

// Fetcher returns a fresh market record for a symbol.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (models.MarketRecord, error)
}

// Augmenter attaches retrieved context. It degrades instead of failing.
type Augmenter interface {
	Augment(ctx context.Context, rec models.MarketRecord) models.AugmentedRecord
}

// Analyzer produces a validated analysis.
type Analyzer interface {
	Analyze(ctx context.Context, rec models.AugmentedRecord) (models.AnalysisResult, error)
}

// Feeder commits an update to the ledger.
type Feeder interface {
	Submit(ctx context.Context, u models.LedgerUpdate) (*models.LedgerReceipt, error)
}

const sinkTimeout = 5 * time.Second

// Pipeline drives one symbol through fetch, augment, analyze and feed.
type Pipeline struct {
	fetcher   Fetcher
	augmenter Augmenter
	analyzer  Analyzer
	feeder    Feeder

	history     drepo.HistoryStore
	feed        drepo.FeedPublisher
	metrics     drepo.Metrics
	log         *logger.Logger
	now         func() time.Time
	skipFeed    bool
	parallelism int
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSkipFeed stops every run after analysis unless overridden per run.
func WithSkipFeed(skip bool) PipelineOption {
	return func(p *Pipeline) { p.skipFeed = skip }
}

// WithHistory stores every finished run.
func WithHistory(h drepo.HistoryStore) PipelineOption {
	return func(p *Pipeline) { p.history = h }
}

// WithFeedPublisher announces every finished run.
func WithFeedPublisher(f drepo.FeedPublisher) PipelineOption {
	return func(p *Pipeline) { p.feed = f }
}

func WithMetrics(m drepo.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithParallelism bounds RunMany.
func WithParallelism(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// NewPipeline wires the four stages. feeder may be nil when every run skips the feed.
func NewPipeline(f Fetcher, a Augmenter, an Analyzer, fd Feeder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		fetcher:     f,
		augmenter:   a,
		analyzer:    an,
		feeder:      fd,
		metrics:     drepo.NopMetrics{},
		log:         logger.Nop(),
		now:         time.Now,
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOption adjusts a single run.
type RunOption func(*runSettings)

type runSettings struct {
	skipFeed bool
}

// SkipFeed overrides the pipeline's skip-feed default for one run.
func SkipFeed(skip bool) RunOption {
	return func(s *runSettings) { s.skipFeed = skip }
}

// Run executes one symbol. The returned error is a *errs.StageError and the
// report is always non-nil.
func (p *Pipeline) Run(ctx context.Context, symbol string, opts ...RunOption) (*models.RunReport, error) {
	settings := runSettings{skipFeed: p.skipFeed}
	for _, opt := range opts {
		opt(&settings)
	}

	r := &models.RunReport{
		ID:        uuid.NewString(),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		StartedAt: p.now(),
	}
	log := p.log.With(logger.String("run_id", r.ID), logger.String("symbol", r.Symbol))

	err := p.execute(ctx, r, settings)
	r.FinishedAt = p.now()
	if err != nil {
		stage, _ := errs.StageOf(err)
		r.State = models.StateFailed
		r.FailedStage = string(stage)
		r.Error = err.Error()
		p.metrics.RecordRun("failed_" + string(stage))
		if errs.IsUnauthorized(err) {
			log.Error("run failed", logger.String("stage", string(stage)), logger.Bool("alert", true), logger.Error(err))
		} else {
			log.Warn("run failed", logger.String("stage", string(stage)), logger.Error(err))
		}
	} else {
		r.State = models.StateDone
		outcome := "done"
		if r.SkippedFeed {
			outcome = "skipped_feed"
		}
		p.metrics.RecordRun(outcome)
		log.Info("run finished",
			logger.Bool("skipped_feed", r.SkippedFeed),
			logger.String("signature", r.Signature()),
			logger.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)))
	}

	p.sink(ctx, r, log)
	return r, err
}

func (p *Pipeline) execute(ctx context.Context, r *models.RunReport, s runSettings) error {
	var (
		rec      models.MarketRecord
		aug      models.AugmentedRecord
		analysis models.AnalysisResult
	)

	if err := p.stage(r, models.StateFetching, func() (err error) {
		rec, err = p.fetcher.Fetch(ctx, r.Symbol)
		return err
	}); err != nil {
		return &errs.StageError{Stage: errs.StageFetch, Err: err}
	}
	r.Record = &rec

	if err := p.stage(r, models.StateAugmenting, func() error {
		aug = p.augmenter.Augment(ctx, rec)
		return ctx.Err()
	}); err != nil {
		return &errs.StageError{Stage: errs.StageAugment, Err: err}
	}
	r.Context = aug.Context

	if err := p.stage(r, models.StateAnalyzing, func() (err error) {
		analysis, err = p.analyzer.Analyze(ctx, aug)
		return err
	}); err != nil {
		return &errs.StageError{Stage: errs.StageAnalyze, Err: err}
	}
	r.Analysis = &analysis

	if s.skipFeed || p.feeder == nil {
		r.SkippedFeed = true
		_ = p.stage(r, models.StateSkippedFeed, func() error { return nil })
		return nil
	}

	if err := p.stage(r, models.StateFeeding, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		update := ledger.UpdateFromAnalysis(rec, analysis, p.now().Unix())
		receipt, err := p.feeder.Submit(ctx, update)
		if err != nil {
			return err
		}
		r.Receipt = receipt
		return nil
	}); err != nil {
		return &errs.StageError{Stage: errs.StageFeed, Err: err}
	}
	return nil
}

func (p *Pipeline) stage(r *models.RunReport, state models.RunState, fn func() error) error {
	r.State = state
	start := p.now()
	err := fn()
	d := p.now().Sub(start)
	r.Trace = append(r.Trace, models.StageTiming{State: state, Duration: d})
	p.metrics.RecordLatency("stage_"+string(state), d.Seconds())
	return err
}

// sink hands the report to the history store and feed publisher. Failures are
// logged and counted only.
func (p *Pipeline) sink(ctx context.Context, r *models.RunReport, log *logger.Logger) {
	if p.history == nil && p.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if p.history != nil {
		if err := p.history.Store(ctx, r); err != nil {
			p.metrics.RecordError("sink_history")
			log.Warn("history store failed", logger.Error(err))
		}
	}
	if p.feed != nil {
		if err := p.feed.Publish(ctx, models.FeedEventFromReport(r)); err != nil {
			p.metrics.RecordError("sink_feed")
			log.Warn("feed publish failed", logger.Error(err))
		}
	}
}

// RunMany runs distinct symbols concurrently and returns their reports in
// input order. The error joins every failed run.
func (p *Pipeline) RunMany(ctx context.Context, symbols []string, opts ...RunOption) ([]*models.RunReport, error) {
	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		unique = append(unique, s)
	}

	reports := make([]*models.RunReport, len(unique))
	failures := make([]error, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, sym := range unique {
		i, sym := i, sym
		g.Go(func() error {
			reports[i], failures[i] = p.Run(gctx, sym, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(failures...)
}
