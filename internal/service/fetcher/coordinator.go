// Package fetcher resolves a symbol to a price by trying providers in priority order.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
	"FinOracle/internal/service/breaker"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/marketdata"
	"FinOracle/internal/service/ratelimit"
	"FinOracle/pkg/logger"

	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptySymbol     = errors.New("symbol is empty")
)

// Coordinator is safe for concurrent use.
type Coordinator struct {
	providers   []marketdata.Provider
	limiter     *ratelimit.Limiter
	breakers    *breaker.Set
	cache       *cache.MarketCache
	metrics     repository.Metrics
	log         *logger.Logger
	callTimeout time.Duration
	now         func() time.Time

	flights singleflight.Group
	mu      sync.Mutex
	waiting map[string]*flight
}

// flight is the shared upstream context of one symbol. It is cancelled once
// every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCallTimeout bounds each provider attempt, including the wait for a rate limit token.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a coordinator. providers must already be sorted by priority.
func New(providers []marketdata.Provider, limiter *ratelimit.Limiter, breakers *breaker.Set, mc *cache.MarketCache, opts ...Option) *Coordinator {
	c := &Coordinator{
		providers:   providers,
		limiter:     limiter,
		breakers:    breakers,
		cache:       mc,
		metrics:     repository.NopMetrics{},
		log:         logger.Nop(),
		callTimeout: 10 * time.Second,
		now:         time.Now,
		waiting:     make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the providers in the order they are tried.
func (c *Coordinator) Providers() []marketdata.Provider { return c.providers }

// Fetch returns a fresh cached record or the first successful provider answer.
// Concurrent calls for one symbol share a single upstream attempt; each caller
// still returns as soon as its own ctx is done.
func (c *Coordinator) Fetch(ctx context.Context, symbol string) (models.MarketRecord, error) {
	sym, err := normalize(symbol)
	if err != nil {
		return models.MarketRecord{}, err
	}
	if rec, ok := c.cache.Get(ctx, cache.PriceKey(sym)); ok {
		c.metrics.RecordCacheLookup("hit")
		return rec, nil
	}
	c.metrics.RecordCacheLookup("miss")
	return c.shared(ctx, sym)
}

// Loader adapts the coordinator for cache warming. It always goes upstream.
func (c *Coordinator) Loader() cache.Loader {
	return func(ctx context.Context, key cache.Key) (models.MarketRecord, error) {
		sym, err := normalize(key.Symbol)
		if err != nil {
			return models.MarketRecord{}, err
		}
		return c.shared(ctx, sym)
	}
}

func (c *Coordinator) shared(ctx context.Context, sym string) (models.MarketRecord, error) {
	f := c.join(ctx, sym)
	defer c.leave(sym, f)

	ch := c.flights.DoChan(sym, func() (interface{}, error) {
		return c.upstream(f.ctx, sym)
	})

	select {
	case <-ctx.Done():
		return models.MarketRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.MarketRecord{}, res.Err
		}
		return res.Val.(models.MarketRecord), nil
	}
}

func (c *Coordinator) join(ctx context.Context, sym string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.waiting[sym]
	if !ok {
		// detached from the first caller so later waiters keep it alive
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.waiting[sym] = f
	}
	f.waiters++
	return f
}

func (c *Coordinator) leave(sym string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.waiting[sym] == f {
		delete(c.waiting, sym)
		// a cancelled call must not be joined by the next caller
		c.flights.Forget(sym)
	}
}

func (c *Coordinator) upstream(ctx context.Context, sym string) (models.MarketRecord, error) {
	failures := make([]errs.ProviderFailure, 0, len(c.providers))
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return models.MarketRecord{}, err
		}
		rec, err := c.attempt(ctx, p, sym)
		if err == nil {
			c.cache.Set(ctx, cache.PriceKey(sym), rec, 0)
			c.metrics.RecordLastPrice(sym, rec.Price)
			if len(failures) > 0 {
				c.log.Info("fetch served by fallback provider",
					logger.String("symbol", sym),
					logger.String("provider", p.ID()),
					logger.Int("failed_before", len(failures)))
			}
			return rec, nil
		}
		if ctx.Err() != nil {
			return models.MarketRecord{}, ctx.Err()
		}
		failures = append(failures, failureOf(p.ID(), err))
		c.logFailure(p.ID(), sym, err)
	}
	c.metrics.RecordError("fetch_all_providers_failed")
	return models.MarketRecord{}, &errs.AllProvidersFailedError{Symbol: sym, Failures: failures}
}

// Query asks one named provider directly, skipping the cache but not the reliability layer.
func (c *Coordinator) Query(ctx context.Context, symbol, providerID string) (models.MarketRecord, error) {
	sym, err := normalize(symbol)
	if err != nil {
		return models.MarketRecord{}, err
	}
	for _, p := range c.providers {
		if p.ID() == providerID {
			rec, err := c.attempt(ctx, p, sym)
			if err != nil {
				c.logFailure(p.ID(), sym, err)
			}
			return rec, err
		}
	}
	return models.MarketRecord{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
}

func (c *Coordinator) attempt(ctx context.Context, p marketdata.Provider, sym string) (models.MarketRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	br := c.breakers.Get(p.ID())
	if err := br.Check(); err != nil {
		c.metrics.RecordProviderCall(p.ID(), outcome(err), 0)
		return models.MarketRecord{}, err
	}

	start := c.now()
	if err := c.limiter.Acquire(callCtx, p.ID()); err != nil {
		if ctx.Err() != nil {
			return models.MarketRecord{}, ctx.Err()
		}
		c.metrics.RecordProviderCall(p.ID(), string(errs.KindRateLimited), 0)
		return models.MarketRecord{}, errs.NewProviderError(p.ID(), errs.KindRateLimited, 0, err)
	}

	var rec models.MarketRecord
	err := br.Execute(callCtx, func(ctx context.Context) error {
		r, err := p.FetchPrice(ctx, sym)
		rec = r
		return err
	})
	c.metrics.RecordProviderCall(p.ID(), outcome(err), c.now().Sub(start).Seconds())
	if err != nil {
		return models.MarketRecord{}, err
	}
	return rec, nil
}

func (c *Coordinator) logFailure(provider, sym string, err error) {
	fields := []logger.Field{logger.String("provider", provider), logger.String("symbol", sym), logger.Error(err)}
	if errs.IsUnauthorized(err) {
		c.log.Error("provider rejected credentials", append(fields, logger.Bool("alert", true))...)
		return
	}
	var boe *errs.BreakerOpenError
	if errors.As(err, &boe) {
		c.log.Debug("provider skipped, breaker open", fields...)
		return
	}
	c.log.Warn("provider fetch failed", fields...)
}

func failureOf(provider string, err error) errs.ProviderFailure {
	return errs.ProviderFailure{Provider: provider, Reason: err.Error(), Kind: outcome(err), Err: err}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var pe *errs.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	var boe *errs.BreakerOpenError
	if errors.As(err, &boe) {
		return "breaker_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(errs.KindTimeout)
	}
	return "error"
}

func normalize(symbol string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return "", ErrEmptySymbol
	}
	return sym, nil
}
