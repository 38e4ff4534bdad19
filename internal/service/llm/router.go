package llm

import (
	"context"
	"errors"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
	"FinOracle/pkg/logger"
)

const defaultCallTimeout = 30 * time.Second

// Router tries adapters in order until one returns a valid analysis.
type Router struct {
	adapters    []Adapter
	callTimeout time.Duration
	metrics     repository.Metrics
	log         *logger.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCallTimeout bounds each adapter call.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithMetrics records per-adapter outcomes.
func WithMetrics(m repository.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the router logger.
func WithLogger(l *logger.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter builds a router over adapters in priority order.
func NewRouter(adapters []Adapter, opts ...RouterOption) *Router {
	r := &Router{
		adapters:    adapters,
		callTimeout: defaultCallTimeout,
		metrics:     repository.NopMetrics{},
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Adapters returns the adapter names in order.
func (r *Router) Adapters() []string {
	out := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		out[i] = a.Name()
	}
	return out
}

// Analyze returns the first schema-valid analysis of rec.
func (r *Router) Analyze(ctx context.Context, rec models.AugmentedRecord) (models.AnalysisResult, error) {
	prompt := BuildPrompt(rec)
	var attempts []errs.AnalysisAttempt

	for _, a := range r.adapters {
		if err := ctx.Err(); err != nil {
			return models.AnalysisResult{}, err
		}
		start := time.Now()
		res, err := r.call(ctx, a, prompt)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			r.metrics.RecordProviderCall("llm:"+a.Name(), "success", elapsed)
			return res, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return models.AnalysisResult{}, err
		}

		reason := "request_failed"
		var sve *errs.SchemaValidationError
		switch {
		case errors.As(err, &sve):
			reason = "schema_invalid"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		r.metrics.RecordProviderCall("llm:"+a.Name(), reason, elapsed)
		r.log.Warn("analysis adapter failed",
			logger.String("adapter", a.Name()),
			logger.String("symbol", rec.Raw.Symbol),
			logger.String("reason", reason),
			logger.Error(err))
		attempts = append(attempts, errs.AnalysisAttempt{Provider: a.Name(), Reason: err.Error(), Err: err})
	}
	return models.AnalysisResult{}, &errs.AnalysisUnavailableError{Attempts: attempts}
}

func (r *Router) call(ctx context.Context, a Adapter, prompt string) (models.AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	raw, err := a.Complete(callCtx, SystemInstruction, prompt)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return Validate(a.Name(), raw)
}
