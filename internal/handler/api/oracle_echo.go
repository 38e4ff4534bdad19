package api

import (
	"context"
	"errors"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	drepo "FinOracle/internal/domain/repository"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/fetcher"
	"FinOracle/internal/usecase"
	xhttp "FinOracle/pkg/http"
	xlogger "FinOracle/pkg/logger"
	"FinOracle/pkg/util"

	"github.com/labstack/echo/v4"
)

// Runner executes pipeline runs. *usecase.Pipeline implements it.
type Runner interface {
	RunMany(ctx context.Context, symbols []string, opts ...usecase.RunOption) ([]*models.RunReport, error)
}

// Enqueuer queues runs for background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, symbols []string, skipFeed *bool) error
}

// PriceSource is the fetch coordinator.
type PriceSource interface {
	Fetch(ctx context.Context, symbol string) (models.MarketRecord, error)
	Query(ctx context.Context, symbol, providerID string) (models.MarketRecord, error)
	Loader() cache.Loader
}

// StatusSource reports and resets the reliability layer.
type StatusSource interface {
	Providers() []models.ProviderStatus
	Snapshot(ctx context.Context) usecase.Status
	ResetProvider(id string) error
}

// CacheAdmin is the market cache.
type CacheAdmin interface {
	Stats() cache.Stats
	Invalidate(ctx context.Context, key cache.Key)
	Warm(ctx context.Context, keys []cache.Key, load cache.Loader) int
}

// LedgerInspector reads the oracle account.
type LedgerInspector interface {
	Info(ctx context.Context) (models.LedgerInfo, error)
}

// OracleEchoHandler serves the oracle API under /api/v1.
type OracleEchoHandler struct {
	logger   *xlogger.Logger
	runner   Runner
	enqueuer Enqueuer
	prices   PriceSource
	status   StatusSource
	cache    CacheAdmin
	ledger   LedgerInspector
	history  drepo.HistoryStore
	timeout  time.Duration
}

// HandlerOption configures optional collaborators.
type HandlerOption func(*OracleEchoHandler)

// WithEnqueuer enables async run requests.
func WithEnqueuer(e Enqueuer) HandlerOption {
	return func(h *OracleEchoHandler) { h.enqueuer = e }
}

// WithLedger enables GET /ledger.
func WithLedger(l LedgerInspector) HandlerOption {
	return func(h *OracleEchoHandler) { h.ledger = l }
}

// WithHistory enables GET /history/:symbol.
func WithHistory(s drepo.HistoryStore) HandlerOption {
	return func(h *OracleEchoHandler) { h.history = s }
}

// WithRunTimeout bounds synchronous runs.
func WithRunTimeout(d time.Duration) HandlerOption {
	return func(h *OracleEchoHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewOracleEchoHandler(logger *xlogger.Logger, runner Runner, prices PriceSource, status StatusSource, mc CacheAdmin, opts ...HandlerOption) *OracleEchoHandler {
	h := &OracleEchoHandler{
		logger:  logger,
		runner:  runner,
		prices:  prices,
		status:  status,
		cache:   mc,
		timeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *OracleEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.POST("/runs", h.Run)
	g.GET("/prices/:symbol", h.Price)
	g.GET("/providers", h.Providers)
	g.POST("/providers/:id/reset", h.ResetProvider)
	g.GET("/cache/stats", h.CacheStats)
	g.DELETE("/cache/:symbol", h.InvalidateCache)
	g.POST("/cache/warm", h.WarmCache)
	g.GET("/ledger", h.Ledger)
	g.GET("/history/:symbol", h.History)
}

// Health reports overall status; 503 when every provider is down.
func (h *OracleEchoHandler) Health(c echo.Context) error {
	st := h.status.Snapshot(c.Request().Context())
	if st.Health == usecase.Down {
		return xhttp.ServiceUnavailableResponse(c, st)
	}
	return xhttp.SuccessResponse(c, st)
}

// Run executes the pipeline for each symbol, or enqueues them when async is set.
func (h *OracleEchoHandler) Run(c echo.Context) error {
	req := &models.RunRequestBody{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := util.NormalizeSymbols(req.Symbols...)

	if req.Async {
		if h.enqueuer == nil {
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("run queue is not enabled"))
		}
		if err := h.enqueuer.Enqueue(c.Request().Context(), symbols, req.SkipFeed); err != nil {
			h.logger.Error("enqueue runs failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("run queue unavailable").WithError(err))
		}
		return xhttp.AcceptedResponse(c, &models.EnqueueResponse{Queued: symbols})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()
	var opts []usecase.RunOption
	if req.SkipFeed != nil {
		opts = append(opts, usecase.SkipFeed(*req.SkipFeed))
	}
	reports, err := h.runner.RunMany(ctx, symbols, opts...)
	res := &models.RunResponse{Reports: reports}
	if err != nil {
		res.Errors = splitJoined(err)
	}
	// a failed run is still a complete report; the body carries the outcome
	return xhttp.SuccessResponse(c, res)
}

// Price returns the cached or freshly fetched price, or asks one provider directly.
func (h *OracleEchoHandler) Price(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	var (
		rec models.MarketRecord
		err error
	)
	if req.Provider != "" {
		rec, err = h.prices.Query(ctx, req.Symbol, req.Provider)
	} else {
		rec, err = h.prices.Fetch(ctx, req.Symbol)
	}
	if err != nil {
		h.logger.Warn("price lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *OracleEchoHandler) Providers(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.status.Providers())
}

// ResetProvider force-closes a provider's breaker.
func (h *OracleEchoHandler) ResetProvider(c echo.Context) error {
	id := c.Param("id")
	if err := h.status.ResetProvider(id); err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	h.logger.Info("provider breaker reset", xlogger.String("provider", id))
	return xhttp.NoContentResponse(c)
}

func (h *OracleEchoHandler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cache.Stats())
}

func (h *OracleEchoHandler) InvalidateCache(c echo.Context) error {
	syms := util.NormalizeSymbols(c.Param("symbol"))
	if len(syms) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol is required"))
	}
	for _, s := range syms {
		h.cache.Invalidate(c.Request().Context(), cache.PriceKey(s))
	}
	return xhttp.NoContentResponse(c)
}

// WarmCache fetches the given symbols upstream and stores them.
func (h *OracleEchoHandler) WarmCache(c echo.Context) error {
	req := &models.WarmRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	syms := util.NormalizeSymbols(req.Symbols...)
	keys := make([]cache.Key, 0, len(syms))
	for _, s := range syms {
		keys = append(keys, cache.PriceKey(s))
	}
	warmed := h.cache.Warm(c.Request().Context(), keys, h.prices.Loader())
	return xhttp.SuccessResponse(c, map[string]int{"requested": len(keys), "warmed": warmed})
}

func (h *OracleEchoHandler) Ledger(c echo.Context) error {
	if h.ledger == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("ledger is not configured"))
	}
	info, err := h.ledger.Info(c.Request().Context())
	if err != nil {
		h.logger.Error("ledger info failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("ledger rpc failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *OracleEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history store is not configured"))
	}
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	syms := util.NormalizeSymbols(req.Symbol)
	if len(syms) != 1 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid symbol %q", req.Symbol))
	}
	var since time.Time
	if req.Since != "" {
		t, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
		since = t
	}
	rows, err := h.history.Recent(c.Request().Context(), syms[0], req.Limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	if !since.IsZero() {
		kept := rows[:0]
		for _, r := range rows {
			if !r.CreatedAt.Before(since) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var (
		all *errs.AllProvidersFailedError
		boe *errs.BreakerOpenError
		pe  *errs.ProviderError
	)
	switch {
	case errors.Is(err, fetcher.ErrEmptySymbol):
		return xhttp.BadRequestError(err.Error())
	case errors.Is(err, fetcher.ErrUnknownProvider), errors.Is(err, usecase.ErrUnknownProvider):
		return xhttp.NotFoundError(err.Error())
	case errors.As(err, &all):
		return xhttp.BadGatewayError(err.Error()).WithParam("failures", all.Failures)
	case errors.As(err, &boe):
		return xhttp.UnavailableError(err.Error()).WithParam("retry_after_ms", boe.RetryAfter.Milliseconds())
	case errors.As(err, &pe):
		return xhttp.BadGatewayError(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.GatewayTimeoutError(err.Error())
	default:
		return xhttp.InternalError(err.Error())
	}
}

func splitJoined(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		out := make([]string, 0, len(j.Unwrap()))
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
