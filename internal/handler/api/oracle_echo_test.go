package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/fetcher"
	"FinOracle/internal/usecase"
	xhttp "FinOracle/pkg/http"
	xlogger "FinOracle/pkg/logger"

	"github.com/labstack/echo/v4"
)

type fakeRunner struct {
	symbols []string
	err     error
}

func (f *fakeRunner) RunMany(_ context.Context, symbols []string, _ ...usecase.RunOption) ([]*models.RunReport, error) {
	f.symbols = symbols
	out := make([]*models.RunReport, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, &models.RunReport{Symbol: s, State: models.StateDone})
	}
	return out, f.err
}

type fakeEnqueuer struct {
	symbols  []string
	skipFeed *bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, symbols []string, skipFeed *bool) error {
	f.symbols, f.skipFeed = symbols, skipFeed
	return nil
}

type fakePrices struct {
	err     error
	queried string
}

func (f *fakePrices) Fetch(_ context.Context, symbol string) (models.MarketRecord, error) {
	if f.err != nil {
		return models.MarketRecord{}, f.err
	}
	return models.MarketRecord{Symbol: strings.ToUpper(symbol), Price: 65000, Source: "coingecko"}, nil
}

func (f *fakePrices) Query(_ context.Context, symbol, provider string) (models.MarketRecord, error) {
	f.queried = provider
	if provider != "cmc" {
		return models.MarketRecord{}, fetcher.ErrUnknownProvider
	}
	return models.MarketRecord{Symbol: symbol, Price: 1, Source: provider}, nil
}

func (f *fakePrices) Loader() cache.Loader {
	return func(context.Context, cache.Key) (models.MarketRecord, error) {
		return models.MarketRecord{Price: 1}, nil
	}
}

type fakeStatus struct {
	health string
	reset  []string
}

func (f *fakeStatus) Providers() []models.ProviderStatus {
	return []models.ProviderStatus{{ID: "coingecko", Health: f.health}}
}

func (f *fakeStatus) Snapshot(context.Context) usecase.Status {
	return usecase.Status{Health: f.health, Providers: f.Providers()}
}

func (f *fakeStatus) ResetProvider(id string) error {
	if id != "coingecko" {
		return usecase.ErrUnknownProvider
	}
	f.reset = append(f.reset, id)
	return nil
}

type fakeLedger struct{}

func (fakeLedger) Info(context.Context) (models.LedgerInfo, error) {
	return models.LedgerInfo{Account: "pda", BalanceLamports: 5}, nil
}

type env struct {
	e        *echo.Echo
	runner   *fakeRunner
	enqueuer *fakeEnqueuer
	prices   *fakePrices
	status   *fakeStatus
	cache    *cache.MarketCache
}

func newEnv() *env {
	v := &env{
		e:        echo.New(),
		runner:   &fakeRunner{},
		enqueuer: &fakeEnqueuer{},
		prices:   &fakePrices{},
		status:   &fakeStatus{health: usecase.Healthy},
		cache:    cache.New(cache.DefaultConfig()),
	}
	h := NewOracleEchoHandler(xlogger.Nop(), v.runner, v.prices, v.status, v.cache,
		WithEnqueuer(v.enqueuer), WithLedger(fakeLedger{}))
	h.RegisterRoutes(v.e)
	return v
}

func (v *env) do(method, path, body string) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	var res xhttp.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	return rec, res
}

func TestRunSyncNormalizesSymbols(t *testing.T) {
	v := newEnv()
	v.runner.err = errors.Join(errors.New("ETH: analyze failed"))
	rec, res := v.do(http.MethodPost, "/api/v1/runs", `{"symbols":["btc","eth","BTC"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if strings.Join(v.runner.symbols, ",") != "BTC,ETH" {
		t.Fatalf("unexpected symbols %v", v.runner.symbols)
	}
	data, _ := json.Marshal(res.Data)
	var body models.RunResponse
	_ = json.Unmarshal(data, &body)
	if len(body.Reports) != 2 || len(body.Errors) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRunAsyncEnqueues(t *testing.T) {
	v := newEnv()
	rec, _ := v.do(http.MethodPost, "/api/v1/runs", `{"symbols":["sol"],"async":true,"skip_feed":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(v.enqueuer.symbols) != 1 || v.enqueuer.symbols[0] != "SOL" || v.enqueuer.skipFeed == nil || !*v.enqueuer.skipFeed {
		t.Fatalf("unexpected enqueue %+v", v.enqueuer)
	}
	if v.runner.symbols != nil {
		t.Fatalf("async request must not run inline")
	}
}

func TestRunValidation(t *testing.T) {
	v := newEnv()
	for _, body := range []string{`{}`, `{"symbols":[]}`, `{"symbols":["ABCDEFGHIJKLMNOPQRSTU"]}`} {
		rec, _ := v.do(http.MethodPost, "/api/v1/runs", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestPriceErrorsMapToStatus(t *testing.T) {
	v := newEnv()
	if rec, _ := v.do(http.MethodGet, "/api/v1/prices/btc", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodGet, "/api/v1/prices/btc?provider=nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodGet, "/api/v1/prices/btc?provider=cmc", ""); rec.Code != http.StatusOK || v.prices.queried != "cmc" {
		t.Fatalf("expected direct provider query, got %d", rec.Code)
	}

	v.prices.err = &errs.AllProvidersFailedError{Symbol: "BTC", Failures: []errs.ProviderFailure{
		{Provider: "a", Reason: "open", Err: &errs.BreakerOpenError{Provider: "a"}},
	}}
	if rec, _ := v.do(http.MethodGet, "/api/v1/prices/btc", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for all providers failed, got %d", rec.Code)
	}
}

func TestProvidersResetAndHealth(t *testing.T) {
	v := newEnv()
	if rec, _ := v.do(http.MethodPost, "/api/v1/providers/coingecko/reset", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodPost, "/api/v1/providers/unknown/reset", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	v.status.health = usecase.Down
	if rec, _ := v.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when down, got %d", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	v := newEnv()
	rec, res := v.do(http.MethodPost, "/api/v1/cache/warm", `{"symbols":["btc","eth"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if m, _ := res.Data.(map[string]interface{}); m["warmed"] != float64(2) {
		t.Fatalf("unexpected warm result %v", res.Data)
	}
	if v.cache.Stats().Entries != 2 {
		t.Fatalf("expected two cached entries")
	}

	if rec, _ := v.do(http.MethodDelete, "/api/v1/cache/btc", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if v.cache.Stats().Entries != 1 {
		t.Fatalf("expected invalidation to drop BTC")
	}
	if rec, _ := v.do(http.MethodGet, "/api/v1/cache/stats", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLedgerAndMissingHistory(t *testing.T) {
	v := newEnv()
	if rec, _ := v.do(http.MethodGet, "/api/v1/ledger", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodGet, "/api/v1/history/btc", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without history store, got %d", rec.Code)
	}
}

type fakeHistory struct{ rows []models.HistoryEntry }

func (f *fakeHistory) Init(context.Context) error                     { return nil }
func (f *fakeHistory) Store(context.Context, *models.RunReport) error { return nil }
func (f *fakeHistory) Health(context.Context) error                   { return nil }
func (f *fakeHistory) Close() error                                   { return nil }

func (f *fakeHistory) Recent(_ context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	out := make([]models.HistoryEntry, 0, len(f.rows))
	for _, r := range f.rows {
		if r.Symbol == symbol && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestHistoryFiltersBySince(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hist := &fakeHistory{rows: []models.HistoryEntry{
		{RunID: "new", Symbol: "BTC", CreatedAt: at},
		{RunID: "old", Symbol: "BTC", CreatedAt: at.Add(-48 * time.Hour)},
	}}
	e := echo.New()
	NewOracleEchoHandler(xlogger.Nop(), &fakeRunner{}, &fakePrices{}, &fakeStatus{}, cache.New(cache.DefaultConfig()),
		WithHistory(hist)).RegisterRoutes(e)
	v := &env{e: e}

	rec, res := v.do(http.MethodGet, "/api/v1/history/btc?since=2026-03-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	data, _ := json.Marshal(res.Data)
	var list xhttp.ListDataResponse
	_ = json.Unmarshal(data, &list)
	if list.Total != 1 {
		t.Fatalf("expected one entry after since, got %+v", list)
	}

	if rec, _ := v.do(http.MethodGet, "/api/v1/history/btc?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
	if rec, _ := v.do(http.MethodGet, "/api/v1/history/btc?limit=1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
