package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

const defaultAlpacaTimeout = 10 * time.Second

// alpacaProvider serves equities through the Alpaca market data API.
type alpacaProvider struct {
	ep      Endpoint
	deps    Deps
	opts    marketdata.ClientOpts
	timeout time.Duration
}

func newAlpaca(ep Endpoint, deps Deps) (Provider, error) {
	if ep.APIKey == "" || ep.APISecret == "" {
		return nil, fmt.Errorf("alpaca provider requires api_key and api_secret")
	}
	opts := marketdata.ClientOpts{
		APIKey:    ep.APIKey,
		APISecret: ep.APISecret,
		Feed:      marketdata.IEX,

		// the SDK retries 429 and 500 on its own; fallback and the breaker own that decision
		RetryLimit: -1,
	}
	if ep.BaseURL != "" {
		opts.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	}
	timeout := deps.CallTimeout
	if timeout <= 0 {
		timeout = defaultAlpacaTimeout
	}
	return &alpacaProvider{ep: ep, deps: deps, opts: opts, timeout: timeout}, nil
}

func (p *alpacaProvider) ID() string   { return p.ep.ID }
func (p *alpacaProvider) Kind() string { return p.ep.Kind }

// ctxTransport attaches the caller's context to requests the SDK builds without one.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.Clone(t.ctx))
}

// client binds a marketdata client to ctx, so cancellation reaches the in-flight request.
func (p *alpacaProvider) client(ctx context.Context) *marketdata.Client {
	opts := p.opts
	opts.HTTPClient = &http.Client{
		Timeout:   p.timeout,
		Transport: ctxTransport{ctx: ctx, base: http.DefaultTransport},
	}
	return marketdata.NewClient(opts)
}

func (p *alpacaProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketRecord{}, err
	}
	trade, err := p.client(ctx).GetLatestTrade(strings.ToUpper(symbol), marketdata.GetLatestTradeRequest{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return models.MarketRecord{}, errs.NewProviderError(p.ep.ID, errs.KindTimeout, 0, ctxErr)
			}
			return models.MarketRecord{}, ctxErr
		}
		return models.MarketRecord{}, classifyAlpaca(p.ep.ID, err)
	}
	if trade == nil {
		return models.MarketRecord{}, malformed(p.ep.ID, "no trade for %s", symbol)
	}
	observed := trade.Timestamp
	if observed.IsZero() {
		observed = p.deps.Now()
	}
	return record(p.ep.ID, symbol, trade.Price, observed)
}

// the SDK falls back to "<body> (HTTP <status>)" when the error body is not JSON
var alpacaHTTPStatus = regexp.MustCompile(`\(HTTP (\d{3})\)$`)

func classifyAlpaca(provider string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return errs.NewProviderError(provider, kindForStatus(apiErr.StatusCode), apiErr.StatusCode, err)
	}
	if m := alpacaHTTPStatus.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return errs.NewProviderError(provider, kindForStatus(status), status, err)
	}
	return classify(provider, err)
}
