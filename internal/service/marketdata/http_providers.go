package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"FinOracle/internal/domain/models"
	xhttp "FinOracle/pkg/http"
)

// httpProvider holds what every REST provider shares.
type httpProvider struct {
	ep   Endpoint
	deps Deps
}

func (p *httpProvider) ID() string   { return p.ep.ID }
func (p *httpProvider) Kind() string { return p.ep.Kind }

func (p *httpProvider) get(ctx context.Context, url string, query map[string][]string, headers map[string]string, dest interface{}) error {
	err := p.deps.HTTP.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         url,
		Headers:     headers,
		QueryParams: query,
	}, dest)
	return classify(p.ep.ID, err)
}

func baseURL(ep Endpoint, def string) string {
	if ep.BaseURL != "" {
		return strings.TrimRight(ep.BaseURL, "/")
	}
	return def
}

// --- generic ---

// genericProvider speaks the minimal contract GET <base>/price?symbol=S -> {"price": n}.
type genericProvider struct{ httpProvider }

func newGeneric(ep Endpoint, deps Deps) (Provider, error) {
	if ep.BaseURL == "" {
		return nil, fmt.Errorf("generic provider requires base_url")
	}
	return &genericProvider{httpProvider{ep: ep, deps: deps}}, nil
}

func (p *genericProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	var body struct {
		Price *float64 `json:"price"`
	}
	err := p.get(ctx, baseURL(p.ep, "")+"/price", map[string][]string{"symbol": {strings.ToUpper(symbol)}}, p.authHeaders(), &body)
	if err != nil {
		return models.MarketRecord{}, err
	}
	if body.Price == nil {
		return models.MarketRecord{}, malformed(p.ep.ID, "price missing for %s", symbol)
	}
	return record(p.ep.ID, symbol, *body.Price, p.deps.Now())
}

func (p *genericProvider) authHeaders() map[string]string {
	if p.ep.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.ep.APIKey}
}

// --- coinpaprika ---

type coinPaprikaProvider struct{ httpProvider }

func newCoinPaprika(ep Endpoint, deps Deps) (Provider, error) {
	return &coinPaprikaProvider{httpProvider{ep: ep, deps: deps}}, nil
}

func (p *coinPaprikaProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	id := coinID(p.ep.SymbolIDs, paprikaIDs, symbol, func(s string) string { return s + "-" + s })
	var body struct {
		Quotes map[string]struct {
			Price *float64 `json:"price"`
		} `json:"quotes"`
	}
	url := baseURL(p.ep, "https://api.coinpaprika.com/v1") + "/tickers/" + id
	if err := p.get(ctx, url, nil, nil, &body); err != nil {
		return models.MarketRecord{}, err
	}
	usd, ok := body.Quotes["USD"]
	if !ok || usd.Price == nil {
		return models.MarketRecord{}, malformed(p.ep.ID, "quotes.USD.price missing for %s", id)
	}
	return record(p.ep.ID, symbol, *usd.Price, p.deps.Now())
}

// --- coingecko ---

type coinGeckoProvider struct{ httpProvider }

func newCoinGecko(ep Endpoint, deps Deps) (Provider, error) {
	return &coinGeckoProvider{httpProvider{ep: ep, deps: deps}}, nil
}

func (p *coinGeckoProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	id := coinID(p.ep.SymbolIDs, geckoIDs, symbol, func(s string) string { return s })
	var headers map[string]string
	if p.ep.APIKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": p.ep.APIKey}
	}
	var body map[string]map[string]float64
	url := baseURL(p.ep, "https://api.coingecko.com/api/v3") + "/simple/price"
	query := map[string][]string{"ids": {id}, "vs_currencies": {"usd"}}
	if err := p.get(ctx, url, query, headers, &body); err != nil {
		return models.MarketRecord{}, err
	}
	price, ok := body[id]["usd"]
	if !ok {
		return models.MarketRecord{}, malformed(p.ep.ID, "%s.usd missing", id)
	}
	return record(p.ep.ID, symbol, price, p.deps.Now())
}

// --- coinmarketcap ---

type coinMarketCapProvider struct{ httpProvider }

func newCoinMarketCap(ep Endpoint, deps Deps) (Provider, error) {
	if ep.APIKey == "" {
		return nil, fmt.Errorf("coinmarketcap provider requires api_key")
	}
	return &coinMarketCapProvider{httpProvider{ep: ep, deps: deps}}, nil
}

func (p *coinMarketCapProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	sym := strings.ToUpper(symbol)
	var body struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	url := baseURL(p.ep, "https://pro-api.coinmarketcap.com/v1") + "/cryptocurrency/quotes/latest"
	headers := map[string]string{"X-CMC_PRO_API_KEY": p.ep.APIKey, "Accept": "application/json"}
	if err := p.get(ctx, url, map[string][]string{"symbol": {sym}}, headers, &body); err != nil {
		return models.MarketRecord{}, err
	}
	raw, ok := body.Data[sym]
	if !ok {
		return models.MarketRecord{}, malformed(p.ep.ID, "data.%s missing", sym)
	}
	price, err := cmcPrice(raw)
	if err != nil {
		return models.MarketRecord{}, malformed(p.ep.ID, "data.%s: %v", sym, err)
	}
	return record(p.ep.ID, symbol, price, p.deps.Now())
}

type cmcQuote struct {
	Quote map[string]struct {
		Price *float64 `json:"price"`
	} `json:"quote"`
}

// cmcPrice accepts both the v1 object form and the v2 array form of a symbol entry.
func cmcPrice(raw json.RawMessage) (float64, error) {
	var entries []cmcQuote
	if err := json.Unmarshal(raw, &entries); err != nil {
		var one cmcQuote
		if err := json.Unmarshal(raw, &one); err != nil {
			return 0, err
		}
		entries = []cmcQuote{one}
	}
	for _, e := range entries {
		if usd, ok := e.Quote["USD"]; ok && usd.Price != nil {
			return *usd.Price, nil
		}
	}
	return 0, fmt.Errorf("quote.USD.price missing")
}

// --- cryptocompare ---

type cryptoCompareProvider struct{ httpProvider }

func newCryptoCompare(ep Endpoint, deps Deps) (Provider, error) {
	return &cryptoCompareProvider{httpProvider{ep: ep, deps: deps}}, nil
}

func (p *cryptoCompareProvider) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	var headers map[string]string
	if p.ep.APIKey != "" {
		headers = map[string]string{"authorization": "Apikey " + p.ep.APIKey}
	}
	var body struct {
		USD      *float64 `json:"USD"`
		Response string   `json:"Response"`
		Message  string   `json:"Message"`
	}
	url := baseURL(p.ep, "https://min-api.cryptocompare.com/data") + "/price"
	query := map[string][]string{"fsym": {strings.ToUpper(symbol)}, "tsyms": {"USD"}}
	if err := p.get(ctx, url, query, headers, &body); err != nil {
		return models.MarketRecord{}, err
	}
	if body.USD == nil {
		// errors come back as 200 with Response=Error
		if body.Response == "Error" {
			return models.MarketRecord{}, malformed(p.ep.ID, "cryptocompare: %s", body.Message)
		}
		return models.MarketRecord{}, malformed(p.ep.ID, "USD missing for %s", symbol)
	}
	return record(p.ep.ID, symbol, *body.USD, p.deps.Now())
}
