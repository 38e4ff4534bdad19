package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinOracle/internal/domain/errs"
	xhttp "FinOracle/pkg/http"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testDeps() Deps {
	return Deps{HTTP: xhttp.NewClient(xhttp.WithTimeout(2 * time.Second)), Now: func() time.Time { return fixedNow }}
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func build(t *testing.T, ep Endpoint) Provider {
	t.Helper()
	p, err := New(ep, testDeps())
	if err != nil {
		t.Fatalf("build %s: %v", ep.Kind, err)
	}
	return p
}

func TestProvidersParseResponses(t *testing.T) {
	cases := []struct {
		name   string
		ep     Endpoint
		path   string
		check  func(r *http.Request) bool
		body   string
		symbol string
		want   float64
	}{
		{
			name:  "generic",
			ep:    Endpoint{Kind: "generic"},
			path:  "/price",
			check: func(r *http.Request) bool { return r.URL.Query().Get("symbol") == "BTC" },
			body:  `{"price": 65000.5}`, symbol: "btc", want: 65000.5,
		},
		{
			name:  "coinpaprika",
			ep:    Endpoint{Kind: "coinpaprika"},
			path:  "/tickers/btc-bitcoin",
			check: func(r *http.Request) bool { return true },
			body:  `{"id":"btc-bitcoin","quotes":{"USD":{"price":64000.1}}}`, symbol: "BTC", want: 64000.1,
		},
		{
			name: "coingecko",
			ep:   Endpoint{Kind: "coingecko"},
			path: "/simple/price",
			check: func(r *http.Request) bool {
				return r.URL.Query().Get("ids") == "solana" && r.URL.Query().Get("vs_currencies") == "usd"
			},
			body: `{"solana":{"usd":150.25}}`, symbol: "SOL", want: 150.25,
		},
		{
			name:  "coinmarketcap",
			ep:    Endpoint{Kind: "coinmarketcap", APIKey: "k"},
			path:  "/cryptocurrency/quotes/latest",
			check: func(r *http.Request) bool { return r.Header.Get("X-CMC_PRO_API_KEY") == "k" },
			body:  `{"data":{"ETH":{"quote":{"USD":{"price":3200}}}}}`, symbol: "eth", want: 3200,
		},
		{
			name:  "cryptocompare",
			ep:    Endpoint{Kind: "cryptocompare", APIKey: "k"},
			path:  "/price",
			check: func(r *http.Request) bool { return r.Header.Get("authorization") == "Apikey k" && r.URL.Query().Get("fsym") == "BTC" },
			body:  `{"USD": 65100}`, symbol: "BTC", want: 65100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tc.path || !tc.check(r) {
					t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = w.Write([]byte(tc.body))
			})
			ep := tc.ep
			ep.BaseURL = srv.URL
			rec, err := build(t, ep).FetchPrice(context.Background(), tc.symbol)
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if rec.Price != tc.want || rec.Source != tc.ep.Kind || !rec.ObservedAt.Equal(fixedNow) {
				t.Fatalf("unexpected record %+v", rec)
			}
		})
	}
}

func TestStatusCodesAreClassified(t *testing.T) {
	cases := map[int]errs.ProviderErrorKind{
		401: errs.KindUnauthorized,
		403: errs.KindUnauthorized,
		429: errs.KindRateLimited,
		500: errs.KindServerError,
		503: errs.KindServerError,
		404: errs.KindMalformedResponse,
	}
	for status, want := range cases {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) })
		p := build(t, Endpoint{Kind: "generic", BaseURL: srv.URL})
		_, err := p.FetchPrice(context.Background(), "BTC")
		var pe *errs.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: expected ProviderError, got %v", status, err)
		}
		if pe.Kind != want || pe.Status != status {
			t.Fatalf("status %d: expected %s, got %s/%d", status, want, pe.Kind, pe.Status)
		}
	}
}

func TestMalformedBodies(t *testing.T) {
	for _, body := range []string{`{}`, `{"price": 0}`, `{"price": -3}`, `not json`, `{"price": "abc"}`} {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) })
		p := build(t, Endpoint{Kind: "generic", BaseURL: srv.URL})
		_, err := p.FetchPrice(context.Background(), "BTC")
		var pe *errs.ProviderError
		if !errors.As(err, &pe) || pe.Kind != errs.KindMalformedResponse {
			t.Fatalf("body %q: expected malformed response, got %v", body, err)
		}
	}
}

func TestTimeoutIsClassified(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	p := build(t, Endpoint{Kind: "generic", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.FetchPrice(ctx, "BTC")
	var pe *errs.ProviderError
	if !errors.As(err, &pe) || pe.Kind != errs.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCryptoCompareErrorEnvelope(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"Error","Message":"market does not exist"}`))
	})
	p := build(t, Endpoint{Kind: "cryptocompare", BaseURL: srv.URL})
	_, err := p.FetchPrice(context.Background(), "NOPE")
	var pe *errs.ProviderError
	if !errors.As(err, &pe) || pe.Kind != errs.KindMalformedResponse {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestSymbolIDOverride(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "wrapped-bitcoin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"wrapped-bitcoin":{"usd":64900}}`))
	})
	p := build(t, Endpoint{Kind: "coingecko", BaseURL: srv.URL, SymbolIDs: map[string]string{"WBTC": "wrapped-bitcoin"}})
	if _, err := p.FetchPrice(context.Background(), "wbtc"); err != nil {
		t.Fatalf("override should be used: %v", err)
	}
}

func TestBuildAllSortsByPriority(t *testing.T) {
	ps, err := BuildAll([]Endpoint{
		{ID: "c", Kind: "coingecko", Priority: 3},
		{ID: "a", Kind: "coinpaprika", Priority: 1},
		{ID: "b", Kind: "cryptocompare", Priority: 2},
	}, testDeps())
	if err != nil {
		t.Fatalf("build all: %v", err)
	}
	if ps[0].ID() != "a" || ps[1].ID() != "b" || ps[2].ID() != "c" {
		t.Fatalf("unexpected order %s %s %s", ps[0].ID(), ps[1].ID(), ps[2].ID())
	}
}

func TestBuildAllRejectsUnknownAndDuplicates(t *testing.T) {
	if _, err := BuildAll([]Endpoint{{Kind: "bloomberg"}}, testDeps()); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := BuildAll([]Endpoint{{ID: "x", Kind: "coingecko"}, {ID: "x", Kind: "coinpaprika"}}, testDeps()); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := Register("coingecko", newCoinGecko); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
