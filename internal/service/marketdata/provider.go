// Package marketdata contains the upstream price providers and the registry that builds them by kind.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	xhttp "FinOracle/pkg/http"
	"FinOracle/pkg/logger"
)

// Provider returns the current price of a symbol from one upstream source.
type Provider interface {
	ID() string
	Kind() string
	FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error)
}

// Endpoint describes one configured provider.
type Endpoint struct {
	ID                string
	Kind              string
	BaseURL           string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
	Burst             float64
	Priority          int
	// SymbolIDs overrides the built-in symbol to coin id mapping.
	SymbolIDs map[string]string
	// MaxAge bounds how old a streamed trade may be (finnhub).
	MaxAge time.Duration
	// Symbols are subscribed on connect (finnhub).
	Symbols []string
}

// Deps are shared collaborators handed to constructors.
type Deps struct {
	HTTP   *xhttp.Client
	Logger *logger.Logger
	Now    func() time.Time

	// CallTimeout caps one request for providers that manage their own HTTP client.
	CallTimeout time.Duration
}

func (d Deps) normalized() Deps {
	if d.HTTP == nil {
		d.HTTP = xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Constructor builds a provider for an endpoint.
type Constructor func(ep Endpoint, deps Deps) (Provider, error)

var (
	registry = make(map[string]Constructor)
	mu       sync.RWMutex
)

// Register adds a constructor for kind. Registering a kind twice is an error.
func Register(kind string, ctor Constructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[kind]; exists {
		return fmt.Errorf("provider constructor already registered for kind: %s", kind)
	}
	registry[kind] = ctor
	return nil
}

// Kinds lists the registered provider kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the provider for ep using the constructor registered for ep.Kind.
func New(ep Endpoint, deps Deps) (Provider, error) {
	mu.RLock()
	ctor, ok := registry[ep.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider kind: %s", ep.Kind)
	}
	if ep.ID == "" {
		ep.ID = ep.Kind
	}
	return ctor(ep, deps.normalized())
}

// BuildAll builds every endpoint and returns them sorted by ascending priority.
// Endpoints with equal priority keep their configured order.
func BuildAll(eps []Endpoint, deps Deps) ([]Provider, error) {
	sorted := make([]Endpoint, len(eps))
	copy(sorted, eps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	seen := make(map[string]bool, len(sorted))
	out := make([]Provider, 0, len(sorted))
	for _, ep := range sorted {
		p, err := New(ep, deps)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", ep.ID, err)
		}
		if seen[p.ID()] {
			return nil, fmt.Errorf("duplicate provider id: %s", p.ID())
		}
		seen[p.ID()] = true
		out = append(out, p)
	}
	return out, nil
}

func init() {
	for kind, ctor := range map[string]Constructor{
		"generic":       newGeneric,
		"coinpaprika":   newCoinPaprika,
		"coingecko":     newCoinGecko,
		"coinmarketcap": newCoinMarketCap,
		"cryptocompare": newCryptoCompare,
		"alpaca":        newAlpaca,
		"finnhub":       newFinnhub,
	} {
		if err := Register(kind, ctor); err != nil {
			panic(err)
		}
	}
}

// classify maps a transport or decode error onto the provider error taxonomy.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *errs.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return errs.NewProviderError(provider, kindForStatus(se.Status), se.Status, err)
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errs.NewProviderError(provider, errs.KindTimeout, 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if xhttp.IsDecodeError(err) {
		return errs.NewProviderError(provider, errs.KindMalformedResponse, 0, err)
	}
	return errs.NewProviderError(provider, errs.KindServerError, 0, err)
}

func kindForStatus(status int) errs.ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return errs.KindUnauthorized
	case status == 429:
		return errs.KindRateLimited
	case status >= 500:
		return errs.KindServerError
	default:
		return errs.KindMalformedResponse
	}
}

func malformed(provider, format string, args ...interface{}) error {
	return errs.NewProviderError(provider, errs.KindMalformedResponse, 0, fmt.Errorf(format, args...))
}

// record validates price and builds the normalized record.
func record(provider, symbol string, price float64, observedAt time.Time) (models.MarketRecord, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return models.MarketRecord{}, malformed(provider, "invalid price %v for %s", price, symbol)
	}
	return models.MarketRecord{
		Symbol:     strings.ToUpper(symbol),
		Price:      price,
		ObservedAt: observedAt,
		Source:     provider,
	}, nil
}
