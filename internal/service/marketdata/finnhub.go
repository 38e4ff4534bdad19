package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"FinOracle/internal/domain/models"
	"FinOracle/pkg/logger"

	"github.com/gorilla/websocket"
)

// Streamer is implemented by providers that need a background connection.
type Streamer interface {
	Run(ctx context.Context) error
}

const (
	defaultFinnhubURL    = "wss://ws.finnhub.io"
	defaultFinnhubMaxAge = 30 * time.Second
)

// FinnhubStream keeps the latest trade per symbol from the Finnhub websocket feed
// and serves it as a price while it is younger than MaxAge.
type FinnhubStream struct {
	ep             Endpoint
	deps           Deps
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	minInterval    time.Duration

	mu       sync.RWMutex
	latest   map[string]models.MarketRecord
	accepted map[string]time.Time

	connected atomic.Bool
}

func newFinnhub(ep Endpoint, deps Deps) (Provider, error) {
	if ep.APIKey == "" {
		return nil, fmt.Errorf("finnhub provider requires api_key")
	}
	if ep.MaxAge <= 0 {
		ep.MaxAge = defaultFinnhubMaxAge
	}
	if ep.BaseURL == "" {
		ep.BaseURL = defaultFinnhubURL
	}
	return &FinnhubStream{
		ep:             ep,
		deps:           deps,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		pingInterval:   20 * time.Second,
		minInterval:    50 * time.Millisecond,
		latest:         make(map[string]models.MarketRecord),
		accepted:       make(map[string]time.Time),
	}, nil
}

func (s *FinnhubStream) ID() string   { return s.ep.ID }
func (s *FinnhubStream) Kind() string { return s.ep.Kind }

// Connected reports whether the websocket is currently up.
func (s *FinnhubStream) Connected() bool { return s.connected.Load() }

// streamSymbol maps a ticker to the feed symbol, e.g. BTC -> BINANCE:BTCUSDT.
func (s *FinnhubStream) streamSymbol(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if mapped, ok := s.ep.SymbolIDs[sym]; ok {
		return strings.ToUpper(mapped)
	}
	return sym
}

func (s *FinnhubStream) FetchPrice(ctx context.Context, symbol string) (models.MarketRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketRecord{}, err
	}
	s.mu.RLock()
	rec, ok := s.latest[s.streamSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return models.MarketRecord{}, malformed(s.ep.ID, "no trade seen for %s", symbol)
	}
	if age := s.deps.Now().Sub(rec.ObservedAt); age >= s.ep.MaxAge {
		return models.MarketRecord{}, malformed(s.ep.ID, "last trade for %s is %s old", symbol, age.Round(time.Second))
	}
	rec.Symbol = strings.ToUpper(symbol)
	return rec, nil
}

// Run connects, subscribes and reads until ctx is done, reconnecting after failures.
func (s *FinnhubStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		s.deps.Logger.Warn("finnhub stream dropped", logger.String("provider", s.ep.ID), logger.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *FinnhubStream) session(ctx context.Context) error {
	u, err := url.Parse(s.ep.BaseURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.ep.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, sym := range s.ep.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s.streamSymbol(sym)}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.connected.Store(true)
	s.deps.Logger.Info("finnhub connected", logger.String("provider", s.ep.ID), logger.Strings("symbols", s.ep.Symbols))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("finnhub read: %w", err)
		}
		s.ingest(frame)
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// ingest applies one frame. Invalid trades are dropped, as are trades arriving
// faster than minInterval for the same symbol.
func (s *FinnhubStream) ingest(frame []byte) int {
	var m fhMessage
	if err := json.Unmarshal(frame, &m); err != nil || m.Type != "trade" {
		return 0
	}
	applied := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range m.Data {
		if d.S == "" || d.T <= 0 || d.P <= 0 || d.V < 0 {
			continue
		}
		sym := strings.ToUpper(d.S)
		observed := time.UnixMilli(d.T)
		if last, ok := s.accepted[sym]; ok && observed.Sub(last) < s.minInterval && observed.After(last) {
			continue
		}
		if cur, ok := s.latest[sym]; ok && !observed.After(cur.ObservedAt) {
			continue
		}
		s.accepted[sym] = observed
		s.latest[sym] = models.MarketRecord{Symbol: sym, Price: d.P, ObservedAt: observed, Source: s.ep.ID}
		applied++
	}
	return applied
}
