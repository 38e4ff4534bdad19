package usecase

import (
	"context"
	"errors"
	"fmt"

	"FinOracle/internal/domain/models"
	"FinOracle/internal/service/breaker"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/marketdata"
	"FinOracle/internal/service/ratelimit"
	"FinOracle/pkg/queue"
)

// Health levels.
const (
	Healthy  = "healthy"
	Degraded = "degraded"
	Down     = "down"
)

// ErrUnknownProvider is returned when resetting a provider that is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// QueueStater reports queue depth.
type QueueStater interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Status is the system health snapshot.
type Status struct {
	Health    string                  `json:"health"`
	Providers []models.ProviderStatus `json:"providers"`
	Analyzers []string                `json:"analyzers"`
	Cache     cache.Stats             `json:"cache"`
	Queue     *queue.Stats            `json:"queue,omitempty"`
}

// StatusService inspects the reliability layer.
type StatusService struct {
	providers []marketdata.Provider
	endpoints map[string]marketdata.Endpoint
	breakers  *breaker.Set
	limiter   *ratelimit.Limiter
	cache     *cache.MarketCache
	analyzers []string
	queue     QueueStater
}

// NewStatusService builds the status view. q may be nil.
func NewStatusService(
	providers []marketdata.Provider,
	endpoints []marketdata.Endpoint,
	breakers *breaker.Set,
	limiter *ratelimit.Limiter,
	mc *cache.MarketCache,
	analyzers []string,
	q QueueStater,
) *StatusService {
	eps := make(map[string]marketdata.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		id := ep.ID
		if id == "" {
			id = ep.Kind
		}
		eps[id] = ep
	}
	return &StatusService{
		providers: providers,
		endpoints: eps,
		breakers:  breakers,
		limiter:   limiter,
		cache:     mc,
		analyzers: analyzers,
		queue:     q,
	}
}

// ClassifyProvider maps breaker state onto a health level.
func ClassifyProvider(s breaker.Snapshot) string {
	switch {
	case s.State == breaker.Open:
		return Down
	case s.State == breaker.HalfOpen || s.ConsecutiveFailures > 0:
		return Degraded
	default:
		return Healthy
	}
}

// Overall is down when every provider is down, degraded when any is not healthy.
func Overall(providers []models.ProviderStatus) string {
	if len(providers) == 0 {
		return Down
	}
	down, healthy := 0, 0
	for _, p := range providers {
		switch p.Health {
		case Down:
			down++
		case Healthy:
			healthy++
		}
	}
	switch {
	case down == len(providers):
		return Down
	case healthy == len(providers):
		return Healthy
	default:
		return Degraded
	}
}

// Providers returns one status per configured provider, in fallback order.
func (s *StatusService) Providers() []models.ProviderStatus {
	out := make([]models.ProviderStatus, 0, len(s.providers))
	for _, p := range s.providers {
		st := models.ProviderStatus{ID: p.ID(), Kind: p.Kind(), Health: Healthy, BreakerState: breaker.Closed.String()}
		if ep, ok := s.endpoints[p.ID()]; ok {
			st.Priority = ep.Priority
		}
		if b, ok := s.breakers.Lookup(p.ID()); ok {
			snap := b.Snapshot()
			st.BreakerState = snap.State.String()
			st.ConsecutiveFailures = snap.ConsecutiveFailures
			st.Cooldown = snap.Cooldown
			st.Health = ClassifyProvider(snap)
		}
		if tokens, ok := s.limiter.Tokens(p.ID()); ok {
			st.TokensAvailable = tokens
		}
		out = append(out, st)
	}
	return out
}

// Snapshot collects the full status. A queue stats failure is reported as missing queue data.
func (s *StatusService) Snapshot(ctx context.Context) Status {
	providers := s.Providers()
	st := Status{
		Health:    Overall(providers),
		Providers: providers,
		Analyzers: s.analyzers,
	}
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}
	if s.queue != nil {
		if qs, err := s.queue.Stats(ctx); err == nil {
			st.Queue = &qs
		}
	}
	return st
}

// ResetProvider closes the breaker of id.
func (s *StatusService) ResetProvider(id string) error {
	for _, p := range s.providers {
		if p.ID() != id {
			continue
		}
		if b, ok := s.breakers.Lookup(id); ok {
			b.Reset()
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}
