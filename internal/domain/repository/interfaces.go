package repository

import (
	"context"

	"FinOracle/internal/domain/models"
)

// HistoryStore persists run outcomes for later inspection.
type HistoryStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, report *models.RunReport) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// FeedPublisher announces finished runs to downstream consumers.
type FeedPublisher interface {
	Publish(ctx context.Context, event models.FeedEvent) error
	Close() error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordProviderCall(provider, outcome string, seconds float64)
	RecordBreakerState(provider string, state int)
	RecordCacheLookup(result string)
	RecordRun(outcome string)
	RecordLedgerSubmission(outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordMessageSent(string, string) {}
func (NopMetrics) RecordError(string) {}
func (NopMetrics) RecordLastPrice(string, float64) {}
func (NopMetrics) RecordLatency(string, float64) {}
func (NopMetrics) RecordProviderCall(string, string, float64) {}
func (NopMetrics) RecordBreakerState(string, int) {}
func (NopMetrics) RecordCacheLookup(string) {}
func (NopMetrics) RecordRun(string) {}
func (NopMetrics) RecordLedgerSubmission(string) {}
