package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	cacheLookups  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	ledgerSubmits *prometheus.CounterVec
}

// New registers the recorder on the default registerer served at /metrics.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every collector on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_messages_sent_total",
				Help: "Total number of feed events sent to a backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finoracle_last_price",
				Help: "Last fetched price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finoracle_operation_duration_seconds",
				Help:    "Duration of pipeline stages and operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_provider_calls_total",
				Help: "Upstream provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finoracle_provider_call_duration_seconds",
				Help:    "Upstream provider call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finoracle_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
			},
			[]string{"provider"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_cache_lookups_total",
				Help: "Market cache lookups by result",
			},
			[]string{"result"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_runs_total",
				Help: "Pipeline runs by terminal outcome",
			},
			[]string{"outcome"},
		),
		ledgerSubmits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finoracle_ledger_submissions_total",
				Help: "Ledger update submissions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordProviderCall(provider, outcome string, seconds float64) {
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
	r.providerTime.WithLabelValues(provider).Observe(seconds)
}

func (r *Recorder) RecordBreakerState(provider string, state int) {
	r.breakerState.WithLabelValues(provider).Set(float64(state))
}

func (r *Recorder) RecordCacheLookup(result string) {
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordRun(outcome string) {
	r.runs.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordLedgerSubmission(outcome string) {
	r.ledgerSubmits.WithLabelValues(outcome).Inc()
}
