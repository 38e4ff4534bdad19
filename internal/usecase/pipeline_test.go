package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	"FinOracle/internal/service/breaker"
	"FinOracle/internal/service/cache"
	"FinOracle/internal/service/marketdata"
	"FinOracle/internal/service/ratelimit"
	"FinOracle/pkg/logger"
	"FinOracle/pkg/queue"
)

type fakeFetcher struct {
	err   error
	calls int32
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string) (models.MarketRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return models.MarketRecord{}, f.err
	}
	return models.MarketRecord{Symbol: symbol, Price: 65000, Source: "A", ObservedAt: time.Unix(1_700_000_000, 0)}, nil
}

type fakeAugmenter struct{}

func (fakeAugmenter) Augment(_ context.Context, rec models.MarketRecord) models.AugmentedRecord {
	return models.AugmentedRecord{Raw: rec, Context: []string{"one", "two", "three"}}
}

type fakeAnalyzer struct {
	err error
}

func (f fakeAnalyzer) Analyze(_ context.Context, rec models.AugmentedRecord) (models.AnalysisResult, error) {
	if f.err != nil {
		return models.AnalysisResult{}, f.err
	}
	return models.AnalysisResult{
		Summary:        "momentum",
		Signals:        []string{"bullish"},
		Confidence:     0.8,
		Sources:        []string{"A"},
		Recommendation: models.Buy,
		Provider:       "gemini",
	}, nil
}

type fakeFeeder struct {
	mu      sync.Mutex
	updates []models.LedgerUpdate
	err     error
}

func (f *fakeFeeder) Submit(_ context.Context, u models.LedgerUpdate) (*models.LedgerReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.err != nil {
		return nil, f.err
	}
	return &models.LedgerReceipt{Signature: "5sig", Account: "pda", Attempts: 1}, nil
}

type fakeHistory struct {
	mu     sync.Mutex
	stored []*models.RunReport
	err    error
}

func (h *fakeHistory) Init(context.Context) error { return nil }
func (h *fakeHistory) Store(_ context.Context, r *models.RunReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stored = append(h.stored, r)
	return h.err
}
func (h *fakeHistory) Recent(context.Context, string, int) ([]models.HistoryEntry, error) {
	return nil, nil
}
func (h *fakeHistory) Health(context.Context) error { return nil }
func (h *fakeHistory) Close() error                 { return nil }

type fakeFeed struct {
	events []models.FeedEvent
	err    error
}

func (f *fakeFeed) Publish(_ context.Context, e models.FeedEvent) error {
	f.events = append(f.events, e)
	return f.err
}
func (f *fakeFeed) Close() error { return nil }

func states(r *models.RunReport) []models.RunState {
	out := make([]models.RunState, len(r.Trace))
	for i, t := range r.Trace {
		out[i] = t.State
	}
	return out
}

func TestRunReachesDoneWithSignature(t *testing.T) {
	feeder := &fakeFeeder{}
	p := NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, feeder)

	r, err := p.Run(context.Background(), " btc ")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State != models.StateDone || r.Signature() != "5sig" || r.Symbol != "BTC" {
		t.Fatalf("unexpected report %+v", r)
	}
	want := []models.RunState{models.StateFetching, models.StateAugmenting, models.StateAnalyzing, models.StateFeeding}
	got := states(r)
	if len(got) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, got)
		}
	}
	u := feeder.updates[0]
	if u.Symbol != "BTC" || u.Price != 65000 || u.Recommendation != "BUY" || u.Confidence != 0.8 || u.Insight != "momentum" {
		t.Fatalf("unexpected ledger update %+v", u)
	}
	if len(r.Context) != 3 {
		t.Fatalf("expected three context snippets, got %v", r.Context)
	}
}

func TestRunSkipFeed(t *testing.T) {
	feeder := &fakeFeeder{}
	p := NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, feeder, WithSkipFeed(true))

	r, err := p.Run(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State != models.StateDone || !r.SkippedFeed || r.Receipt != nil || len(feeder.updates) != 0 {
		t.Fatalf("skip-feed must stop after analysis: %+v", r)
	}
	if last := states(r)[len(r.Trace)-1]; last != models.StateSkippedFeed {
		t.Fatalf("expected skipped_feed in trace, got %v", states(r))
	}

	if r, _ := p.Run(context.Background(), "ETH", SkipFeed(false)); r.Receipt == nil {
		t.Fatalf("per-run override should feed")
	}
}

func TestRunFailureIsTaggedWithStage(t *testing.T) {
	fetchErr := &errs.AllProvidersFailedError{Symbol: "BTC"}
	cases := []struct {
		name  string
		p     *Pipeline
		stage errs.Stage
	}{
		{"fetch", NewPipeline(&fakeFetcher{err: fetchErr}, fakeAugmenter{}, fakeAnalyzer{}, &fakeFeeder{}), errs.StageFetch},
		{"analyze", NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{err: &errs.AnalysisUnavailableError{}}, &fakeFeeder{}), errs.StageAnalyze},
		{"feed", NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, &fakeFeeder{err: &errs.LedgerSubmitError{Kind: errs.Rejected}}), errs.StageFeed},
	}
	for _, c := range cases {
		r, err := c.p.Run(context.Background(), "BTC")
		stage, ok := errs.StageOf(err)
		if !ok || stage != c.stage {
			t.Fatalf("%s: expected stage %s, got %v", c.name, c.stage, err)
		}
		if r.State != models.StateFailed || r.FailedStage != string(c.stage) {
			t.Fatalf("%s: unexpected report %+v", c.name, r)
		}
	}

	_, err := cases[0].p.Run(context.Background(), "BTC")
	var apf *errs.AllProvidersFailedError
	if !errors.As(err, &apf) {
		t.Fatalf("stage error should unwrap to the cause")
	}
}

func TestRunCancelledBeforeFeedDoesNotSubmit(t *testing.T) {
	feeder := &fakeFeeder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, feeder)
	_, err := p.Run(ctx, "BTC")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(feeder.updates) != 0 {
		t.Fatalf("cancelled run must not reach the ledger")
	}
}

func TestSinkFailuresDoNotChangeOutcome(t *testing.T) {
	h := &fakeHistory{err: errors.New("clickhouse down")}
	f := &fakeFeed{err: errors.New("kafka down")}
	p := NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, &fakeFeeder{}, WithHistory(h), WithFeedPublisher(f))

	r, err := p.Run(context.Background(), "BTC")
	if err != nil || r.State != models.StateDone {
		t.Fatalf("sink failure leaked into run: %v", err)
	}
	if len(h.stored) != 1 || len(f.events) != 1 || f.events[0].Signature != "5sig" {
		t.Fatalf("sinks not invoked: %d %d", len(h.stored), len(f.events))
	}
}

func TestRunManyDeduplicatesAndKeepsOrder(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewPipeline(fetcher, fakeAugmenter{}, fakeAnalyzer{}, &fakeFeeder{}, WithParallelism(2))
	reports, err := p.RunMany(context.Background(), []string{"btc", "ETH", "BTC", "", "sol"})
	if err != nil {
		t.Fatalf("run many: %v", err)
	}
	if len(reports) != 3 || reports[0].Symbol != "BTC" || reports[1].Symbol != "ETH" || reports[2].Symbol != "SOL" {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if atomic.LoadInt32(&fetcher.calls) != 3 {
		t.Fatalf("expected three fetches, got %d", fetcher.calls)
	}

	failing := NewPipeline(&fakeFetcher{err: errors.New("down")}, fakeAugmenter{}, fakeAnalyzer{}, nil)
	reports, err = failing.RunMany(context.Background(), []string{"BTC", "ETH"})
	if err == nil || len(reports) != 2 {
		t.Fatalf("expected joined failures with reports, got %v", err)
	}
}

func TestRunJobRetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		p         *Pipeline
		permanent bool
	}{
		{"fetch failure retried", NewPipeline(&fakeFetcher{err: errors.New("timeout")}, fakeAugmenter{}, fakeAnalyzer{}, nil), false},
		{"unauthorized not retried", NewPipeline(&fakeFetcher{err: errs.NewProviderError("cmc", errs.KindUnauthorized, 401, nil)}, fakeAugmenter{}, fakeAnalyzer{}, nil), true},
		{"ledger failure not retried", NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, &fakeFeeder{err: &errs.LedgerSubmitError{Kind: errs.LedgerTimeout}}), true},
	}
	for _, c := range cases {
		job := NewRunJob(c.p, logger.Nop())
		err := job.Handle(context.Background(), []byte(`{"symbol":"BTC"}`))
		if err == nil {
			t.Fatalf("%s: expected an error", c.name)
		}
		if queue.IsPermanent(err) != c.permanent {
			t.Fatalf("%s: permanent=%v, got %v", c.name, c.permanent, err)
		}
	}

	job := NewRunJob(NewPipeline(&fakeFetcher{}, fakeAugmenter{}, fakeAnalyzer{}, nil), logger.Nop())
	if err := job.Handle(context.Background(), []byte(`{"symbol":""}`)); !queue.IsPermanent(err) {
		t.Fatalf("empty symbol should be permanent, got %v", err)
	}
	if err := job.Handle(context.Background(), []byte(`{"symbol":"BTC","skip_feed":true}`)); err != nil {
		t.Fatalf("valid request: %v", err)
	}
}

type capturePublisher struct {
	types    []string
	payloads []interface{}
}

func (c *capturePublisher) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	c.types = append(c.types, msgType)
	c.payloads = append(c.payloads, payload)
	return nil
}

func TestRunEnqueuer(t *testing.T) {
	pub := &capturePublisher{}
	skip := true
	if err := NewRunEnqueuer(pub).Enqueue(context.Background(), []string{"btc", "eth"}, &skip); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(pub.types) != 2 || pub.types[0] != RunMessageType {
		t.Fatalf("unexpected publishes %v", pub.types)
	}
	req := pub.payloads[1].(RunRequest)
	if req.Symbol != "ETH" || req.SkipFeed == nil || !*req.SkipFeed {
		t.Fatalf("unexpected request %+v", req)
	}
}

type namedProvider struct{ id string }

func (p namedProvider) ID() string   { return p.id }
func (p namedProvider) Kind() string { return "generic" }
func (p namedProvider) FetchPrice(context.Context, string) (models.MarketRecord, error) {
	return models.MarketRecord{}, nil
}

func TestStatusClassification(t *testing.T) {
	set := breaker.NewSet(breaker.Config{FailureThreshold: 3, BaseCooldown: time.Minute})
	limiter := ratelimit.New()
	limiter.Register("b", 5, 1)
	providers := []marketdata.Provider{namedProvider{"a"}, namedProvider{"b"}, namedProvider{"c"}}
	svc := NewStatusService(providers, []marketdata.Endpoint{{ID: "b", Priority: 2}}, set, limiter, cache.New(cache.DefaultConfig()), []string{"gemini"}, nil)

	fail := func(context.Context) error { return errors.New("x") }
	_ = set.Get("a").Execute(context.Background(), fail)
	for i := 0; i < 3; i++ {
		_ = set.Get("b").Execute(context.Background(), fail)
	}

	st := svc.Snapshot(context.Background())
	got := map[string]models.ProviderStatus{}
	for _, p := range st.Providers {
		got[p.ID] = p
	}
	if got["a"].Health != Degraded || got["b"].Health != Down || got["c"].Health != Healthy {
		t.Fatalf("unexpected health %+v", st.Providers)
	}
	if got["b"].Priority != 2 || got["b"].TokensAvailable != 5 || got["b"].BreakerState != "open" {
		t.Fatalf("unexpected provider b %+v", got["b"])
	}
	if st.Health != Degraded {
		t.Fatalf("expected degraded overall, got %s", st.Health)
	}

	if err := svc.ResetProvider("b"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if b, _ := set.Lookup("b"); b.State() != breaker.Closed {
		t.Fatalf("reset should close the breaker")
	}
	if err := svc.ResetProvider("zzz"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}

	if Overall([]models.ProviderStatus{{Health: Down}, {Health: Down}}) != Down {
		t.Fatalf("all down should be down")
	}
	if Overall(nil) != Down {
		t.Fatalf("no providers should be down")
	}
}

type fakeLocker struct {
	held     bool
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Unlock(context.Context, string) error {
	l.held = false
	l.unlocked++
	return nil
}

func TestSchedulerTickHonoursLock(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewPipeline(fetcher, fakeAugmenter{}, fakeAnalyzer{}, nil)
	locker := &fakeLocker{}
	s := NewScheduler(p, []string{"BTC", "ETH"}, time.Minute, locker, logger.Nop())

	if !s.Tick(context.Background()) || fetcher.calls != 2 || locker.unlocked != 1 {
		t.Fatalf("expected a full round, calls=%d unlocked=%d", fetcher.calls, locker.unlocked)
	}
	locker.held = true
	if s.Tick(context.Background()) || fetcher.calls != 2 {
		t.Fatalf("tick must be skipped while another instance holds the lock")
	}
}
