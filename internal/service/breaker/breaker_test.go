package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FinOracle/internal/domain/errs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream down")

func fail(context.Context) error { return errUpstream }
func succeed(context.Context) error { return nil }

func newTestBreaker(clk *fakeClock) *Breaker {
	return New("coingecko", Config{FailureThreshold: 3, BaseCooldown: time.Second, MaxCooldown: 4 * time.Second}, WithClock(clk.Now))
}

func TestOpensAfterThresholdAndRejectsWithoutCalling(t *testing.T) {
	for _, n := range []int{3, 4, 7} {
		clk := &fakeClock{t: time.Unix(0, 0)}
		b := New("p", Config{FailureThreshold: n, BaseCooldown: time.Second}, WithClock(clk.Now))
		for i := 0; i < n; i++ {
			_ = b.Execute(context.Background(), fail)
		}
		if b.State() != Open {
			t.Fatalf("threshold %d: expected open, got %s", n, b.State())
		}
		called := false
		err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
		var boe *errs.BreakerOpenError
		if !errors.As(err, &boe) {
			t.Fatalf("threshold %d: expected BreakerOpenError, got %v", n, err)
		}
		if called {
			t.Fatalf("threshold %d: provider must not be contacted while open", n)
		}
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), succeed)
	_ = b.Execute(context.Background(), fail)
	if b.State() != Closed {
		t.Fatalf("non-consecutive failures must not trip the breaker")
	}
	if got := b.Snapshot().ConsecutiveFailures; got != 1 {
		t.Fatalf("expected 1 consecutive failure, got %d", got)
	}
}

func TestHalfOpenTrialSuccessCloses(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clk.Advance(time.Second)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("trial call should be admitted: %v", err)
	}
	s := b.Snapshot()
	if s.State != Closed || s.ConsecutiveFailures != 0 || s.Cooldown != 0 {
		t.Fatalf("expected clean closed state, got %+v", s)
	}
}

func TestCooldownGrowsExponentiallyAndCaps(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		s := b.Snapshot()
		if s.Cooldown != w {
			t.Fatalf("step %d: expected cooldown %s, got %s", i, w, s.Cooldown)
		}
		clk.Advance(w - time.Millisecond)
		if err := b.Execute(context.Background(), succeed); err == nil {
			t.Fatalf("step %d: call admitted before cooldown elapsed", i)
		}
		clk.Advance(time.Millisecond)
		_ = b.Execute(context.Background(), fail) // failed trial re-opens
		if b.State() != Open {
			t.Fatalf("step %d: failed trial must re-open", i)
		}
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var calls int32
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		var boe *errs.BreakerOpenError
		if !errors.As(err, &boe) {
			t.Fatalf("concurrent caller during trial should be rejected, got %v", err)
		}
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for b.State() != Closed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one trial call, got %d", got)
	}
	if b.State() != Closed {
		t.Fatalf("successful trial should close the breaker")
	}
}

func TestCheckDoesNotClaimTrial(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	if err := b.Check(); err != nil {
		t.Fatalf("closed breaker rejected: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	var boe *errs.BreakerOpenError
	if err := b.Check(); !errors.As(err, &boe) {
		t.Fatalf("expected BreakerOpenError while open, got %v", err)
	}

	clk.Advance(time.Second)
	for i := 0; i < 2; i++ {
		if err := b.Check(); err != nil {
			t.Fatalf("check %d after cooldown: %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("check must not move the breaker, got %s", b.State())
	}
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("trial after checks was rejected: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after trial success, got %s", b.State())
	}
}

func TestThresholdBelowMinimumIsRaised(t *testing.T) {
	b := New("p", Config{FailureThreshold: 1, BaseCooldown: time.Second})
	for i := 0; i < MinFailureThreshold-1; i++ {
		_ = b.Execute(context.Background(), fail)
		if b.State() != Closed {
			t.Fatalf("opened after %d failures", i+1)
		}
	}
	_ = b.Execute(context.Background(), fail)
	if b.State() != Open {
		t.Fatalf("expected open after %d failures, got %s", MinFailureThreshold, b.State())
	}
}

func TestCancellationIsNotCounted(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	}
	if b.State() != Closed {
		t.Fatalf("caller cancellation must not trip the breaker")
	}
}

func TestResetAndStateChangeHook(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	b := New("p", Config{FailureThreshold: 3, BaseCooldown: time.Second}, WithClock(clk.Now),
		WithStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("reset should close the breaker")
	}
	if len(transitions) != 2 || transitions[0] != "closed->open" || transitions[1] != "open->closed" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestSetCreatesOneBreakerPerName(t *testing.T) {
	s := NewSet(DefaultConfig())
	if s.Get("a") != s.Get("a") {
		t.Fatalf("expected the same breaker instance")
	}
	_ = s.Get("b")
	snaps := s.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "a" || snaps[1].Name != "b" {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
	if _, ok := s.Lookup("c"); ok {
		t.Fatalf("lookup must not create breakers")
	}
}
