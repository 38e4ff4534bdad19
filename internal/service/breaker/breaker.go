// Package breaker implements the per-provider circuit breaker.
//
// A breaker opens after a run of consecutive failures, waits out a cooldown that
// doubles on every re-open (up to a cap), then admits exactly one trial call.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinOracle/internal/domain/errs"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds of a breaker.
type Config struct {
	FailureThreshold int
	BaseCooldown     time.Duration
	MaxCooldown      time.Duration
}

// MinFailureThreshold is the lowest accepted trip threshold; smaller values are raised to it.
const MinFailureThreshold = 3

// DefaultConfig trips after three failures and backs off from 5s up to 5m.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, BaseCooldown: 5 * time.Second, MaxCooldown: 5 * time.Minute}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FailureThreshold < MinFailureThreshold {
		c.FailureThreshold = MinFailureThreshold
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = d.BaseCooldown
	}
	if c.MaxCooldown < c.BaseCooldown {
		c.MaxCooldown = c.BaseCooldown
	}
	return c
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to State)

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	Trips               int
	OpenedAt            time.Time
	Cooldown            time.Duration
}

// Breaker gates calls to a single provider.
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange StateChangeFunc

	mu       sync.Mutex
	state    State
	failures int
	trips    int
	openedAt time.Time
	cooldown time.Duration
	trialOut bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition observer. It runs outside the breaker lock.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{name: name, cfg: cfg.normalized(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the provider id the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn if the breaker admits the call and records its outcome.
// A rejected call returns *errs.BreakerOpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(trial, err)
	return err
}

// Check reports whether a call would be rejected right now, without claiming
// the half-open trial. Callers use it to skip work such as waiting for a rate
// limit token before Execute.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if elapsed := b.now().Sub(b.openedAt); elapsed < b.cooldown {
			return &errs.BreakerOpenError{Provider: b.name, RetryAfter: b.cooldown - elapsed}
		}
	case HalfOpen:
		if b.trialOut {
			return &errs.BreakerOpenError{Provider: b.name}
		}
	}
	return nil
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, HalfOpen)
		}
	}()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return false, &errs.BreakerOpenError{Provider: b.name, RetryAfter: b.cooldown - elapsed}
		}
		from, changed = b.state, true
		b.state = HalfOpen
		b.trialOut = true
		return true, nil
	default:
		if b.trialOut {
			return false, &errs.BreakerOpenError{Provider: b.name}
		}
		b.trialOut = true
		return true, nil
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	from := b.state

	if err != nil && errors.Is(err, context.Canceled) {
		// the caller gave up; says nothing about the provider
		if trial && b.state == HalfOpen {
			b.trialOut = false
		}
		b.mu.Unlock()
		return
	}

	switch b.state {
	case Closed:
		if err == nil {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		if !trial {
			break
		}
		if err == nil {
			b.state = Closed
			b.failures = 0
			b.trips = 0
			b.cooldown = 0
			b.trialOut = false
			break
		}
		b.failures++
		b.trip()
	case Open:
		// late result of a call admitted before the breaker opened
	}

	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// trip moves to open with the next cooldown step. Caller holds mu.
func (b *Breaker) trip() {
	b.trips++
	cd := b.cfg.BaseCooldown
	for i := 1; i < b.trips && cd < b.cfg.MaxCooldown; i++ {
		cd *= 2
	}
	if cd > b.cfg.MaxCooldown {
		cd = b.cfg.MaxCooldown
	}
	b.cooldown = cd
	b.state = Open
	b.openedAt = b.now()
	b.trialOut = false
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State reports the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		Trips:               b.trips,
		OpenedAt:            b.openedAt,
		Cooldown:            b.cooldown,
	}
}

// Reset forces the breaker closed and clears its history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.trips = 0
	b.cooldown = 0
	b.openedAt = time.Time{}
	b.trialOut = false
	b.mu.Unlock()
	if from != Closed {
		b.notify(from, Closed)
	}
}
