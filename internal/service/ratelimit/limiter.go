package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeadlineTooShort is returned when the caller's deadline ends before a token would be available.
var ErrDeadlineTooShort = errors.New("ratelimit: deadline exceeded before token available")

// ErrExhausted is returned for a bucket that never refills and has no tokens left.
var ErrExhausted = errors.New("ratelimit: bucket exhausted")

type bucket struct {
	tokens     float64 // may go negative: outstanding reservations
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
}

// Limiter is a set of token buckets keyed by provider id.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{m: make(map[string]*bucket), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register creates or replaces the bucket for key. The bucket starts full.
func (l *Limiter) Register(key string, capacity, refillPerSec float64) {
	if capacity < 1 {
		capacity = 1
	}
	l.mu.Lock()
	l.m[key] = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: l.now()}
	l.mu.Unlock()
}

// Allow returns true if one token can be consumed for key right now.
// Keys without a registered bucket are unlimited.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		return true
	}
	b.refill(l.now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token for key is available or ctx ends.
//
// The token is reserved at call time, so concurrent callers are served in arrival
// order while the bucket refills. If ctx carries a deadline that ends before the
// reserved slot, Acquire returns ErrDeadlineTooShort immediately without waiting.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	b, ok := l.m[key]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	now := l.now()
	b.refill(now)
	b.tokens--
	if b.tokens >= 0 {
		l.mu.Unlock()
		return nil
	}
	if b.refillRate <= 0 {
		b.tokens++
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrExhausted)
	}
	wait := time.Duration(-b.tokens / b.refillRate * float64(time.Second))
	if dl, ok := ctx.Deadline(); ok && now.Add(wait).After(dl) {
		b.tokens++
		l.mu.Unlock()
		return fmt.Errorf("%s: wait %s: %w", key, wait, ErrDeadlineTooShort)
	}
	l.mu.Unlock()

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		l.release(key)
		return ctx.Err()
	}
}

// release hands back a reservation that was never used.
func (l *Limiter) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.m[key]; ok {
		b.refill(l.now())
		b.tokens++
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
}

// Tokens reports the tokens currently available for key. Negative values mean
// callers are queued; ok is false for unregistered keys.
func (l *Limiter) Tokens(key string) (tokens float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, found := l.m[key]
	if !found {
		return 0, false
	}
	b.refill(l.now())
	return b.tokens, true
}
