package breaker

import (
	"sort"
	"sync"
)

// Set owns one breaker per provider id.
type Set struct {
	cfg  Config
	opts []Option

	mu sync.RWMutex
	m  map[string]*Breaker
}

// NewSet creates an empty set; breakers are created on first use with cfg and opts.
func NewSet(cfg Config, opts ...Option) *Set {
	return &Set{cfg: cfg, opts: opts, m: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it if needed.
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.m[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.m[name]; ok {
		return b
	}
	b = New(name, s.cfg, s.opts...)
	s.m[name] = b
	return b
}

// Lookup returns the breaker for name without creating one.
func (s *Set) Lookup(name string) (*Breaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[name]
	return b, ok
}

// Snapshots returns the state of every breaker, sorted by name.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.m))
	for _, b := range s.m {
		out = append(out, b.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
