// Package cache is the in-process market record cache with an optional shared tier.
package cache

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"FinOracle/internal/domain/models"
	pkgcache "FinOracle/pkg/cache"
	"FinOracle/pkg/logger"
)

// Kind groups cached records that share a TTL.
type Kind string

const (
	KindPrice      Kind = "price"
	KindHistorical Kind = "historical"
	KindGlobal     Kind = "global"
)

// Key identifies a cache entry by kind and symbol.
type Key struct {
	Kind   Kind
	Symbol string
}

// PriceKey is the key used by the fetch coordinator.
func PriceKey(symbol string) Key { return Key{Kind: KindPrice, Symbol: symbol} }

func (k Key) String() string { return string(k.Kind) + ":" + strings.ToUpper(k.Symbol) }

// Remote is a shared second tier. pkg/cache.RedisCache satisfies it.
type Remote interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

// Loader produces a fresh record for Warm.
type Loader func(ctx context.Context, key Key) (models.MarketRecord, error)

// Config holds TTLs and the optional size cap.
type Config struct {
	DefaultTTL time.Duration
	KindTTL    map[Kind]time.Duration
	MaxEntries int // 0 disables LRU eviction
}

// DefaultConfig mirrors the freshness needs of each record kind.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		KindTTL: map[Kind]time.Duration{
			KindPrice:      30 * time.Second,
			KindHistorical: time.Hour,
			KindGlobal:     15 * time.Minute,
		},
	}
}

// Stats are cumulative counters since start or the last Clear.
type Stats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	RemoteHits uint64  `json:"remote_hits"`
	Expired    uint64  `json:"expired"`
	Evicted    uint64  `json:"evicted"`
	Entries    int     `json:"entries"`
	HitRate    float64 `json:"hit_rate"`
}

type entry struct {
	key        string
	value      models.MarketRecord
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

// remoteEntry carries the insertion time so the shared tier expires by the same rule.
type remoteEntry struct {
	Value      models.MarketRecord `json:"value"`
	InsertedAt time.Time           `json:"inserted_at"`
	TTL        time.Duration       `json:"ttl"`
}

func expired(now, insertedAt time.Time, ttl time.Duration) bool {
	return now.Sub(insertedAt) >= ttl
}

// MarketCache is safe for concurrent use.
type MarketCache struct {
	cfg    Config
	now    func() time.Time
	remote Remote
	log    *logger.Logger

	mu    sync.Mutex
	m     map[string]*entry
	lru   *list.List // front = most recently used
	stats Stats
}

// Option configures a MarketCache.
type Option func(*MarketCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *MarketCache) { c.now = now }
}

// WithRemote adds a shared second tier.
func WithRemote(r Remote) Option {
	return func(c *MarketCache) { c.remote = r }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *logger.Logger) Option {
	return func(c *MarketCache) { c.log = l }
}

// New creates an empty cache.
func New(cfg Config, opts ...Option) *MarketCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	c := &MarketCache{
		cfg: cfg,
		now: time.Now,
		log: logger.Nop(),
		m:   make(map[string]*entry),
		lru: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTLFor returns the configured TTL of a kind.
func (c *MarketCache) TTLFor(kind Kind) time.Duration {
	if ttl, ok := c.cfg.KindTTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns the record for key if present and younger than its TTL.
func (c *MarketCache) Get(ctx context.Context, key Key) (models.MarketRecord, bool) {
	k := key.String()
	now := c.now()

	c.mu.Lock()
	if e, ok := c.m[k]; ok {
		if !expired(now, e.insertedAt, e.ttl) {
			c.lru.MoveToFront(e.elem)
			c.stats.Hits++
			v := e.value
			c.mu.Unlock()
			return v, true
		}
		c.removeLocked(e)
		c.stats.Expired++
	}
	c.mu.Unlock()

	if c.remote != nil {
		var re remoteEntry
		err := c.remote.Get(ctx, k, &re)
		switch {
		case err == nil && !expired(now, re.InsertedAt, re.TTL):
			c.mu.Lock()
			c.storeLocked(k, re.Value, re.InsertedAt, re.TTL)
			c.stats.Hits++
			c.stats.RemoteHits++
			c.mu.Unlock()
			return re.Value, true
		case err != nil && !errors.Is(err, pkgcache.ErrCacheMiss):
			c.log.Warn("cache remote get failed", logger.String("key", k), logger.Error(err))
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return models.MarketRecord{}, false
}

// Set stores value under key. A non-positive ttl uses the kind's TTL.
func (c *MarketCache) Set(ctx context.Context, key Key, value models.MarketRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.TTLFor(key.Kind)
	}
	k := key.String()
	now := c.now()

	c.mu.Lock()
	c.storeLocked(k, value, now, ttl)
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Set(ctx, k, remoteEntry{Value: value, InsertedAt: now, TTL: ttl}, ttl); err != nil {
			c.log.Warn("cache remote set failed", logger.String("key", k), logger.Error(err))
		}
	}
}

// Invalidate removes key from both tiers.
func (c *MarketCache) Invalidate(ctx context.Context, key Key) {
	k := key.String()
	c.mu.Lock()
	if e, ok := c.m[k]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Delete(ctx, k); err != nil {
			c.log.Warn("cache remote delete failed", logger.String("key", k), logger.Error(err))
		}
	}
}

// Warm loads every key and stores the results. Failures are logged and skipped;
// the number of keys warmed is returned.
func (c *MarketCache) Warm(ctx context.Context, keys []Key, load Loader) int {
	warmed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		rec, err := load(ctx, key)
		if err != nil {
			c.log.Warn("cache warm failed", logger.String("key", key.String()), logger.Error(err))
			continue
		}
		c.Set(ctx, key, rec, 0)
		warmed++
	}
	return warmed
}

// Clear drops every local entry and resets the counters. The shared tier is left alone.
func (c *MarketCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.m = make(map[string]*entry)
	c.lru.Init()
	c.stats = Stats{}
	c.mu.Unlock()
}

// Stats returns a copy of the counters.
func (c *MarketCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.m)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *MarketCache) storeLocked(k string, v models.MarketRecord, insertedAt time.Time, ttl time.Duration) {
	if e, ok := c.m[k]; ok {
		e.value, e.insertedAt, e.ttl = v, insertedAt, ttl
		c.lru.MoveToFront(e.elem)
		return
	}
	if c.cfg.MaxEntries > 0 && len(c.m) >= c.cfg.MaxEntries {
		if back := c.lru.Back(); back != nil {
			c.removeLocked(back.Value.(*entry))
			c.stats.Evicted++
		}
	}
	e := &entry{key: k, value: v, insertedAt: insertedAt, ttl: ttl}
	e.elem = c.lru.PushFront(e)
	c.m[k] = e
}

func (c *MarketCache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.m, e.key)
}
