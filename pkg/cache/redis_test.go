package cache

import (
	"testing"
	"time"
)

func TestEncodeDecodeValue(t *testing.T) {
	type entry struct {
		Price float64   `json:"price"`
		At    time.Time `json:"at"`
	}
	in := entry{Price: 64000.5, At: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	data, err := encodeValue(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out entry
	if err := decodeValue(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Price != in.Price || !out.At.Equal(in.At) {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	raw, _ := encodeValue("plain")
	var s string
	if err := decodeValue(raw, &s); err != nil || s != "plain" {
		t.Fatalf("string values are stored verbatim, got %q (%v)", s, err)
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	c := NewRedisCache(nil, "oracle:")
	if got := c.key("price:BTC"); got != "oracle:price:BTC" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := c.lockKey("scheduler:leader"); got != "oracle:lock:scheduler:leader" {
		t.Fatalf("unexpected lock key %q", got)
	}
	if got := NewRedisCache(nil, "").key("x"); got != "finoracle:x" {
		t.Fatalf("default prefix not applied: %q", got)
	}
}

func TestRedisOptionsKeepDefaultsForZeroValues(t *testing.T) {
	cfg := defaultRedisConfig()
	for _, opt := range []RedisOption{
		WithRedisAddr(""),
		WithRedisPool(0, 0, 0),
		WithRedisPrefix(""),
		WithRedisDB(3),
	} {
		opt(cfg)
	}
	if cfg.Addr != "localhost:6379" || cfg.PoolSize != 10 || cfg.Prefix != "finoracle" || cfg.DB != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
