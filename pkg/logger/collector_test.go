package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu    sync.Mutex
	topic string
	batch LogBatch
	done  chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batch = payload.(LogBatch)
	close(p.done)
	return nil
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{})}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "finoracle.logs", Publisher: pub, Service: "oracle-1"})
	defer l.RemoveCollector()

	for i := 0; i < 3; i++ {
		l.Error("provider failed", String("provider", "coingecko"), Error(errors.New("boom")))
	}
	l.Error("ledger rejected", String("symbol", "BTC"))

	select {
	case <-pub.done:
	case <-time.After(time.Second):
		t.Fatalf("expected a flush once the unique threshold was reached")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "finoracle.logs" || pub.batch.Service != "oracle-1" {
		t.Fatalf("unexpected batch %q %+v", pub.topic, pub.batch)
	}
	counts := map[string]int{}
	for _, e := range pub.batch.Entries {
		counts[e.Message] = e.Count
	}
	if counts["provider failed"] != 3 || counts["ledger rejected"] != 1 {
		t.Fatalf("unexpected aggregation %v", counts)
	}
}

func TestWarnCollectedOnlyWhenEnabled(t *testing.T) {
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10})
	defer l.RemoveCollector()

	l.Warn("cache remote get failed")
	l.collector.mutex.RLock()
	n := len(l.collector.logMap)
	l.collector.mutex.RUnlock()
	if n != 0 {
		t.Fatalf("warnings must not be collected by default")
	}

	l.collectWarn = true
	l.Warn("cache remote get failed")
	l.collector.mutex.RLock()
	n = len(l.collector.logMap)
	l.collector.mutex.RUnlock()
	if n != 1 {
		t.Fatalf("expected warning to be collected, got %d entries", n)
	}
}

func TestEntryKeyIgnoresFieldOrder(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"a": 1, "b": "x"}, "c.go:1")
	b := entryKey("error", "m", map[string]interface{}{"b": "x", "a": 1}, "c.go:1")
	if a != b {
		t.Fatalf("field order must not change the key")
	}
	if a == entryKey("error", "m", map[string]interface{}{"a": 2, "b": "x"}, "c.go:1") {
		t.Fatalf("different values must produce different keys")
	}
}

func TestCloseFlushesRemainingEntries(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{})}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "t", Publisher: pub})
	l.Error("one", String("k", "v"))
	l.RemoveCollector()

	select {
	case <-pub.done:
	default:
		t.Fatalf("close must publish pending entries before returning")
	}
	if len(pub.batch.Entries) != 1 || pub.batch.Entries[0].Fields["k"] != "v" {
		t.Fatalf("unexpected batch %+v", pub.batch)
	}
}
