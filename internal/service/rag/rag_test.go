package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"FinOracle/internal/domain/models"
	xhttp "FinOracle/pkg/http"
)

type fakeBackend struct {
	mu          sync.Mutex
	embedTexts  []string
	searchQuery map[string]string
	importSizes []int
	searchFail  bool
	embedFail   bool
	createCode  int
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/embedding-001:embedContent", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "gkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.embedFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.embedTexts = append(f.embedTexts, req.Content.Parts[0].Text)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.5,0.25]}}`))
	})
	mux.HandleFunc("/collections/historical_data/documents/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-TYPESENSE-API-KEY") != "tkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.searchFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		f.mu.Lock()
		f.searchQuery = q
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"hits":[
			{"document":{"id":"1","text":"BTC rallied","price":64000,"timestamp":1700000300,"symbol":"BTC"}},
			{"document":{"id":"2","text":"BTC dipped","price":62000.5,"timestamp":1700000200,"symbol":"BTC"}},
			{"document":{"id":"3","text":"BTC flat","price":63000,"timestamp":1700000100,"symbol":"BTC"}}
		]}`))
	})
	mux.HandleFunc("/collections/historical_data/documents/import", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "upsert" {
			t.Errorf("import without upsert action")
		}
		body, _ := io.ReadAll(r.Body)
		sc := bufio.NewScanner(strings.NewReader(string(body)))
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		n := 0
		var out strings.Builder
		for sc.Scan() {
			n++
			out.WriteString(`{"success":true}` + "\n")
		}
		f.mu.Lock()
		f.importSizes = append(f.importSizes, n)
		f.mu.Unlock()
		_, _ = w.Write([]byte(out.String()))
	})
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(f.createCode)
	})
	return mux
}

func newTestAugmenter(t *testing.T, f *fakeBackend) *Augmenter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	client := xhttp.NewClient()
	emb := NewGeminiEmbedder(client, "gkey", WithEmbedderBaseURL(srv.URL))
	idx := NewTypesense(client, srv.URL, "tkey")
	return NewAugmenter(emb, idx)
}

func TestAugmentFormatsContextInRelevanceOrder(t *testing.T) {
	f := &fakeBackend{}
	a := newTestAugmenter(t, f)

	out := a.Augment(context.Background(), models.MarketRecord{Symbol: "BTC", Price: 65000.5})
	want := []string{
		"Rank 1: BTC rallied - $64000 at timestamp 1700000300",
		"Rank 2: BTC dipped - $62000.5 at timestamp 1700000200",
		"Rank 3: BTC flat - $63000 at timestamp 1700000100",
	}
	if len(out.Context) != len(want) {
		t.Fatalf("unexpected context %v", out.Context)
	}
	for i := range want {
		if out.Context[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, out.Context[i], want[i])
		}
	}
	if len(f.embedTexts) != 1 || f.embedTexts[0] != "BTC price: $65000.5" {
		t.Fatalf("unexpected embedded text %v", f.embedTexts)
	}
	q := f.searchQuery
	if q["q"] != "BTC" || q["query_by"] != "text" || q["limit"] != "3" || q["sort_by"] != "timestamp:desc" {
		t.Fatalf("unexpected search params %v", q)
	}
	if q["vector_query"] != "embedding:([0.5,0.25], k:3)" {
		t.Fatalf("unexpected vector query %q", q["vector_query"])
	}
}

func TestAugmentDegradesOnSearchFailure(t *testing.T) {
	f := &fakeBackend{searchFail: true}
	a := newTestAugmenter(t, f)
	out := a.Augment(context.Background(), models.MarketRecord{Symbol: "BTC", Price: 1})
	if len(out.Context) != 0 {
		t.Fatalf("expected empty context, got %v", out.Context)
	}
	if len(out.Embedding) != 2 {
		t.Fatalf("computed embedding should be kept")
	}
	if out.Raw.Symbol != "BTC" {
		t.Fatalf("raw record must pass through")
	}
}

func TestAugmentDegradesOnEmbedFailure(t *testing.T) {
	f := &fakeBackend{embedFail: true}
	a := newTestAugmenter(t, f)
	out := a.Augment(context.Background(), models.MarketRecord{Symbol: "ETH", Price: 1})
	if len(out.Context) != 0 || out.Embedding != nil {
		t.Fatalf("expected empty augmentation, got %+v", out)
	}
}

func TestIngestBatchesOf100(t *testing.T) {
	f := &fakeBackend{}
	a := newTestAugmenter(t, f)

	docs := make([]models.HistoricalDocument, 250)
	for i := range docs {
		docs[i] = models.HistoricalDocument{ID: "d", Text: "t", Price: 1, Timestamp: int64(i), Symbol: "BTC"}
	}
	docs[0].Embedding = []float32{1, 2}

	res, err := a.Ingest(context.Background(), docs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Indexed != 250 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.importSizes) != 3 || f.importSizes[0] != 100 || f.importSizes[1] != 100 || f.importSizes[2] != 50 {
		t.Fatalf("unexpected batches %v", f.importSizes)
	}
	if len(f.embedTexts) != 249 {
		t.Fatalf("documents with an embedding must not be re-embedded, embedded %d", len(f.embedTexts))
	}
}

func TestEnsureCollectionToleratesConflict(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusConflict} {
		f := &fakeBackend{createCode: code}
		a := newTestAugmenter(t, f)
		if err := a.EnsureCollection(context.Background()); err != nil {
			t.Fatalf("status %d: %v", code, err)
		}
	}
	f := &fakeBackend{createCode: http.StatusBadRequest}
	if err := newTestAugmenter(t, f).EnsureCollection(context.Background()); err == nil {
		t.Fatalf("expected error on 400")
	}
}

func TestLoadDocuments(t *testing.T) {
	in := `[
		{"symbol":"BTC","description":"halving week","price":64000,"timestamp":1700000000},
		{"id":"eth-1","symbol":"ETH","text":"merge","price":3100.5,"timestamp":1700000001}
	]`
	docs, err := LoadDocuments(strings.NewReader(in))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if docs[0].ID != "BTC" || docs[0].Text != "halving week" || docs[1].ID != "eth-1" || docs[1].Price != 3100.5 {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if _, err := LoadDocuments(strings.NewReader(`[{"symbol":"BTC","text":"x","price":"high","timestamp":1}]`)); err == nil {
		t.Fatalf("expected error for non-numeric price")
	}
}
