package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	xhttp "FinOracle/pkg/http"
)

const validAnswer = `{"summary":"BTC looks bullish","signals":["momentum up"],"confidence":0.8,"sources":["coingecko"]}`

type scripted struct {
	name  string
	reply string
	err   error
	delay time.Duration
	calls int
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

func btc() models.AugmentedRecord {
	return models.AugmentedRecord{
		Raw:     models.MarketRecord{Symbol: "BTC", Price: 45000, Source: "coingecko"},
		Context: []string{"Rank 1: BTC rallied - $44000 at timestamp 1700000000"},
	}
}

func TestValidateRejectsContractViolations(t *testing.T) {
	cases := map[string]string{
		"missing confidence": `{"summary":"x","signals":[],"sources":[]}`,
		"confidence above 1": `{"summary":"x","signals":[],"confidence":1.5,"sources":[]}`,
		"negative":           `{"summary":"x","signals":[],"confidence":-0.1,"sources":[]}`,
		"prose prefix":       `Here you go: ` + validAnswer,
		"markdown fence":     "```json\n" + validAnswer + "\n```",
		"signals not array":  `{"summary":"x","signals":"up","confidence":0.5,"sources":[]}`,
		"summary not string": `{"summary":3,"signals":[],"confidence":0.5,"sources":[]}`,
		"confidence string":  `{"summary":"x","signals":[],"confidence":"0.5","sources":[]}`,
		"null sources":       `{"summary":"x","signals":[],"confidence":0.5,"sources":null}`,
		"broken json":        `{"summary":"x",}`,
	}
	for name, raw := range cases {
		_, err := Validate("gemini", raw)
		var sve *errs.SchemaValidationError
		if !errors.As(err, &sve) {
			t.Errorf("%s: expected SchemaValidationError, got %v", name, err)
			continue
		}
		if sve.Provider != "gemini" {
			t.Errorf("%s: provider not recorded: %+v", name, sve)
		}
	}
}

func TestValidateAcceptsBoundsAndExtraFields(t *testing.T) {
	for _, c := range []string{"0", "1", "0.5"} {
		raw := `  {"summary":"s","signals":[],"confidence":` + c + `,"sources":[],"extra":true}` + "\n"
		if _, err := Validate("p", raw); err != nil {
			t.Fatalf("confidence %s should be valid: %v", c, err)
		}
	}
}

func TestRecommendation(t *testing.T) {
	cases := []struct {
		explicit string
		summary  string
		signals  []string
		want     models.Recommendation
	}{
		{"sell", "very bullish", nil, models.Sell},
		{"", "bullish trend, consider a long position", nil, models.Buy},
		{"", "bearish", []string{"sell pressure"}, models.Sell},
		{"", "bullish", []string{"bearish divergence"}, models.Hold},
		{"", "sideways market", nil, models.Hold},
		{"MAYBE", "buy", nil, models.Buy},
		{"", "longer consolidation", nil, models.Hold},
	}
	for _, c := range cases {
		if got := Recommend(c.explicit, c.summary, c.signals); got != c.want {
			t.Errorf("Recommend(%q, %q, %v) = %s, want %s", c.explicit, c.summary, c.signals, got, c.want)
		}
	}
}

func TestRouterFallsBackAfterSchemaFailure(t *testing.T) {
	bad := &scripted{name: "gemini", reply: `{"summary":"x","signals":[],"confidence":1.5,"sources":[]}`}
	good := &scripted{name: "openai", reply: validAnswer}
	r := NewRouter([]Adapter{bad, good})

	res, err := r.Analyze(context.Background(), btc())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Provider != "openai" || res.Recommendation != models.Buy || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Fatalf("expected one call each, got %d and %d", bad.calls, good.calls)
	}
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter([]Adapter{
		&scripted{name: "a", err: errors.New("boom")},
		&scripted{name: "b", reply: "not json"},
		&scripted{name: "c", reply: validAnswer, delay: time.Second},
	}, WithCallTimeout(20*time.Millisecond))

	_, err := r.Analyze(context.Background(), btc())
	var aue *errs.AnalysisUnavailableError
	if !errors.As(err, &aue) {
		t.Fatalf("expected AnalysisUnavailableError, got %v", err)
	}
	if len(aue.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %+v", aue.Attempts)
	}
	var sve *errs.SchemaValidationError
	if !errors.As(err, &sve) || sve.Provider != "b" {
		t.Fatalf("expected schema failure of b to be reachable, got %v", sve)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the timeout of c to be reachable")
	}
}

func TestRouterStopsOnCancellation(t *testing.T) {
	second := &scripted{name: "b", reply: validAnswer}
	ctx, cancel := context.WithCancel(context.Background())
	first := &scripted{name: "a", delay: time.Second}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := NewRouter([]Adapter{first, second}).Analyze(ctx, btc())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if second.calls != 0 {
		t.Fatalf("no adapter should run after cancellation")
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(btc())
	for _, want := range []string{"Symbol: BTC", "Current Price: $45000", "Context: Rank 1: BTC rallied"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	empty := BuildPrompt(models.AugmentedRecord{Raw: models.MarketRecord{Symbol: "ETH", Price: 1.5}})
	if !strings.Contains(empty, "Context: none available") {
		t.Fatalf("expected empty context marker:\n%s", empty)
	}
}

func TestGeminiAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" || r.URL.Query().Get("key") != "k" {
			t.Errorf("unexpected request %s", r.URL)
		}
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["system_instruction"]; !ok {
			t.Errorf("system instruction not sent")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{
				"content": map[string]interface{}{"parts": []interface{}{map[string]string{"text": validAnswer}}},
			}},
		})
	}))
	defer srv.Close()

	a, err := New(Config{Name: "gemini", APIKey: "k", BaseURL: srv.URL}, xhttp.NewClient())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := a.Complete(context.Background(), SystemInstruction, "prompt")
	if err != nil || out != validAnswer {
		t.Fatalf("unexpected completion %q, %v", out, err)
	}
}

func TestOpenAICompatibleAdapters(t *testing.T) {
	cases := []struct {
		kind string
		path string
		body string
	}{
		{"openai", "/v1/chat/completions", `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`},
		{"mistral", "/v1/chat/completions", `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`},
		{"aimlapi", "/chat/completions", `{"choices":[{"text":"ok"}]}`},
		{"kimi", "/v1/chat/completions", `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != c.path {
				t.Errorf("%s: unexpected path %s", c.kind, r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer k" {
				t.Errorf("%s: missing bearer token", c.kind)
			}
			_, _ = w.Write([]byte(c.body))
		}))
		a, err := New(Config{Name: c.kind, APIKey: "k", BaseURL: srv.URL}, nil)
		if err != nil {
			srv.Close()
			t.Fatalf("%s: new: %v", c.kind, err)
		}
		out, err := a.Complete(context.Background(), "sys", "prompt")
		srv.Close()
		if err != nil || out != "ok" {
			t.Fatalf("%s: unexpected completion %q, %v", c.kind, out, err)
		}
	}
}

func TestAnthropicAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	a, err := New(Config{Name: "claude", Kind: "anthropic", APIKey: "k", BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Name() != "claude" {
		t.Fatalf("expected configured name, got %s", a.Name())
	}
	if out, err := a.Complete(context.Background(), "sys", "prompt"); err != nil || out != "ok" {
		t.Fatalf("unexpected completion %q, %v", out, err)
	}
}

func TestAdapterHTTPErrorFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a, _ := New(Config{Name: "openai", APIKey: "k", BaseURL: srv.URL}, nil)
	good := &scripted{name: "backup", reply: validAnswer}
	res, err := NewRouter([]Adapter{a, good}).Analyze(context.Background(), btc())
	if err != nil || res.Provider != "backup" {
		t.Fatalf("expected fallback to backup, got %+v, %v", res, err)
	}
}

func TestNewRejectsUnknownAndKeyless(t *testing.T) {
	if _, err := New(Config{Name: "nope", APIKey: "k"}, nil); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := New(Config{Name: "openai"}, nil); err == nil {
		t.Fatalf("expected missing key error")
	}
	if err := Register("gemini", newGemini); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
