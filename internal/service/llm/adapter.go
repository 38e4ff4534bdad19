// Package llm routes analysis requests across generative-text providers and
// validates their answers against a strict JSON contract.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	xhttp "FinOracle/pkg/http"
)

// Adapter sends one system instruction and one user prompt and returns the raw text answer.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Config describes one configured adapter.
type Config struct {
	Name        string
	Kind        string // defaults to Name
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Constructor builds an adapter from its config.
type Constructor func(cfg Config, client *xhttp.Client) (Adapter, error)

var (
	registry = make(map[string]Constructor)
	mu       sync.RWMutex
)

// Register adds a constructor for kind.
func Register(kind string, ctor Constructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[kind]; exists {
		return fmt.Errorf("llm adapter already registered for kind: %s", kind)
	}
	registry[kind] = ctor
	return nil
}

// Kinds lists the registered adapter kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the adapter registered for cfg.Kind (or cfg.Name).
func New(cfg Config, client *xhttp.Client) (Adapter, error) {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = strings.ToLower(cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = kind
	}
	mu.RLock()
	ctor, ok := registry[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported llm provider: %s", kind)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm provider %s: api key not configured", cfg.Name)
	}
	if client == nil {
		client = xhttp.NewClient(xhttp.WithTimeout(60 * time.Second))
	}
	return ctor(cfg, client)
}

func init() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(Register("gemini", newGemini))
	must(Register("anthropic", newAnthropic))
	for kind := range openAICompatible {
		must(Register(kind, newOpenAICompatible))
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
