package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xhttp "FinOracle/pkg/http"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiEmbedder calls the Gemini embedContent endpoint.
type GeminiEmbedder struct {
	http    *xhttp.Client
	baseURL string
	apiKey  string
	model   string
}

// EmbedderOption configures GeminiEmbedder.
type EmbedderOption func(*GeminiEmbedder)

// WithEmbedderBaseURL points the embedder at another host (tests, proxies).
func WithEmbedderBaseURL(u string) EmbedderOption {
	return func(e *GeminiEmbedder) { e.baseURL = strings.TrimRight(u, "/") }
}

// WithEmbedderModel overrides the embedding model.
func WithEmbedderModel(m string) EmbedderOption {
	return func(e *GeminiEmbedder) { e.model = m }
}

// NewGeminiEmbedder creates an embedder using embedding-001 by default.
func NewGeminiEmbedder(client *xhttp.Client, apiKey string, opts ...EmbedderOption) *GeminiEmbedder {
	e := &GeminiEmbedder{
		http:    client,
		baseURL: "https://generativelanguage.googleapis.com",
		apiKey:  apiKey,
		model:   "embedding-001",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedRequest struct {
	Content struct {
		Parts []embedPart `json:"parts"`
	} `json:"content"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, errors.New("gemini embedder: api key not configured")
	}
	var req embedRequest
	req.Content.Parts = []embedPart{{Text: text}}

	var resp embedResponse
	err := e.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodPost,
		URL:         fmt.Sprintf("%s/v1beta/models/%s:embedContent", e.baseURL, e.model),
		QueryParams: map[string][]string{"key": {e.apiKey}},
		Body:        req,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, errors.New("gemini embed: empty embedding")
	}
	return resp.Embedding.Values, nil
}
