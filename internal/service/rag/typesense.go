package rag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"FinOracle/internal/domain/models"
	xhttp "FinOracle/pkg/http"
)

const defaultCollection = "historical_data"

// Typesense is a minimal client for the historical_data collection.
type Typesense struct {
	http       *xhttp.Client
	baseURL    string
	apiKey     string
	collection string
	dim        int
}

// TypesenseOption configures Typesense.
type TypesenseOption func(*Typesense)

// WithCollection overrides the collection name.
func WithCollection(name string) TypesenseOption {
	return func(t *Typesense) { t.collection = name }
}

// WithEmbeddingDim sets num_dim of the embedding field.
func WithEmbeddingDim(n int) TypesenseOption {
	return func(t *Typesense) {
		if n > 0 {
			t.dim = n
		}
	}
}

func NewTypesense(client *xhttp.Client, baseURL, apiKey string, opts ...TypesenseOption) *Typesense {
	t := &Typesense{
		http:       client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: defaultCollection,
		dim:        768,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Typesense) headers(contentType string) map[string]string {
	h := map[string]string{"X-TYPESENSE-API-KEY": t.apiKey}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}

type searchResponse struct {
	Hits []struct {
		Document models.HistoricalDocument `json:"document"`
	} `json:"hits"`
}

// Search runs a hybrid text + vector query, newest first.
func (t *Typesense) Search(ctx context.Context, query string, embedding []float32, limit int) ([]models.HistoricalDocument, error) {
	params := map[string][]string{
		"q":        {query},
		"query_by": {"text"},
		"limit":    {strconv.Itoa(limit)},
		"sort_by":  {"timestamp:desc"},
	}
	if len(embedding) > 0 {
		params["vector_query"] = []string{vectorQuery(embedding, limit)}
	}

	var resp searchResponse
	err := t.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         fmt.Sprintf("%s/collections/%s/documents/search", t.baseURL, t.collection),
		Headers:     t.headers(""),
		QueryParams: params,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}
	docs := make([]models.HistoricalDocument, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		docs = append(docs, h.Document)
	}
	return docs, nil
}

func vectorQuery(embedding []float32, k int) string {
	var b strings.Builder
	b.WriteString("embedding:([")
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	fmt.Fprintf(&b, "], k:%d)", k)
	return b.String()
}

// Import upserts docs as JSONL and returns how many Typesense accepted.
func (t *Typesense) Import(ctx context.Context, docs []models.HistoricalDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return 0, fmt.Errorf("encode %s: %w", d.ID, err)
		}
	}

	var raw []byte
	err := t.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodPost,
		URL:         fmt.Sprintf("%s/collections/%s/documents/import", t.baseURL, t.collection),
		Headers:     t.headers("text/plain"),
		QueryParams: map[string][]string{"action": {"upsert"}},
		Body:        body.Bytes(),
	}, &raw)
	if err != nil {
		return 0, fmt.Errorf("typesense import: %w", err)
	}

	// one result line per document
	ok := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var line struct {
			Success bool `json:"success"`
		}
		if json.Unmarshal(sc.Bytes(), &line) == nil && line.Success {
			ok++
		}
	}
	return ok, nil
}

// EnsureCollection creates the collection. An existing collection is not an error.
func (t *Typesense) EnsureCollection(ctx context.Context) error {
	schema := map[string]interface{}{
		"name": t.collection,
		"fields": []map[string]interface{}{
			{"name": "id", "type": "string"},
			{"name": "embedding", "type": "float[]", "num_dim": t.dim},
			{"name": "text", "type": "string"},
			{"name": "price", "type": "float", "sort": true},
			{"name": "timestamp", "type": "int64", "sort": true},
			{"name": "symbol", "type": "string", "facet": true},
		},
		"default_sorting_field": "timestamp",
	}
	err := t.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     t.baseURL + "/collections",
		Headers: t.headers(""),
		Body:    schema,
	}, nil)
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Status == 409 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("typesense create collection: %w", err)
	}
	return nil
}

// Health pings the Typesense node.
func (t *Typesense) Health(ctx context.Context) error {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := t.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     t.baseURL + "/health",
		Headers: t.headers(""),
	}, &resp); err != nil {
		return fmt.Errorf("typesense health: %w", err)
	}
	if !resp.OK {
		return errors.New("typesense health: not ok")
	}
	return nil
}
