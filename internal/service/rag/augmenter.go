// Package rag augments market records with context retrieved from the historical index.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
	"FinOracle/pkg/logger"
)

const importBatchSize = 100

// Index is the retrieval store.
type Index interface {
	Search(ctx context.Context, query string, embedding []float32, limit int) ([]models.HistoricalDocument, error)
	Import(ctx context.Context, docs []models.HistoricalDocument) (int, error)
	EnsureCollection(ctx context.Context) error
}

// Augmenter never fails a run: retrieval problems degrade to an empty context.
type Augmenter struct {
	embedder Embedder
	index    Index
	topK     int
	metrics  repository.Metrics
	log      *logger.Logger
}

type Option func(*Augmenter)

func WithTopK(k int) Option {
	return func(a *Augmenter) {
		if k > 0 {
			a.topK = k
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(a *Augmenter) { a.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(a *Augmenter) { a.log = l }
}

func NewAugmenter(embedder Embedder, index Index, opts ...Option) *Augmenter {
	a := &Augmenter{
		embedder: embedder,
		index:    index,
		topK:     3,
		metrics:  repository.NopMetrics{},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// QueryText is the text embedded for a record, e.g. "BTC price: $65000.5".
func QueryText(rec models.MarketRecord) string {
	return fmt.Sprintf("%s price: $%s", rec.Symbol, formatPrice(rec.Price))
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// FormatContext renders hits in relevance order.
func FormatContext(docs []models.HistoricalDocument) []string {
	out := make([]string, 0, len(docs))
	for i, d := range docs {
		out = append(out, fmt.Sprintf("Rank %d: %s - $%s at timestamp %d", i+1, d.Text, formatPrice(d.Price), d.Timestamp))
	}
	return out
}

// Augment attaches up to topK context snippets to rec.
func (a *Augmenter) Augment(ctx context.Context, rec models.MarketRecord) models.AugmentedRecord {
	out := models.AugmentedRecord{Raw: rec, Context: []string{}}

	embedding, err := a.embedder.Embed(ctx, QueryText(rec))
	if err != nil {
		a.degrade("embed", rec.Symbol, err)
		return out
	}
	out.Embedding = embedding

	docs, err := a.index.Search(ctx, rec.Symbol, embedding, a.topK)
	if err != nil {
		a.degrade("search", rec.Symbol, err)
		return out
	}
	if len(docs) > a.topK {
		docs = docs[:a.topK]
	}
	out.Context = FormatContext(docs)
	return out
}

func (a *Augmenter) degrade(step, symbol string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.metrics.RecordError("augment_" + step)
	a.log.Warn("augment degraded to empty context",
		logger.String("step", step),
		logger.String("symbol", symbol),
		logger.Error(err))
}

// IngestResult summarizes an ingest.
type IngestResult struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// EnsureCollection creates the index collection if needed.
func (a *Augmenter) EnsureCollection(ctx context.Context) error {
	return a.index.EnsureCollection(ctx)
}

// Ingest embeds documents that have no vector yet and upserts them in batches of 100.
// A failed document or batch is counted and skipped.
func (a *Augmenter) Ingest(ctx context.Context, docs []models.HistoricalDocument) (IngestResult, error) {
	var res IngestResult
	for start := 0; start < len(docs); start += importBatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + importBatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batch := make([]models.HistoricalDocument, 0, end-start)
		for _, d := range docs[start:end] {
			if len(d.Embedding) == 0 {
				emb, err := a.embedder.Embed(ctx, d.Text)
				if err != nil {
					a.log.Warn("ingest embed failed", logger.String("id", d.ID), logger.Error(err))
					res.Failed++
					continue
				}
				d.Embedding = emb
			}
			batch = append(batch, d)
		}
		if len(batch) == 0 {
			continue
		}

		n, err := a.index.Import(ctx, batch)
		if err != nil {
			a.log.Warn("ingest batch failed", logger.Int("size", len(batch)), logger.Error(err))
			res.Failed += len(batch)
			continue
		}
		res.Indexed += n
		res.Failed += len(batch) - n
		a.log.Info("ingest batch indexed", logger.Int("indexed", n), logger.Int("total", res.Indexed))
	}
	if res.Indexed == 0 && res.Failed > 0 {
		return res, fmt.Errorf("ingest: none of %d documents were indexed", res.Failed)
	}
	return res, nil
}

// LoadDocuments parses a JSON array of historical entries. Entries use either
// id or symbol as the id and either description or text as the text.
func LoadDocuments(r io.Reader) ([]models.HistoricalDocument, error) {
	var entries []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parse historical entries: %w", err)
	}
	docs := make([]models.HistoricalDocument, 0, len(entries))
	for i, e := range entries {
		d, err := documentFromEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func documentFromEntry(e map[string]json.RawMessage) (models.HistoricalDocument, error) {
	var d models.HistoricalDocument
	str := func(keys ...string) (string, error) {
		for _, k := range keys {
			if raw, ok := e[k]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err != nil {
					return "", fmt.Errorf("%s is not a string", k)
				}
				return s, nil
			}
		}
		return "", fmt.Errorf("missing %s", strings.Join(keys, " or "))
	}

	var err error
	if d.Symbol, err = str("symbol"); err != nil {
		return d, err
	}
	if d.ID, err = str("id", "symbol"); err != nil {
		return d, err
	}
	if d.Text, err = str("description", "text"); err != nil {
		return d, err
	}
	raw, ok := e["price"]
	if !ok {
		return d, errors.New("missing price")
	}
	if err := json.Unmarshal(raw, &d.Price); err != nil {
		return d, errors.New("price is not a number")
	}
	raw, ok = e["timestamp"]
	if !ok {
		return d, errors.New("missing timestamp")
	}
	if err := json.Unmarshal(raw, &d.Timestamp); err != nil {
		return d, errors.New("timestamp is not an integer")
	}
	if raw, ok := e["embedding"]; ok {
		_ = json.Unmarshal(raw, &d.Embedding)
	}
	return d, nil
}

// Passthrough is used when retrieval is disabled; every record gets an empty context.
type Passthrough struct{}

func (Passthrough) Augment(_ context.Context, rec models.MarketRecord) models.AugmentedRecord {
	return models.AugmentedRecord{Raw: rec, Context: []string{}}
}
