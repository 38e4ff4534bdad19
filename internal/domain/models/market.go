package models

import "time"

// MarketRecord is a single price observation produced by the fetch stage.
type MarketRecord struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// AugmentedRecord pairs a market record with retrieved context in relevance order.
type AugmentedRecord struct {
	Raw       MarketRecord `json:"raw"`
	Context   []string     `json:"context"`
	Embedding []float32    `json:"embedding,omitempty"`
}

// HistoricalDocument is one entry of the retrieval index.
type HistoricalDocument struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding,omitempty"`
	Text      string    `json:"text"`
	Price     float64   `json:"price"`
	Timestamp int64     `json:"timestamp"`
	Symbol    string    `json:"symbol"`
}
