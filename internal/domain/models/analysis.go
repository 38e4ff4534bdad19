package models

import "strings"

// Recommendation is the trading stance attached to an analysis.
type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Hold Recommendation = "HOLD"
)

// ParseRecommendation accepts BUY, SELL or HOLD in any case.
func ParseRecommendation(s string) (Recommendation, bool) {
	switch Recommendation(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	case Hold:
		return Hold, true
	}
	return "", false
}

// AnalysisResult is a schema-validated answer from a generative provider.
type AnalysisResult struct {
	Summary        string         `json:"summary"`
	Signals        []string       `json:"signals"`
	Confidence     float64        `json:"confidence"`
	Sources        []string       `json:"sources"`
	Recommendation Recommendation `json:"recommendation"`
	Provider       string         `json:"provider"`
}
