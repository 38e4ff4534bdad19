package ledger

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
)

// Validate applies the program's acceptance rules to u.
func Validate(u models.LedgerUpdate) error {
	for _, f := range updateArgs {
		s, ok := f.ref(&u).(*string)
		if !ok || f.max == 0 {
			continue
		}
		if len(*s) > f.max {
			return &errs.EncodingError{
				Field:  f.name,
				Kind:   errs.FieldTooLong,
				Detail: fmt.Sprintf("%d bytes, max %d", len(*s), f.max),
			}
		}
	}
	if u.Symbol == "" {
		return &errs.EncodingError{Field: "symbol", Kind: errs.OutOfRange, Detail: "empty"}
	}
	if math.IsNaN(u.Price) || math.IsInf(u.Price, 0) || u.Price <= 0 {
		return &errs.EncodingError{Field: "price", Kind: errs.OutOfRange, Detail: fmt.Sprintf("%v must be positive and finite", u.Price)}
	}
	c := float64(u.Confidence)
	if math.IsNaN(c) || c < 0 || c > 1 {
		return &errs.EncodingError{Field: "confidence", Kind: errs.OutOfRange, Detail: fmt.Sprintf("%v outside [0,1]", u.Confidence)}
	}
	return nil
}

// UpdateFromAnalysis builds the ledger update for an analysed record. The
// insight is cut at a rune boundary to fit the program's cap.
func UpdateFromAnalysis(rec models.MarketRecord, a models.AnalysisResult, timestamp int64) models.LedgerUpdate {
	return models.LedgerUpdate{
		Symbol:         strings.ToUpper(rec.Symbol),
		Price:          rec.Price,
		Insight:        truncate(a.Summary, MaxInsightLen),
		Confidence:     float32(a.Confidence),
		Recommendation: string(a.Recommendation),
		Timestamp:      timestamp,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
