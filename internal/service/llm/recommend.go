package llm

import (
	"strings"
	"unicode"

	"FinOracle/internal/domain/models"
)

var (
	bullishWords = map[string]bool{"buy": true, "bullish": true, "long": true}
	bearishWords = map[string]bool{"sell": true, "bearish": true, "short": true}
)

// Recommend returns the explicit recommendation when it is valid, otherwise
// derives one from keywords in the summary and signals. Ties fall back to HOLD.
func Recommend(explicit, summary string, signals []string) models.Recommendation {
	if r, ok := models.ParseRecommendation(explicit); ok {
		return r
	}
	bull, bear := 0, 0
	count := func(text string) {
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			switch {
			case bullishWords[w]:
				bull++
			case bearishWords[w]:
				bear++
			}
		}
	}
	count(summary)
	for _, s := range signals {
		count(s)
	}
	switch {
	case bull > bear:
		return models.Buy
	case bear > bull:
		return models.Sell
	default:
		return models.Hold
	}
}
