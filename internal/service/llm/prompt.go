package llm

import (
	"fmt"
	"strconv"
	"strings"

	"FinOracle/internal/domain/models"
)

// SystemInstruction pins every adapter to the same answer contract.
const SystemInstruction = `You are a market analysis engine. Respond ONLY as strict JSON:
{"summary": string, "signals": string[], "confidence": number (0..1), "sources": string[]}
No prose outside JSON.`

// BuildPrompt renders the user prompt for an augmented record.
func BuildPrompt(rec models.AugmentedRecord) string {
	var b strings.Builder
	b.WriteString("Analyze this cryptocurrency data and provide insights:\n")
	fmt.Fprintf(&b, "Symbol: %s\n", rec.Raw.Symbol)
	fmt.Fprintf(&b, "Current Price: $%s\n", strconv.FormatFloat(rec.Raw.Price, 'f', -1, 64))
	if rec.Raw.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", rec.Raw.Source)
	}
	if len(rec.Context) == 0 {
		b.WriteString("Context: none available")
	} else {
		fmt.Fprintf(&b, "Context: %s", strings.Join(rec.Context, "; "))
	}
	return b.String()
}
