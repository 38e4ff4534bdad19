package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
)

var requiredFields = []string{"summary", "signals", "confidence", "sources"}

// Validate checks raw against the answer contract. Unknown fields are tolerated.
func Validate(provider, raw string) (models.AnalysisResult, error) {
	reject := func(format string, args ...interface{}) (models.AnalysisResult, error) {
		return models.AnalysisResult{}, &errs.SchemaValidationError{Provider: provider, Reason: fmt.Sprintf(format, args...)}
	}

	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return reject("response is not a bare JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return reject("invalid json: %v", err)
	}
	for _, name := range requiredFields {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			return reject("missing field %q", name)
		}
	}

	var out models.AnalysisResult
	if err := json.Unmarshal(fields["summary"], &out.Summary); err != nil {
		return reject("summary must be a string")
	}
	if err := json.Unmarshal(fields["signals"], &out.Signals); err != nil {
		return reject("signals must be an array of strings")
	}
	if err := json.Unmarshal(fields["sources"], &out.Sources); err != nil {
		return reject("sources must be an array of strings")
	}
	if err := json.Unmarshal(fields["confidence"], &out.Confidence); err != nil {
		return reject("confidence must be a number")
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return reject("confidence %v outside [0,1]", out.Confidence)
	}

	var explicit string
	if v, ok := fields["recommendation"]; ok {
		_ = json.Unmarshal(v, &explicit)
	}
	out.Recommendation = Recommend(explicit, out.Summary, out.Signals)
	out.Provider = provider
	return out, nil
}
