package util

import "strings"

// NormalizeSymbols splits comma separated lists, trims, uppercases and
// dedupes, preserving first-seen order.
func NormalizeSymbols(in ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
