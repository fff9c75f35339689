package oracle

import "strings"

// CleanJSONResponse strips a markdown code fence from an oracle response.
// Models wrap JSON in fences often enough that every structured call site
// needs this before parsing.
func CleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
