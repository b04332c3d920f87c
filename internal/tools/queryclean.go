package tools

import (
	"log/slog"
	"regexp"
	"strings"
)

// trailingTemporalTokens are query suffixes that add recency intent the
// corpus cannot honor. They are stripped repeatedly from the end of the
// query; the cleaning is deterministic and side-effect free. Phrases come
// before their own last word so the whole phrase is stripped.
var trailingTemporalTokens = []string{
	"right now", "as of today",
	"today", "yesterday", "tomorrow", "now", "currently",
	"this week", "this month", "this year",
	"last week", "last month", "last year",
	"latest",
}

// isoDatePattern matches ISO calendar dates anywhere in the query.
var isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

// CleanQuery strips temporal tokens from a query. When the query
// changes, the transformation is logged so the original remains
// recoverable from the logs.
func CleanQuery(query string) string {
	cleaned := strings.TrimSpace(query)

	cleaned = isoDatePattern.ReplaceAllString(cleaned, "")

	for changed := true; changed; {
		changed = false
		trimmed := strings.TrimRight(cleaned, " \t.,;:!?")
		for _, token := range trailingTemporalTokens {
			if len(trimmed) >= len(token) && strings.EqualFold(trimmed[len(trimmed)-len(token):], token) {
				boundary := len(trimmed) - len(token)
				if boundary == 0 || trimmed[boundary-1] == ' ' {
					cleaned = strings.TrimSpace(trimmed[:boundary])
					changed = true
					break
				}
			}
		}
	}

	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if cleaned != strings.TrimSpace(query) && cleaned != "" {
		slog.Info("query cleaned of temporal tokens",
			"original", query,
			"cleaned", cleaned,
		)
	}
	if cleaned == "" {
		// A query that was only temporal tokens is left alone; the
		// caller's empty-query validation already ran.
		return strings.TrimSpace(query)
	}
	return cleaned
}
