// Package sqlite provides the SQLite implementations of the per-account
// stores: articles and statuses, the sync outbox, feeds and the pull cursor.
package sqlite

import (
	"strings"
)

// maxPlaceholders keeps IN lists well below SQLite's variable limit.
const maxPlaceholders = 500

// inClause returns "(?,?,...)" for n values. The placeholders are fixed text,
// so formatting them into a query is safe.
func inClause(n int) string {
	if n <= 0 {
		return "(NULL)"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

// stringArgs converts values to query arguments.
func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// chunkStrings splits values into slices of at most size elements.
func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		size = maxPlaceholders
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// uniqueStrings returns values without duplicates, keeping first-seen order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
