// Package strings holds small string-slice helpers for config parsing.
package strings

import "strings"

// DedupeAndTrim trims whitespace from every element and drops empties and
// repeats, keeping first-occurrence order. Used when splitting comma-separated
// lists such as broker addresses.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
