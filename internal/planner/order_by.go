package planner

import (
	"regexp"
	"strings"
)

var orderByPattern = regexp.MustCompile(`^[\w\s,.]*$`)

// ValidOrderBy reports whether raw only contains letters, digits, underscores,
// whitespace, commas and dots.
func ValidOrderBy(raw string) bool {
	return orderByPattern.MatchString(raw)
}

// NormalizeOrderBy returns the trimmed ordering expression, or "" when raw is
// blank or fails the character check. The second result is false only when a
// non-blank expression was discarded.
func NormalizeOrderBy(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", true
	}
	if !ValidOrderBy(trimmed) {
		return "", false
	}
	return trimmed, true
}
