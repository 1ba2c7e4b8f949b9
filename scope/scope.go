// Package scope implements the scope-string algebra used when granting tokens
// and the closed set of permission scope kinds understood by the server.
//
// A scope string is a whitespace-delimited list of tokens. Comparisons use set
// semantics: order and duplicates are irrelevant.
package scope

import (
	"strings"
)

// Split returns the individual tokens of a scope string.
func Split(s string) []string {
	return strings.Fields(s)
}

// Join builds a scope string from individual tokens.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// IsSubsetOf reports whether every token in left also appears in right.
// An empty left is a subset of anything.
func IsSubsetOf(left, right string) bool {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(right) {
		set[tok] = struct{}{}
	}

	for _, tok := range strings.Fields(left) {
		if _, ok := set[tok]; !ok {
			return false
		}
	}

	return true
}

// Normalize removes duplicate tokens and collapses whitespace while keeping
// the first-seen order.
func Normalize(s string) string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(s)/4)
	for _, tok := range strings.Fields(s) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return Join(out)
}
