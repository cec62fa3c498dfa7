// Package scope implements scope-set parsing and comparison.
package scope

import "strings"

// Parse splits a raw scope string into a normalized list. Both space and
// comma separators are accepted; duplicates and empty entries are dropped,
// first-seen order is preserved.
func Parse(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return Normalize(fields)
}

// Normalize trims entries, drops empties and deduplicates, preserving
// first-seen order.
func Normalize(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Join renders a scope list as the space-delimited wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Subset reports whether every requested scope is in allowed. An empty
// request is a subset of anything.
func Subset(requested, allowed []string) bool {
	set := toSet(allowed)
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Intersect returns the scopes present in both a and b, in a's order.
func Intersect(a, b []string) []string {
	set := toSet(b)
	out := make([]string, 0, len(a))
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HasAny reports whether have contains at least one of required.
func HasAny(have, required []string) bool {
	set := toSet(have)
	for _, s := range required {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

func toSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}
