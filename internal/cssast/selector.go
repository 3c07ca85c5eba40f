// Package cssast holds the selector-flattening and declaration-value
// rules shared by the Declaration Differ (C3) and the Structured Patcher
// (C7), so the two components agree byte-for-byte on what a "flattened
// selector" and a "declaration value" mean.
package cssast

import (
	"regexp"
	"strings"
)

// importantRe matches a trailing "!important" suffix, with or without
// surrounding whitespace, case-insensitively (CSS is case-insensitive for
// this keyword in practice, though authors almost always write it lower).
var importantRe = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)

// SplitImportant separates a declaration's raw value into its value text
// and whether an "!important" suffix was present.
func SplitImportant(raw string) (value string, important bool) {
	loc := importantRe.FindStringIndex(raw)
	if loc == nil {
		return strings.TrimSpace(raw), false
	}
	return strings.TrimSpace(raw[:loc[0]]), true
}

// JoinImportant is the inverse of SplitImportant: renders a value and
// importance flag back into the literal suffix form the spec requires
// ("with !important suffix literal when set").
func JoinImportant(value string, important bool) string {
	if important {
		return value + " !important"
	}
	return value
}

// NormalizeWhitespace collapses runs of whitespace to a single space and
// trims the ends, used to compare selectors "whitespace-normalized" as
// required when the patcher matches a change against a parsed rule.
func NormalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// FlattenSelectors resolves one raw selector (as written in the source,
// possibly containing commas and "&") against its enclosing flattened
// selector, and returns one flattened selector per comma-separated
// sibling. For a top-level (non-nested) rule, parent should be "".
//
// Resolution rules (spec.md §4.3):
//   - commas split sibling selectors
//   - "&" is resolved against the parent: "&.x" -> "<parent>.x",
//     "& x" -> "<parent> x"
//   - with no parent, a leading "&" is dropped, so a bare "&" selector
//     resolves to "" (SCSS would reject this, but the differ/patcher only
//     need best-effort parity)
//   - ancestor selectors are joined with a single space
func FlattenSelectors(parent string, raw string) []string {
	parts := splitTopLevelCommas(raw)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = NormalizeWhitespace(part)
		if part == "" {
			continue
		}
		out = append(out, flattenOne(parent, part))
	}
	if len(out) == 0 {
		out = append(out, NormalizeWhitespace(parent))
	}
	return out
}

// flattenOne resolves a single (comma-free) selector against its parent.
func flattenOne(parent, sel string) string {
	if parent == "" {
		return strings.TrimPrefix(sel, "&")
	}
	if !strings.Contains(sel, "&") {
		// Plain descendant nesting: "& x" is implicit for bare selectors
		// inside SCSS rules too, e.g. ".title" inside ".card" means
		// ".card .title".
		return NormalizeWhitespace(parent + " " + sel)
	}
	return NormalizeWhitespace(strings.ReplaceAll(sel, "&", parent))
}

// FlattenAgainstParents resolves raw against every selector in
// parentList, the cross product used when a rule nests under a
// compound (comma-separated) ancestor: a rule nested under two
// comma-separated parents belongs to both. An empty parentList means
// "top level" and behaves like FlattenSelectors("", raw).
func FlattenAgainstParents(parentList []string, raw string) []string {
	if len(parentList) == 0 {
		return FlattenSelectors("", raw)
	}
	var out []string
	for _, parent := range parentList {
		out = append(out, FlattenSelectors(parent, raw)...)
	}
	return out
}

// splitTopLevelCommas splits a selector list on commas that are not nested
// inside parentheses (e.g. ":not(a, b)" must not be split).
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
