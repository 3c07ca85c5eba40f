// Package patcher implements the Structured Patcher (C7): it applies a
// batch of declaration changes to a source file on disk by parsing it,
// computing byte-span edits against the parsed rules, and splicing them
// into the original text, leaving every untouched byte - comments, blank
// lines, SCSS variables, interpolation, nesting - exactly as it was.
package patcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stylesync/internal/change"
	"stylesync/internal/cssast"
)

// Result is the per-file outcome of PatchMultiple.
type Result struct {
	Success int
	Failed  int
}

// PatchMultiple applies changes to the file at path and, if at least one
// change succeeded, atomically rewrites it. A change fails when no rule
// in the file has a flattened selector matching change.Selector; a
// delete additionally fails if the matched rule has no declaration for
// change.Property.
func PatchMultiple(path string, changes []change.DeclarationChange) (Result, error) {
	orig, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("patcher: reading %s: %w", path, err)
	}
	text := string(orig)

	nodes, err := cssast.Parse(text)
	if err != nil {
		return Result{}, fmt.Errorf("patcher: parsing %s: %w", path, err)
	}
	rules := collectRules(nodes, nil)

	var edits []edit
	var result Result
	consumed := make(map[*cssast.Rule]map[string]int)

	for _, c := range changes {
		rule := matchRule(rules, c.Selector)
		if rule == nil {
			result.Failed++
			continue
		}

		switch c.Kind {
		case change.Add, change.Modify:
			if c.NewValue == nil {
				result.Failed++
				continue
			}
			value, important := cssast.SplitImportant(*c.NewValue)
			replacement := cssast.JoinImportant(value, important)

			if d := nextUnconsumedDecl(rule, c.Property, consumed); d != nil {
				edits = append(edits, edit{start: d.ValueStart, end: d.ValueEnd, replacement: []byte(replacement)})
			} else {
				edits = append(edits, appendDeclEdit(text, rule, c.Property, replacement))
			}
			result.Success++

		case change.Delete:
			removed := 0
			for _, n := range rule.Items {
				if n.Decl == nil || n.Decl.Property != c.Property {
					continue
				}
				edits = append(edits, deleteDeclEdit(text, n.Decl))
				removed++
			}
			if removed == 0 {
				result.Failed++
				continue
			}
			result.Success++
		}
	}

	if result.Success == 0 {
		return result, nil
	}

	out := applyEdits(text, edits)
	if err := writeAtomic(path, []byte(out)); err != nil {
		return result, fmt.Errorf("patcher: writing %s: %w", path, err)
	}
	return result, nil
}

type ruleEntry struct {
	rule      *cssast.Rule
	selectors []string
}

// collectRules flattens every rule in the tree (recursively, including
// nested SCSS rules) against its own ancestor chain, the same way the
// differ does in §4.3, so selector matching agrees between the two.
func collectRules(nodes []cssast.Node, parentList []string) []ruleEntry {
	var out []ruleEntry
	for _, n := range nodes {
		if n.Rule == nil {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(n.Rule.SelectorRaw), "@") {
			out = append(out, collectRules(n.Rule.Items, parentList)...)
			continue
		}
		sels := cssast.FlattenAgainstParents(parentList, n.Rule.SelectorRaw)
		out = append(out, ruleEntry{rule: n.Rule, selectors: sels})
		out = append(out, collectRules(n.Rule.Items, sels)...)
	}
	return out
}

func matchRule(rules []ruleEntry, selector string) *cssast.Rule {
	want := cssast.NormalizeWhitespace(selector)
	for _, re := range rules {
		for _, s := range re.selectors {
			if cssast.NormalizeWhitespace(s) == want {
				return re.rule
			}
		}
	}
	return nil
}

// nextUnconsumedDecl returns the next declaration in rule with the given
// property that hasn't already been claimed by an earlier change in this
// same PatchMultiple call, so repeated modifies against a duplicate
// property (spec.md §4.3's duplicate-declaration case) land on
// successive occurrences in order.
func nextUnconsumedDecl(rule *cssast.Rule, property string, consumed map[*cssast.Rule]map[string]int) *cssast.Decl {
	if consumed[rule] == nil {
		consumed[rule] = make(map[string]int)
	}
	skip := consumed[rule][property]
	for _, n := range rule.Items {
		if n.Decl == nil || n.Decl.Property != property {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		consumed[rule][property]++
		return n.Decl
	}
	return nil
}

type edit struct {
	start, end  int
	replacement []byte
}

// appendDeclEdit inserts "property: value;" just before the rule's
// closing brace. A rule whose body already ends on its own line (the
// common, formatted case) gets a new indented line to match; a rule
// written on one line gets the declaration appended inline, to avoid
// introducing a line break the original never had.
func appendDeclEdit(text string, rule *cssast.Rule, property, value string) edit {
	at := rule.BraceClose
	i := at
	for i > 0 && (text[i-1] == ' ' || text[i-1] == '\t') {
		i--
	}
	multiline := i > 0 && text[i-1] == '\n'

	decl := property + ": " + value + ";"
	if !multiline {
		return edit{start: at, end: at, replacement: []byte(" " + decl)}
	}

	indent := "  "
	if last := lastDecl(rule); last != nil {
		indent = indentOf(text, last.Start)
	} else {
		indent = indentOf(text, rule.SelectorStart) + "  "
	}
	return edit{start: i, end: i, replacement: []byte(indent + decl + "\n")}
}

func lastDecl(rule *cssast.Rule) *cssast.Decl {
	var last *cssast.Decl
	for _, n := range rule.Items {
		if n.Decl != nil {
			last = n.Decl
		}
	}
	return last
}

// indentOf returns the leading horizontal whitespace of the line
// containing offset.
func indentOf(text string, offset int) string {
	lineStart := offset
	for lineStart > 0 && text[lineStart-1] != '\n' {
		lineStart--
	}
	i := lineStart
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	return text[lineStart:i]
}

// deleteDeclEdit removes a declaration's whole line: its own leading
// indentation, the declaration and its terminating semicolon (if any),
// and one trailing newline, so a delete doesn't leave a blank line
// behind.
func deleteDeclEdit(text string, d *cssast.Decl) edit {
	start := d.Start
	for start > 0 && (text[start-1] == ' ' || text[start-1] == '\t') {
		start--
	}
	end := d.End
	if d.HasSemicolon {
		end = d.SemicolonPos + 1
	}
	if end < len(text) && text[end] == '\n' {
		end++
	} else if end < len(text) && text[end] == '\r' && end+1 < len(text) && text[end+1] == '\n' {
		end += 2
	}
	return edit{start: start, end: end, replacement: nil}
}

// applyEdits stitches text back together with every edit's span replaced
// by its replacement, copying everything else byte for byte. Overlapping
// or out-of-order edits are not expected (each change targets a distinct
// declaration or insertion point) but are tolerated by sorting on start.
func applyEdits(text string, edits []edit) string {
	if len(edits) == 0 {
		return text
	}
	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].start > sorted[j].start; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	var b strings.Builder
	cursor := 0
	for _, e := range sorted {
		if e.start < cursor {
			continue // overlapping edit on an already-consumed span; skip rather than corrupt output
		}
		b.WriteString(text[cursor:e.start])
		b.Write(e.replacement)
		cursor = e.end
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// writeAtomic writes data to a sibling tempfile and renames it over
// path, so a reader (or the browser re-reading the file) never observes
// a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%d.tmp", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
