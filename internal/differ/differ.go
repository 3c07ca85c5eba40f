// Package differ implements the Declaration Differ (C3): it compares two
// snapshots of the same stylesheet's text and produces an ordered list of
// the declaration-level changes between them.
package differ

import (
	"fmt"
	"strings"

	"stylesync/internal/change"
	"stylesync/internal/cssast"
)

// parsedDecl is one declaration flattened against its enclosing
// selector(s), with the byte offset it was found at in the text it came
// from (used only to compute a change.Position for the new-text side).
type parsedDecl struct {
	Selector  string
	Property  string
	Value     string
	Important bool
	Offset    int
}

// Diff compares oldText and newText (full stylesheet source, CSS or
// SCSS) and returns the add/modify/delete changes between them, grouped
// by (selector, property) key: first the adds and modifies, key by key in
// order of each key's first appearance in newText, then the deletes, key
// by key in order of each key's first appearance in oldText. Within a
// key, changes follow the duplicates' source order.
func Diff(oldText, newText string) ([]change.DeclarationChange, error) {
	oldDecls, err := flattenAll(oldText)
	if err != nil {
		return nil, fmt.Errorf("differ: parsing previous text: %w", err)
	}
	newDecls, err := flattenAll(newText)
	if err != nil {
		return nil, fmt.Errorf("differ: parsing new text: %w", err)
	}

	oldGroups, oldOrder := groupByKey(oldDecls)
	newGroups, newOrder := groupByKey(newDecls)

	var out []change.DeclarationChange

	for _, key := range newOrder {
		nl := newGroups[key]
		ol := oldGroups[key]
		for i, nd := range nl {
			line, col := cssast.LineCol(newText, nd.Offset)
			pos := change.Position{Line: line, Column: col}
			if i < len(ol) {
				od := ol[i]
				if od.Value == nd.Value && od.Important == nd.Important {
					continue
				}
				oldVal := cssast.JoinImportant(od.Value, od.Important)
				newVal := cssast.JoinImportant(nd.Value, nd.Important)
				out = append(out, change.DeclarationChange{
					Kind:     change.Modify,
					Selector: nd.Selector,
					Property: nd.Property,
					OldValue: &oldVal,
					NewValue: &newVal,
					Position: pos,
				})
				continue
			}
			newVal := cssast.JoinImportant(nd.Value, nd.Important)
			out = append(out, change.DeclarationChange{
				Kind:     change.Add,
				Selector: nd.Selector,
				Property: nd.Property,
				NewValue: &newVal,
				Position: pos,
			})
		}
	}

	for _, key := range oldOrder {
		ol := oldGroups[key]
		nl := newGroups[key]
		for i := len(nl); i < len(ol); i++ {
			od := ol[i]
			oldVal := cssast.JoinImportant(od.Value, od.Important)
			out = append(out, change.DeclarationChange{
				Kind:     change.Delete,
				Selector: od.Selector,
				Property: od.Property,
				OldValue: &oldVal,
			})
		}
	}

	return out, nil
}

// groupByKey buckets decls by "selector\x00property", preserving
// duplicate declarations in source order within each bucket, and returns
// the keys in order of first appearance.
func groupByKey(decls []parsedDecl) (map[string][]parsedDecl, []string) {
	groups := make(map[string][]parsedDecl)
	var order []string
	for _, d := range decls {
		key := d.Selector + "\x00" + d.Property
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}
	return groups, order
}

// flattenAll parses text and walks it into a flat, source-ordered list of
// declarations, each attributed to every flattened selector it resolves
// to (a comma-separated rule contributes one parsedDecl per sibling).
func flattenAll(text string) ([]parsedDecl, error) {
	nodes, err := cssast.Parse(text)
	if err != nil {
		return nil, err
	}
	var out []parsedDecl
	walk(nodes, nil, &out)
	return out, nil
}

// walk recurses through the parse tree carrying selList, the flattened
// selectors of the nearest enclosing non-at-rule ancestor (nil at the
// document root). At-rules (e.g. "@media") pass their children through
// under the same selList instead of pushing a new selector context.
func walk(nodes []cssast.Node, selList []string, out *[]parsedDecl) {
	for _, n := range nodes {
		switch {
		case n.Rule != nil:
			if strings.HasPrefix(strings.TrimSpace(n.Rule.SelectorRaw), "@") {
				walk(n.Rule.Items, selList, out)
				continue
			}
			walk(n.Rule.Items, cssast.FlattenAgainstParents(selList, n.Rule.SelectorRaw), out)

		case n.Decl != nil:
			if n.Decl.Property == "" {
				continue
			}
			value, important := cssast.SplitImportant(n.Decl.RawValue)
			targets := selList
			if len(targets) == 0 {
				targets = []string{""}
			}
			for _, sel := range targets {
				*out = append(*out, parsedDecl{
					Selector:  sel,
					Property:  n.Decl.Property,
					Value:     value,
					Important: important,
					Offset:    n.Decl.Start,
				})
			}
		}
	}
}
