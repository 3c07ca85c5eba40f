package differ

import (
	"testing"

	"stylesync/internal/change"
)

func findChange(t *testing.T, changes []change.DeclarationChange, selector, property string) change.DeclarationChange {
	t.Helper()
	for _, c := range changes {
		if c.Selector == selector && c.Property == property {
			return c
		}
	}
	t.Fatalf("no change found for selector %q property %q in %+v", selector, property, changes)
	return change.DeclarationChange{}
}

func TestDiffColorModify(t *testing.T) {
	oldText := `.header { color: red; background: white; }`
	newText := `.header { color: blue; background: white; }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one modify", changes)
	}
	c := changes[0]
	if c.Kind != change.Modify || c.Selector != ".header" || c.Property != "color" {
		t.Fatalf("unexpected change: %+v", c)
	}
	if c.OldValue == nil || *c.OldValue != "red" || c.NewValue == nil || *c.NewValue != "blue" {
		t.Fatalf("unexpected values: old=%v new=%v", c.OldValue, c.NewValue)
	}
}

func TestDiffNestedScssAdd(t *testing.T) {
	oldText := `
.card {
  padding: 8px;

  .title {
    font-weight: bold;
  }
}
`
	newText := `
.card {
  padding: 8px;

  .title {
    font-weight: bold;
    color: navy;
  }
}
`
	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one add", changes)
	}
	c := changes[0]
	if c.Kind != change.Add || c.Selector != ".card .title" || c.Property != "color" {
		t.Fatalf("unexpected change: %+v", c)
	}
	if c.NewValue == nil || *c.NewValue != "navy" {
		t.Fatalf("unexpected new value: %v", c.NewValue)
	}
	if c.Position.Line == 0 {
		t.Fatalf("expected a non-zero line position, got %+v", c.Position)
	}
}

func TestDiffDelete(t *testing.T) {
	oldText := `.btn { color: red; border: none; }`
	newText := `.btn { color: red; }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one delete", changes)
	}
	c := changes[0]
	if c.Kind != change.Delete || c.Selector != ".btn" || c.Property != "border" {
		t.Fatalf("unexpected change: %+v", c)
	}
	if c.OldValue == nil || *c.OldValue != "none" {
		t.Fatalf("unexpected old value: %v", c.OldValue)
	}
}

func TestDiffImportantSuffixIsSignificant(t *testing.T) {
	oldText := `.x { color: red; }`
	newText := `.x { color: red !important; }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	c := findChange(t, changes, ".x", "color")
	if c.Kind != change.Modify {
		t.Fatalf("expected modify when !important toggles, got %+v", c)
	}
	if *c.NewValue != "red !important" {
		t.Fatalf("NewValue = %q, want %q", *c.NewValue, "red !important")
	}
}

func TestDiffCommaSelectorAppliesToEachSibling(t *testing.T) {
	oldText := `.a, .b { color: red; }`
	newText := `.a, .b { color: green; }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %+v, want one modify per comma sibling", changes)
	}
	findChange(t, changes, ".a", "color")
	findChange(t, changes, ".b", "color")
}

func TestDiffNoChanges(t *testing.T) {
	text := `.x { color: red; margin: 0 auto; }`
	changes, err := Diff(text, text)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("changes = %+v, want none for identical text", changes)
	}
}

func TestDiffDuplicatePropertyFallback(t *testing.T) {
	oldText := `.x { color: red; color: blue; }`
	newText := `.x { color: red; color: navy; }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly one modify of the second duplicate", changes)
	}
	if *changes[0].OldValue != "blue" || *changes[0].NewValue != "navy" {
		t.Fatalf("unexpected duplicate modify: %+v", changes[0])
	}
}

func TestDiffAtRulePassesSelectorThrough(t *testing.T) {
	oldText := `@media (min-width: 600px) { .x { color: red; } }`
	newText := `@media (min-width: 600px) { .x { color: blue; } }`

	changes, err := Diff(oldText, newText)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	c := findChange(t, changes, ".x", "color")
	if *c.OldValue != "red" || *c.NewValue != "blue" {
		t.Fatalf("unexpected change: %+v", c)
	}
}
