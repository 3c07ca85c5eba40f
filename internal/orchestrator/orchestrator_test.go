package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stylesync/internal/cdpsession"
	"stylesync/internal/change"
	"stylesync/internal/config"
	"stylesync/internal/logging"
	"stylesync/internal/registry"
)

func newTestOrchestrator(t *testing.T, root string) *Orchestrator {
	t.Helper()
	cfg, err := config.Config{ProjectRoot: root, DevServerBase: "http://localhost:3000"}.WithDefaults()
	if err != nil {
		t.Fatal(err)
	}
	o := New(cfg, logging.New(false))
	t.Cleanup(func() {
		o.lg.Close()
		o.sm.Close()
	})
	return o
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindFreshByIDFindsMatch(t *testing.T) {
	sheets := []cdpsession.FreshStylesheet{{ID: "1", Text: "a"}, {ID: "2", Text: "b"}}
	got, ok := findFreshByID(sheets, "2")
	if !ok || got.Text != "b" {
		t.Fatalf("findFreshByID = %+v, %v", got, ok)
	}
}

func TestFindFreshByIDReportsMissing(t *testing.T) {
	_, ok := findFreshByID(nil, "1")
	if ok {
		t.Fatalf("findFreshByID should report false for an empty set")
	}
}

func TestContentKeyMatchesRegistryLeadingChars(t *testing.T) {
	got := contentKey("  .a { color: red; }  ")
	if got != ".a { color: red; }" {
		t.Fatalf("contentKey = %q", got)
	}
}

func TestOldTextOfNilRecordText(t *testing.T) {
	rec := &registry.Record{}
	if got := oldTextOf(rec); got != "" {
		t.Fatalf("oldTextOf = %q, want empty", got)
	}
}

func TestResolveTargetPrefersViteDevID(t *testing.T) {
	root := t.TempDir()
	o := newTestOrchestrator(t, root)

	vite := "/src/App.module.scss"
	orig := "/src/other.scss"
	rec := &registry.Record{ViteDevID: &vite, OriginalSource: &orig, Header: registry.Header{SourceURL: "http://localhost:3000/App.css"}}

	got, ok := o.resolveTarget(rec)
	if !ok || got != vite {
		t.Fatalf("resolveTarget = %q, %v, want %q", got, ok, vite)
	}
}

func TestResolveTargetFallsBackToURLResolver(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "App.css"), ".a{color:red}")
	o := newTestOrchestrator(t, root)

	rec := &registry.Record{Header: registry.Header{SourceURL: "http://localhost:3000/src/App.css"}}
	got, ok := o.resolveTarget(rec)
	if !ok {
		t.Fatalf("resolveTarget: not found")
	}
	want := filepath.Join(root, "src", "App.css")
	if got != want {
		t.Fatalf("resolveTarget = %q, want %q", got, want)
	}
}

func TestPatchViaCSSModulesGroupsBySelectorFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "components", "MenuGroup.module.scss"), ".container {\n  display: flex;\n}\n")
	o := newTestOrchestrator(t, root)

	newColor := "blue"
	changes := []change.DeclarationChange{
		{Kind: change.Add, Selector: ".MenuGroup_container__abc123", Property: "color", NewValue: &newColor},
	}

	if !o.patchViaCSSModules(changes) {
		t.Fatalf("patchViaCSSModules: expected at least one module file patched")
	}

	out, err := os.ReadFile(filepath.Join(root, "components", "MenuGroup.module.scss"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "color: blue") {
		t.Fatalf("patched file = %q, want it to contain the new declaration", out)
	}
}

func TestPatchViaCSSModulesReturnsFalseWhenNoSelectorResolves(t *testing.T) {
	root := t.TempDir()
	o := newTestOrchestrator(t, root)

	newColor := "blue"
	changes := []change.DeclarationChange{
		{Kind: change.Add, Selector: ".plain-class", Property: "color", NewValue: &newColor},
	}
	if o.patchViaCSSModules(changes) {
		t.Fatalf("patchViaCSSModules should return false when no selector resolves")
	}
}

// TestHandleChangePatchesTargetFileOnRealDiff exercises the registry ->
// differ -> resolver -> patcher -> filequeue -> loopguard seam end to end:
// a registry record holding genuinely different old text must still carry
// that old text when handle_change runs its diff, so a real edit reaches
// the patcher and lands on disk.
func TestHandleChangePatchesTargetFileOnRealDiff(t *testing.T) {
	root := t.TempDir()
	oldText := ".a {\n  color: red;\n}\n"
	writeFile(t, filepath.Join(root, "src", "App.css"), oldText)
	o := newTestOrchestrator(t, root)

	id := registry.StylesheetID("sheet-1")
	o.reg.Register(id, registry.Header{SourceURL: "http://localhost:3000/src/App.css"})
	o.reg.UpdateText(id, oldText, time.Now())

	newText := ".a {\n  color: blue;\n}\n"
	o.handleChange(context.Background(), id, newText)

	out, err := os.ReadFile(filepath.Join(root, "src", "App.css"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "color: blue") {
		t.Fatalf("target file = %q, want the patched declaration", out)
	}

	got, ok := o.reg.PreviousText(id)
	if !ok || got != newText {
		t.Fatalf("registry text = %q, %v, want %q", got, ok, newText)
	}
}

// TestHandleChangeSkipsPatchWhenDiffIsEmpty guards against the inverse
// bug: if the registry were updated before the diff ran, every edit would
// look like a no-op. Feeding handle_change identical old/new text must
// itself be a genuine no-op, not a false positive masking a stuck diff.
func TestHandleChangeSkipsPatchWhenDiffIsEmpty(t *testing.T) {
	root := t.TempDir()
	text := ".a {\n  color: red;\n}\n"
	writeFile(t, filepath.Join(root, "src", "App.css"), text)
	o := newTestOrchestrator(t, root)

	id := registry.StylesheetID("sheet-1")
	o.reg.Register(id, registry.Header{SourceURL: "http://localhost:3000/src/App.css"})
	o.reg.UpdateText(id, text, time.Now())

	o.handleChange(context.Background(), id, text)

	out, err := os.ReadFile(filepath.Join(root, "src", "App.css"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != text {
		t.Fatalf("target file changed on a no-op diff: %q", out)
	}
}
