package registry

import (
	"testing"
	"time"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := New()
	first := reg.Register("s1", Header{SourceURL: "http://x/a.css"})
	second := reg.Register("s1", Header{SourceURL: "http://x/b.css"})

	if first != second {
		t.Fatalf("Register on an existing id returned a different record")
	}
	if second.Header.SourceURL != "http://x/a.css" {
		t.Errorf("Register overwrote the existing header: got %q", second.Header.SourceURL)
	}
}

func TestUpdateTextAndPreviousText(t *testing.T) {
	reg := New()
	reg.Register("s1", Header{})

	if _, ok := reg.PreviousText("s1"); ok {
		t.Fatalf("expected no previous text before UpdateText")
	}

	reg.UpdateText("s1", "body{color:red}", time.Now())
	got, ok := reg.PreviousText("s1")
	if !ok || got != "body{color:red}" {
		t.Errorf("PreviousText = (%q, %v), want (%q, true)", got, ok, "body{color:red}")
	}
}

func TestUpdateTextUnknownIDIsNoOp(t *testing.T) {
	reg := New()
	reg.UpdateText("missing", "x", time.Now())
	if _, ok := reg.Get("missing"); ok {
		t.Errorf("UpdateText on unknown id should not create a record")
	}
}

func TestFileBasedSelection(t *testing.T) {
	reg := New()
	reg.Register("inline", Header{IsInline: true})
	reg.Register("remote", Header{SourceURL: "https://example.com/app.css"})
	reg.Register("data", Header{SourceURL: "data:text/css;base64,xx"})
	reg.Register("vite", Header{IsInline: true})
	reg.SetViteDevID("vite", "/src/app.css")
	reg.Register("mapped", Header{IsInline: true})
	reg.SetOriginalSource("mapped", "/src/app.scss")

	got := map[StylesheetID]bool{}
	for _, rec := range reg.FileBased() {
		got[rec.ID] = true
	}

	want := map[StylesheetID]bool{"remote": true, "vite": true, "mapped": true}
	for id := range want {
		if !got[id] {
			t.Errorf("expected %q to be file-based", id)
		}
	}
	if got["inline"] || got["data"] {
		t.Errorf("inline/data records should not be file-based: %v", got)
	}
}

func TestResolvedSourcePreferenceOrder(t *testing.T) {
	reg := New()
	reg.Register("s1", Header{SourceURL: "http://x/a.css"})
	reg.SetOriginalSource("s1", "/root/a.scss")
	reg.SetViteDevID("s1", "/root/a.vite.css")

	rec, _ := reg.Get("s1")
	path, ok := rec.ResolvedSource()
	if !ok || path != "/root/a.vite.css" {
		t.Errorf("ResolvedSource = (%q, %v), want vite_dev_id to win", path, ok)
	}
}

func TestRemoveAndClear(t *testing.T) {
	reg := New()
	reg.Register("s1", Header{})
	reg.Register("s2", Header{})

	reg.Remove("s1")
	if _, ok := reg.Get("s1"); ok {
		t.Errorf("Remove did not drop the record")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}

	reg.Clear()
	if reg.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", reg.Len())
	}
}
