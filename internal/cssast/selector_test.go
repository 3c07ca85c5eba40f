package cssast

import (
	"reflect"
	"testing"
)

func TestSplitImportant(t *testing.T) {
	tests := []struct {
		raw       string
		wantValue string
		wantImp   bool
	}{
		{"red", "red", false},
		{"red !important", "red", true},
		{"red!important", "red", true},
		{"red  !  important  ", "red", true},
		{"1px solid blue", "1px solid blue", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			value, important := SplitImportant(tt.raw)
			if value != tt.wantValue || important != tt.wantImp {
				t.Errorf("SplitImportant(%q) = (%q, %v), want (%q, %v)",
					tt.raw, value, important, tt.wantValue, tt.wantImp)
			}
		})
	}
}

func TestJoinImportantRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		value     string
		important bool
	}{
		{"red", false},
		{"red", true},
	} {
		joined := JoinImportant(tt.value, tt.important)
		value, important := SplitImportant(joined)
		if value != tt.value || important != tt.important {
			t.Errorf("round-trip JoinImportant/SplitImportant(%q, %v) = (%q, %v)",
				tt.value, tt.important, value, important)
		}
	}
}

func TestFlattenSelectorsCommas(t *testing.T) {
	got := FlattenSelectors("", ".a, .b")
	want := []string{".a", ".b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FlattenSelectors = %v, want %v", got, want)
	}
}

func TestFlattenSelectorsAmpersand(t *testing.T) {
	tests := []struct {
		name   string
		parent string
		raw    string
		want   []string
	}{
		{"amp class", ".card", "&.title", []string{".card.title"}},
		{"amp descendant", ".card", "& .title", []string{".card .title"}},
		{"bare nested", ".card", ".title", []string{".card .title"}},
		{"top level", "", ".btn", []string{".btn"}},
		{"not-nested-comma-preserved", ".card", ":not(.a, .b)", []string{".card :not(.a, .b)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenSelectors(tt.parent, tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenSelectors(%q, %q) = %v, want %v", tt.parent, tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  .a   .b\t.c  "); got != ".a .b .c" {
		t.Errorf("NormalizeWhitespace = %q", got)
	}
}
