package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"The Roman Aqueducts", "The_Roman_Aqueducts"},
		{"What if Rome never fell?", "What_if_Rome_never_fell"},
		{"  spaced   out  ", "spaced_out"},
		{"???", "untitled"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSectionFileName(t *testing.T) {
	t.Parallel()

	if got := SectionFileName("Dawn: The First Hour"); got != "script_section_Dawn_The_First_Hour.txt" {
		t.Fatalf("SectionFileName = %q", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	now := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	store, err := NewStore(base, "The Roman Aqueducts", now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wantDir := filepath.Join(base, "The_Roman_Aqueducts_20260831_103000")
	if store.Dir() != wantDir {
		t.Fatalf("Dir = %q, want %q", store.Dir(), wantDir)
	}

	if err := store.SaveText("research.txt", "notes"); err != nil {
		t.Fatalf("SaveText: %v", err)
	}
	if err := store.SaveJSON("plan.json", map[string]int{"sections": 3}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	data, err := os.ReadFile(store.Path("research.txt"))
	if err != nil || string(data) != "notes" {
		t.Fatalf("read back text: %q, %v", data, err)
	}
	data, err = os.ReadFile(store.Path("plan.json"))
	if err != nil || !strings.Contains(string(data), `"sections": 3`) {
		t.Fatalf("read back json: %q, %v", data, err)
	}
}
