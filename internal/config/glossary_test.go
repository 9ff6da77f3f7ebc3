package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fabelwerk/redakt/internal/config"
	"github.com/fabelwerk/redakt/pkg/types"
)

const glossaryYAML = `
entries:
  - term: "Eldrinax"
    variants: ["Eldrinaks"]
    false_positives: ["Eldrin"]
  - term: "Tanzenprobe"
`

func TestLoadGlossaryFromReader(t *testing.T) {
	t.Parallel()

	entries, err := config.LoadGlossaryFromReader(strings.NewReader(glossaryYAML))
	if err != nil {
		t.Fatalf("LoadGlossaryFromReader: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Term != "Eldrinax" || len(entries[0].Variants) != 1 || len(entries[0].FalsePositives) != 1 {
		t.Errorf("entries[0]=%+v", entries[0])
	}
}

func TestLoadGlossary_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	yml := "entries:\n  - term: X\n  - term: X\n"
	if _, err := config.LoadGlossaryFromReader(strings.NewReader(yml)); err == nil {
		t.Error("duplicate term must be rejected")
	}
}

func TestLoadGlossary_RejectsEmptyTerm(t *testing.T) {
	t.Parallel()

	yml := "entries:\n  - variants: [x]\n"
	if _, err := config.LoadGlossaryFromReader(strings.NewReader(yml)); err == nil {
		t.Error("entry without term must be rejected")
	}
}

func TestDiffGlossary(t *testing.T) {
	t.Parallel()

	old := []types.LexiconEntry{
		{Term: "A", Variants: []string{"a1"}},
		{Term: "B"},
		{Term: "C"},
	}
	now := []types.LexiconEntry{
		{Term: "A", Variants: []string{"a1", "a2"}},
		{Term: "C"},
		{Term: "D"},
	}

	d := config.DiffGlossary(old, now)
	if len(d.Added) != 1 || d.Added[0] != "D" {
		t.Errorf("Added=%v, want [D]", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "B" {
		t.Errorf("Removed=%v, want [B]", d.Removed)
	}
	if len(d.Changed) != 1 || d.Changed[0] != "A" {
		t.Errorf("Changed=%v, want [A]", d.Changed)
	}
	if d.Empty() {
		t.Error("Empty()=true for a non-empty diff")
	}
}

func TestGlossaryWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "glossary.yml")
	if err := os.WriteFile(path, []byte("entries:\n  - term: A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan []types.LexiconEntry, 1)
	w, err := config.NewGlossaryWatcher(path, func(_, newEntries []types.LexiconEntry) {
		changed <- newEntries
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewGlossaryWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current(); len(got) != 1 || got[0].Term != "A" {
		t.Fatalf("initial glossary = %v", got)
	}

	// Rewrite the file; mtime granularity can swallow immediate rewrites, so
	// force a distinct mtime.
	if err := os.WriteFile(path, []byte("entries:\n  - term: A\n  - term: B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case entries := <-changed:
		if len(entries) != 2 {
			t.Errorf("reloaded glossary has %d entries, want 2", len(entries))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the change")
	}
}

func TestGlossaryWatcher_KeepsLastGoodOnParseError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "glossary.yml")
	if err := os.WriteFile(path, []byte("entries:\n  - term: A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := config.NewGlossaryWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewGlossaryWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("entries: {broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current(); len(got) != 1 || got[0].Term != "A" {
		t.Errorf("broken file must not replace the last good glossary, got %v", got)
	}
}
