package search_test

import (
	"testing"

	"github.com/fabelwerk/redakt/internal/search"
	"github.com/fabelwerk/redakt/pkg/types"
)

func seg(id, text string) *types.Segment {
	return &types.Segment{ID: id, Text: text}
}

func TestUpdate_OrdersMatchesAndSelectsFirst(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{
		seg("s1", "probe und noch eine Probe"),
		seg("s2", "PROBE"),
	}
	e := search.NewEngine()
	e.Update(segments, "probe", false)

	matches := e.Matches()
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].SegmentID != "s1" || matches[0].Start != 0 {
		t.Errorf("first match = %+v, want s1 at offset 0", matches[0])
	}
	if matches[2].SegmentID != "s2" {
		t.Errorf("matches not in segment order: %+v", matches)
	}
	if e.Cursor() != 0 {
		t.Errorf("Cursor=%d, want auto-selected 0", e.Cursor())
	}
}

func TestUpdate_InvalidRegexDegradesToNoMatches(t *testing.T) {
	t.Parallel()

	e := search.NewEngine()
	e.Update([]*types.Segment{seg("s1", "hello")}, "[invalid", true)

	if len(e.Matches()) != 0 {
		t.Error("invalid pattern must yield zero matches")
	}
	if e.Cursor() != search.NoCursor {
		t.Errorf("Cursor=%d, want NoCursor", e.Cursor())
	}
}

func TestCursor_WrapsBothWays(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "a b a")}
	e := search.NewEngine()
	e.Update(segments, "a", false)

	e.Next()
	if e.Cursor() != 1 {
		t.Errorf("after Next: Cursor=%d, want 1", e.Cursor())
	}
	e.Next()
	if e.Cursor() != 0 {
		t.Errorf("Next must wrap: Cursor=%d, want 0", e.Cursor())
	}
	e.Previous()
	if e.Cursor() != 1 {
		t.Errorf("Previous must wrap: Cursor=%d, want 1", e.Cursor())
	}
}

func TestCursor_ClampsWhenListShrinks(t *testing.T) {
	t.Parallel()

	e := search.NewEngine()
	e.Update([]*types.Segment{seg("s1", "x x x")}, "x", false)
	e.Next()
	e.Next() // cursor = 2

	e.Update([]*types.Segment{seg("s1", "x x")}, "x", false)
	if e.Cursor() != 1 {
		t.Errorf("Cursor=%d, want clamped 1", e.Cursor())
	}

	e.Update([]*types.Segment{seg("s1", "nothing")}, "x", false)
	if e.Cursor() != search.NoCursor {
		t.Errorf("Cursor=%d, want NoCursor on empty list", e.Cursor())
	}
}

func TestReplaceCurrent_SubstitutesOnce(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "hello world, hello again")}
	e := search.NewEngine()
	e.Update(segments, "hello", false)

	updates := e.ReplaceCurrent(segments, "hi")
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].NewText != "hi world, hello again" {
		t.Errorf("NewText=%q, want only the selected match replaced", updates[0].NewText)
	}
}

func TestReplaceCurrent_StaleOffsetIsNoOp(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "hello world")}
	e := search.NewEngine()
	e.Update(segments, "world", false)

	// Concurrent edit shifts the text under the recorded offset.
	segments[0].Text = "oh hello world"
	if updates := e.ReplaceCurrent(segments, "there"); updates != nil {
		t.Errorf("stale match must be a silent no-op, got %v", updates)
	}
}

func TestReplaceCurrent_LiteralReplacementKeepsDollar(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "price label")}
	e := search.NewEngine()
	e.Update(segments, "price", false)

	updates := e.ReplaceCurrent(segments, "$10")
	if len(updates) != 1 || updates[0].NewText != "$10 label" {
		t.Errorf("literal mode must not expand $ sequences, got %v", updates)
	}
}

func TestReplaceCurrent_CaptureSubstitution(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "Tanzenprobe- Generalprobe")}
	e := search.NewEngine()
	e.Update(segments, "Tanzenprobe- (.*)probe", true)

	updates := e.ReplaceCurrent(segments, "$1-Probe")
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].NewText != "General-Probe" {
		t.Errorf("NewText=%q, want General-Probe", updates[0].NewText)
	}
}

func TestReplaceAll_CollectsOnlyChangedSegments(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{
		seg("s1", "foo and foo"),
		seg("s2", "nothing here"),
		seg("s3", "one foo"),
	}
	e := search.NewEngine()
	e.Update(segments, "foo", false)

	updates := e.ReplaceAll(segments, "bar")
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].SegmentID != "s1" || updates[0].NewText != "bar and bar" {
		t.Errorf("updates[0]=%+v", updates[0])
	}
	if updates[1].SegmentID != "s3" || updates[1].NewText != "one bar" {
		t.Errorf("updates[1]=%+v", updates[1])
	}
}

func TestReplaceAll_SubstitutionEscapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		query       string
		replacement string
		want        string
	}{
		{"whole match", "abc", "b", "[$&]", "a[b]c"},
		{"before and after", "abc", "b", "$`$'", "aacc"},
		{"literal dollar", "abc", "b", "$$1", "a$1c"},
		{"named group", "General Probe", "(?P<kind>\\w+) Probe", "$<kind>!", "General!"},
		{"missing group stays literal", "abc", "b", "$9", "a$9c"},
		{"unmatched group is empty", "ab", "a(x)?b", "[$1]", "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			segments := []*types.Segment{seg("s1", tt.text)}
			e := search.NewEngine()
			e.Update(segments, tt.query, true)

			updates := e.ReplaceAll(segments, tt.replacement)
			if len(updates) != 1 {
				t.Fatalf("got %d updates, want 1", len(updates))
			}
			if updates[0].NewText != tt.want {
				t.Errorf("NewText=%q, want %q", updates[0].NewText, tt.want)
			}
		})
	}
}

func TestScan_ZeroWidthMatchesAdvance(t *testing.T) {
	t.Parallel()

	segments := []*types.Segment{seg("s1", "ab")}
	e := search.NewEngine()
	e.Update(segments, "x*", true)

	// One zero-width match per position; the scan must terminate.
	if len(e.Matches()) != 3 {
		t.Errorf("got %d matches, want 3", len(e.Matches()))
	}
}
