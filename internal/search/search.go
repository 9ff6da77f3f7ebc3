// Package search finds and replaces text across transcript segments. Matches
// are ordered by segment, then left to right; a navigable cursor drives
// replace-current, and all replacements are emitted as coarse-grained batch
// updates so the host's undo history stays per-segment.
package search

import (
	"regexp"

	"github.com/fabelwerk/redakt/pkg/types"
)

// NoCursor is the cursor value when no match is selected.
const NoCursor = -1

// Match is one occurrence of the query inside a segment's text. Offsets are
// byte positions into the segment text at the time of the scan.
type Match struct {
	SegmentID string `json:"segmentId"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Text      string `json:"text"`
}

// Engine holds the current match list and cursor. Not safe for concurrent
// use; the session serializes access.
type Engine struct {
	query   string
	isRegex bool
	re      *regexp.Regexp
	matches []Match
	cursor  int
}

// NewEngine returns an [Engine] with no query and no selection.
func NewEngine() *Engine {
	return &Engine{cursor: NoCursor}
}

// Update rescans segments with the given query. When matches newly appear the
// first one is auto-selected; when the list shrinks below the cursor it
// clamps to the last match; an empty list clears the selection. An invalid
// regex pattern degrades to zero matches instead of failing.
func (e *Engine) Update(segments []*types.Segment, query string, isRegex bool) {
	queryChanged := query != e.query || isRegex != e.isRegex
	e.query = query
	e.isRegex = isRegex
	e.re = compile(query, isRegex)
	e.matches = scan(segments, e.re)

	switch {
	case len(e.matches) == 0:
		e.cursor = NoCursor
	case queryChanged || e.cursor == NoCursor:
		e.cursor = 0
	case e.cursor >= len(e.matches):
		e.cursor = len(e.matches) - 1
	}
}

// Matches returns the current match list in segment order.
func (e *Engine) Matches() []Match { return e.matches }

// Cursor returns the selected match index, or [NoCursor].
func (e *Engine) Cursor() int { return e.cursor }

// Current returns the selected match.
func (e *Engine) Current() (Match, bool) {
	if e.cursor == NoCursor || e.cursor >= len(e.matches) {
		return Match{}, false
	}
	return e.matches[e.cursor], true
}

// Next advances the cursor, wrapping past the last match.
func (e *Engine) Next() {
	if len(e.matches) == 0 {
		return
	}
	e.cursor = (e.cursor + 1) % len(e.matches)
}

// Previous moves the cursor back, wrapping past the first match.
func (e *Engine) Previous() {
	if len(e.matches) == 0 {
		return
	}
	e.cursor = (e.cursor - 1 + len(e.matches)) % len(e.matches)
}

// ReplaceCurrent substitutes only the selected match and returns the
// resulting text update. The match's recorded offset is re-validated against
// the segment's current text first; a stale match makes the operation a
// silent no-op so a concurrent edit is never corrupted.
func (e *Engine) ReplaceCurrent(segments []*types.Segment, replacement string) []types.TextUpdate {
	m, ok := e.Current()
	if !ok || e.re == nil {
		return nil
	}
	seg := findSegment(segments, m.SegmentID)
	if seg == nil {
		return nil
	}

	idx := matchAt(e.re, seg.Text, m.Start)
	if idx == nil || idx[1] != m.End {
		return nil
	}

	expanded := expandReplacement(e.re, seg.Text, idx, replacement, e.isRegex)
	newText := seg.Text[:idx[0]] + expanded + seg.Text[idx[1]:]
	if newText == seg.Text {
		return nil
	}
	return []types.TextUpdate{{SegmentID: seg.ID, NewText: newText}}
}

// ReplaceAll substitutes every match in every segment, collecting only
// segments whose text actually changed.
func (e *Engine) ReplaceAll(segments []*types.Segment, replacement string) []types.TextUpdate {
	if e.re == nil {
		return nil
	}

	var updates []types.TextUpdate
	for _, seg := range segments {
		newText := replaceAllIn(e.re, seg.Text, replacement, e.isRegex)
		if newText != seg.Text {
			updates = append(updates, types.TextUpdate{SegmentID: seg.ID, NewText: newText})
		}
	}
	return updates
}

// compile builds the match pattern: literal queries are quoted, both modes
// are case-insensitive. Returns nil for an empty query or an invalid pattern.
func compile(query string, isRegex bool) *regexp.Regexp {
	if query == "" {
		return nil
	}
	pattern := query
	if !isRegex {
		pattern = regexp.QuoteMeta(query)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}

// scan finds all non-overlapping matches across segments, in segment order
// then left to right. Zero-length matches advance the scan by one byte so
// they cannot loop.
func scan(segments []*types.Segment, re *regexp.Regexp) []Match {
	if re == nil {
		return nil
	}

	var out []Match
	for _, seg := range segments {
		pos := 0
		for pos <= len(seg.Text) {
			loc := re.FindStringIndex(seg.Text[pos:])
			if loc == nil {
				break
			}
			start, end := pos+loc[0], pos+loc[1]
			out = append(out, Match{
				SegmentID: seg.ID,
				Start:     start,
				End:       end,
				Text:      seg.Text[start:end],
			})
			if end == start {
				pos = end + 1
			} else {
				pos = end
			}
		}
	}
	return out
}

// matchAt reports the submatch indices of a match starting exactly at offset,
// or nil.
func matchAt(re *regexp.Regexp, text string, offset int) []int {
	if offset < 0 || offset > len(text) {
		return nil
	}
	idx := re.FindStringSubmatchIndex(text[offset:])
	if idx == nil || idx[0] != 0 {
		return nil
	}
	shifted := make([]int, len(idx))
	for i, v := range idx {
		if v < 0 {
			shifted[i] = v
			continue
		}
		shifted[i] = v + offset
	}
	return shifted
}

func replaceAllIn(re *regexp.Regexp, text, replacement string, isRegex bool) string {
	var out []byte
	pos := 0
	for pos <= len(text) {
		idx := re.FindStringSubmatchIndex(text[pos:])
		if idx == nil {
			break
		}
		shifted := make([]int, len(idx))
		for i, v := range idx {
			if v < 0 {
				shifted[i] = v
				continue
			}
			shifted[i] = v + pos
		}
		out = append(out, text[pos:shifted[0]]...)
		out = append(out, expandReplacement(re, text, shifted, replacement, isRegex)...)
		if shifted[1] == shifted[0] {
			if shifted[1] < len(text) {
				out = append(out, text[shifted[1]])
			}
			pos = shifted[1] + 1
		} else {
			pos = shifted[1]
		}
	}
	if pos < len(text) {
		out = append(out, text[pos:]...)
	}
	return string(out)
}

func findSegment(segments []*types.Segment, id string) *types.Segment {
	for _, seg := range segments {
		if seg.ID == id {
			return seg
		}
	}
	return nil
}
