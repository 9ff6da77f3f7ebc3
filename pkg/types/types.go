// Package types defines the shared data model used across all redakt packages.
//
// These types form the lingua franca between the match engines, the filter
// pipeline, the playback synchronizer, and the session/store layers. Each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "strings"

// Segment is a contiguous, time-bounded transcript unit with a single speaker.
//
// Segments are kept in a single globally time-ordered sequence; adjacency for
// merge operations is defined by position in that sequence, not by any
// filtered view.
type Segment struct {
	// ID uniquely identifies the segment for the lifetime of the session.
	ID string `json:"id"`

	// SpeakerID references a [Speaker]. Empty when the speaker is unknown.
	SpeakerID string `json:"speakerId"`

	// Words is the ordered sequence of transcribed tokens. Regenerated as a
	// whole by split/merge/edit operations — never mutated element-wise.
	Words []Word `json:"words"`

	// Start and End are playback positions in seconds, Start <= End.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Text is the free-text segment content. It may drift from the
	// concatenation of Words after manual edits; consumers that need a
	// word-accurate view should fall back to [Segment.WordsText].
	Text string `json:"text"`

	// Bookmarked marks the segment for operator follow-up.
	Bookmarked bool `json:"bookmarked,omitempty"`

	// Confirmed means the operator has signed the segment off. Confirmed
	// segments are excluded from lexicon and spellcheck matching.
	Confirmed bool `json:"confirmed,omitempty"`

	// Tags holds tag IDs in no particular order. Tags themselves are managed
	// externally; segments only reference them.
	Tags []string `json:"tags,omitempty"`

	// Rev is a monotonically increasing revision counter bumped by every
	// mutation. The match engines compare (ID, Rev) pairs to detect unchanged
	// segments for cache reuse, so any code path that modifies a segment MUST
	// increment Rev.
	Rev uint64 `json:"rev"`
}

// Contains reports whether playback position t (seconds) falls within the
// segment's [Start, End] bounds.
func (s *Segment) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// WordsText reconstructs the segment text from its word tokens. Used as a
// fallback when Text has drifted from the word array (e.g., by manual edits
// that did not re-tokenise).
func (s *Segment) WordsText() string {
	if len(s.Words) == 0 {
		return ""
	}
	parts := make([]string, len(s.Words))
	for i, w := range s.Words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// HasTag reports whether the segment carries the given tag ID.
func (s *Segment) HasTag(tagID string) bool {
	for _, t := range s.Tags {
		if t == tagID {
			return true
		}
	}
	return false
}

// NoScore is the Word.Score value for tokens without confidence data.
const NoScore = -1

// Word is an atomic transcribed token. Text may include leading or trailing
// punctuation exactly as emitted by the speech-to-text engine.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Score is the STT confidence in [0, 1], or [NoScore] when the engine
	// reported none.
	Score float64 `json:"score"`
}

// HasScore reports whether the word carries confidence data.
func (w Word) HasScore() bool {
	return w.Score >= 0
}

// Speaker labels a transcript voice.
type Speaker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tag is an operator-defined label referenced by ID from [Segment.Tags].
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// LexiconEntry is a canonical glossary term with its known alternate
// spellings and excluded surface forms.
type LexiconEntry struct {
	// Term is the canonical spelling. Matches always report this value,
	// regardless of whether the term itself or a variant was hit.
	Term string `yaml:"term" json:"term"`

	// Variants are known-wrong or alternate spellings, single- or multi-word.
	// A variant hit is by definition uncertain relative to canon and is
	// reported with a score below 1 even on exact equality.
	Variants []string `yaml:"variants,omitempty" json:"variants,omitempty"`

	// FalsePositives are surface forms that superficially resemble the term
	// but must never be flagged for it.
	FalsePositives []string `yaml:"false_positives,omitempty" json:"falsePositives,omitempty"`
}

// TextUpdate is the coarse-grained unit of transcript mutation: a full
// replacement of one segment's text. Manual edits and search replacement both
// emit batches of TextUpdate so that history stays coarse-grained.
type TextUpdate struct {
	SegmentID string `json:"segmentId"`
	NewText   string `json:"newText"`
}

// PlaybackState is the host-reported audio transport position.
type PlaybackState struct {
	// Time is the current playback position in seconds.
	Time float64 `json:"time"`

	IsPlaying bool `json:"isPlaying"`

	// Duration is the total audio length in seconds.
	Duration float64 `json:"duration"`
}

// SeekSource identifies what triggered a seek request. Every seek the core
// issues carries a source tag so downstream telemetry can distinguish causes.
type SeekSource string

const (
	SeekSourceHotkey     SeekSource = "hotkey"
	SeekSourceTranscript SeekSource = "transcript"
	SeekSourceWaveform   SeekSource = "waveform"
	SeekSourceSystem     SeekSource = "system"
)

// IsValid reports whether s is a recognised seek source.
func (s SeekSource) IsValid() bool {
	switch s {
	case SeekSourceHotkey, SeekSourceTranscript, SeekSourceWaveform, SeekSourceSystem:
		return true
	}
	return false
}

// SeekRequest asks the audio transport to move to Time.
type SeekRequest struct {
	// Time is the target position in seconds.
	Time float64 `json:"time"`

	// Source tags the cause of the seek. Never empty.
	Source SeekSource `json:"source"`

	// Action optionally refines the source (e.g., "restricted-skip").
	Action string `json:"action,omitempty"`
}
