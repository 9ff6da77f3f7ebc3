package server

import (
	"github.com/fabelwerk/redakt/internal/filter"
	"github.com/fabelwerk/redakt/internal/lexicon"
	"github.com/fabelwerk/redakt/internal/search"
	"github.com/fabelwerk/redakt/internal/session"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/pkg/types"
)

// Operation names accepted on the /session websocket. Every request is an
// envelope with an "op" field plus the fields that op reads; every op is
// answered with a [stateMessage] (type "state" on success, "error" on
// failure).
const (
	opOpen    = "open"
	opSave    = "save"
	opClose   = "close"
	opRefresh = "refresh"

	opSetFilter     = "setFilter"
	opSetSpellcheck = "setSpellcheck"
	opSetGlossary   = "setGlossary"
	opIgnoreMatch   = "ignoreMatch"

	opApplyText     = "applyText"
	opSplit         = "split"
	opMerge         = "merge"
	opSetSpeaker    = "setSpeaker"
	opToggleBook    = "toggleBookmark"
	opSetConfirmed  = "setConfirmed"
	opSetTags       = "setTags"
	opDeleteSegment = "deleteSegment"

	opSearchQuery    = "searchQuery"
	opSearchNext     = "searchNext"
	opSearchPrev     = "searchPrev"
	opReplaceCurrent = "replaceCurrent"
	opReplaceAll     = "replaceAll"

	opPlaybackTick = "playbackTick"
	opSelectNext   = "selectNext"
	opSelectPrev   = "selectPrev"
)

// request is the client-to-server envelope. Fields not read by the named op
// are ignored.
type request struct {
	Op         string `json:"op"`
	Transcript string `json:"transcript,omitempty"`

	SegmentID string             `json:"segmentId,omitempty"`
	Updates   []types.TextUpdate `json:"updates,omitempty"`
	WordIndex int                `json:"wordIndex,omitempty"`
	SpeakerID string             `json:"speakerId,omitempty"`
	Confirmed bool               `json:"confirmed,omitempty"`
	TagIDs    []string           `json:"tagIds,omitempty"`

	Query       string `json:"query,omitempty"`
	Regex       bool   `json:"regex,omitempty"`
	Replacement string `json:"replacement,omitempty"`

	Term    string `json:"term,omitempty"`
	Surface string `json:"surface,omitempty"`

	Filter     *filter.Params       `json:"filter,omitempty"`
	Spellcheck *spellcheck.Config   `json:"spellcheck,omitempty"`
	Entries    []types.LexiconEntry `json:"entries,omitempty"`

	Playback *playbackTick `json:"playback,omitempty"`
}

// playbackTick is the client-reported playhead state for one synchronizer
// tick. Visible lists the segment IDs currently in the viewport. A nil
// Restrict leaves the server-configured default in effect.
type playbackTick struct {
	Time       float64  `json:"time"`
	IsPlaying  bool     `json:"isPlaying"`
	SelectedID string   `json:"selectedId,omitempty"`
	Editing    bool     `json:"editing,omitempty"`
	Visible    []string `json:"visible,omitempty"`
	Restrict   *bool    `json:"restrict,omitempty"`
}

// commandMessage carries the imperative actions a tick produced, in order.
type commandMessage struct {
	Type     string            `json:"type"`
	Commands []playbackCommand `json:"commands"`
}

// playbackCommand is one action for the browser to execute: scrollTo,
// select, seek, or setPlaying.
type playbackCommand struct {
	Cmd       string             `json:"cmd"`
	SegmentID string             `json:"segmentId,omitempty"`
	Jump      bool               `json:"jump,omitempty"`
	Seek      *types.SeekRequest `json:"seek,omitempty"`
	Playing   bool               `json:"playing,omitempty"`
}

// stateMessage is the server-to-client envelope: one consistent snapshot of
// the session after the requested operation.
type stateMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`

	Segments    []*types.Segment `json:"segments,omitempty"`
	FilteredIDs []string         `json:"filteredIds,omitempty"`

	ActiveSpeaker       string  `json:"activeSpeaker,omitempty"`
	Threshold           float64 `json:"threshold,omitempty"`
	LexiconHighlight    bool    `json:"lexiconHighlight"`
	SpellcheckHighlight bool    `json:"spellcheckHighlight"`

	Lexicon         map[string]map[int]lexicon.WordMatch `json:"lexicon,omitempty"`
	LexiconTotal    int                                  `json:"lexiconTotal"`
	LexiconLowScore int                                  `json:"lexiconLowScore"`

	Spellcheck         map[string]map[int]spellcheck.Match `json:"spellcheck,omitempty"`
	SpellcheckTotal    int                                 `json:"spellcheckTotal"`
	SpellcheckLimited  bool                                `json:"spellcheckLimited,omitempty"`
	SpellcheckComplete bool                                `json:"spellcheckComplete"`

	SearchMatches []search.Match `json:"searchMatches,omitempty"`
	SearchCursor  int            `json:"searchCursor"`
}

// stateOf flattens a session [session.View] into the wire envelope.
func stateOf(transcriptID string, v session.View) stateMessage {
	filtered := make([]string, len(v.Filtered.Segments))
	for i, seg := range v.Filtered.Segments {
		filtered[i] = seg.ID
	}
	return stateMessage{
		Type:       "state",
		Transcript: transcriptID,

		Segments:    v.Segments,
		FilteredIDs: filtered,

		ActiveSpeaker:       v.Filtered.ActiveSpeakerName,
		Threshold:           v.Filtered.LowConfidenceThreshold,
		LexiconHighlight:    v.Filtered.LexiconHighlight,
		SpellcheckHighlight: v.Filtered.SpellcheckHighlight,

		Lexicon:         v.Lexicon.BySegment,
		LexiconTotal:    v.Lexicon.Total,
		LexiconLowScore: v.Lexicon.LowScore,

		Spellcheck:         v.Spellcheck.BySegment,
		SpellcheckTotal:    v.Spellcheck.Total,
		SpellcheckLimited:  v.Spellcheck.LimitReached,
		SpellcheckComplete: v.Spellcheck.Complete,

		SearchMatches: v.SearchMatches,
		SearchCursor:  v.SearchCursor,
	}
}

// errorOf builds the error envelope for a failed operation.
func errorOf(transcriptID string, err error) stateMessage {
	return stateMessage{
		Type:       "error",
		Transcript: transcriptID,
		Error:      err.Error(),
	}
}
