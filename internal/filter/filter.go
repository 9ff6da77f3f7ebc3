// Package filter narrows a transcript to the segments passing every active
// predicate and derives the highlight state the host should render with.
package filter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fabelwerk/redakt/internal/lexicon"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/internal/textnorm"
	"github.com/fabelwerk/redakt/pkg/types"
)

// AutoThreshold requests the derived low-confidence threshold instead of a
// manual one.
const AutoThreshold = -1

// maxAutoThreshold caps the derived low-confidence threshold.
const maxAutoThreshold = 0.4

// Params holds the independent filter toggles. Zero value means "no filter":
// every segment passes.
type Params struct {
	// SpeakerID keeps only segments spoken by this speaker. Empty disables.
	SpeakerID string `json:"speakerId,omitempty"`

	// LowConfidence keeps segments with at least one word scored at or below
	// the threshold.
	LowConfidence bool `json:"lowConfidence,omitempty"`

	// Threshold is the manual low-confidence cutoff, or [AutoThreshold] to
	// derive one from the transcript's score distribution.
	Threshold float64 `json:"threshold,omitempty"`

	// Bookmarked keeps bookmarked segments only.
	Bookmarked bool `json:"bookmarked,omitempty"`

	// LexiconMatch keeps segments present in the lexicon match map.
	// LexiconLowScore additionally requires a contained match scored below 1.
	LexiconMatch    bool `json:"lexiconMatch,omitempty"`
	LexiconLowScore bool `json:"lexiconLowScore,omitempty"`

	// SpellcheckMatch keeps segments present in the spellcheck match map. The
	// toggle is inert while spellcheck is globally disabled.
	SpellcheckMatch bool `json:"spellcheckMatch,omitempty"`

	// NoTags keeps segments with an empty tag set. TagIDs keeps segments
	// carrying any listed tag; NotTagIDs drops segments carrying any listed
	// tag. All three combine.
	NoTags    bool     `json:"noTags,omitempty"`
	TagIDs    []string `json:"tagIds,omitempty"`
	NotTagIDs []string `json:"notTagIds,omitempty"`

	// Query is matched against segment text (and the word-concatenation
	// fallback). RegexQuery switches from folded substring containment to a
	// case-insensitive regular expression. An invalid pattern passes every
	// segment rather than hiding the whole transcript on a typo.
	Query      string `json:"query,omitempty"`
	RegexQuery bool   `json:"regexQuery,omitempty"`

	// LexiconHighlight and SpellcheckHighlight are the user's persisted
	// preferences; [Result] carries the effective values after derivation.
	LexiconHighlight    bool `json:"lexiconHighlight,omitempty"`
	SpellcheckHighlight bool `json:"spellcheckHighlight,omitempty"`
}

// Input bundles everything one [Pipeline.Apply] call reads.
type Input struct {
	Segments []*types.Segment
	Speakers []types.Speaker
	Params   Params

	Lexicon    lexicon.Result
	Spellcheck spellcheck.Result

	// SpellcheckEnabled mirrors the global spellcheck switch; when false the
	// spellcheck filter toggle self-disables.
	SpellcheckEnabled bool

	// ScoresVersion changes whenever any word confidence score changes.
	// Splitting or merging segments keeps the version, so the derived
	// threshold is not recomputed needlessly.
	ScoresVersion uint64
}

// Result is the filtered view plus derived state.
type Result struct {
	// Segments is the order-preserving subset passing every predicate.
	Segments []*types.Segment

	// ActiveSpeakerName is the display name resolved from Params.SpeakerID,
	// empty when no speaker filter is active.
	ActiveSpeakerName string

	// LowConfidenceThreshold is the effective cutoff (manual or derived).
	LowConfidenceThreshold float64

	// LexiconHighlight is forced on while a lexicon filter is active.
	// SpellcheckHighlight is suppressed while a lexicon filter is active.
	LexiconHighlight    bool
	SpellcheckHighlight bool
}

// Pipeline applies filter predicates over a transcript. It caches the derived
// low-confidence threshold keyed by the scores version. Not safe for
// concurrent use; the session serializes access.
type Pipeline struct {
	autoThreshold   float64
	thresholdVer    uint64
	thresholdCached bool
}

// NewPipeline returns an empty [Pipeline].
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Apply runs every active predicate over in.Segments and returns the
// filtered view. Predicates combine with logical AND; the tag toggles have
// their own internal OR/NOT semantics.
func (p *Pipeline) Apply(in Input) Result {
	params := in.Params

	spellcheckFilter := params.SpellcheckMatch && in.SpellcheckEnabled
	lexiconFilter := params.LexiconMatch || params.LexiconLowScore

	threshold := params.Threshold
	if params.LowConfidence && threshold == AutoThreshold {
		threshold = p.deriveThreshold(in.Segments, in.ScoresVersion)
	}

	var tagIndex map[string]map[string]struct{}
	if params.NoTags || len(params.TagIDs) > 0 || len(params.NotTagIDs) > 0 {
		tagIndex = buildTagIndex(in.Segments)
	}

	matchText := compileQuery(params.Query, params.RegexQuery)

	out := make([]*types.Segment, 0, len(in.Segments))
	for _, seg := range in.Segments {
		if params.SpeakerID != "" && seg.SpeakerID != params.SpeakerID {
			continue
		}
		if params.LowConfidence && !hasLowScore(seg, threshold) {
			continue
		}
		if params.Bookmarked && !seg.Bookmarked {
			continue
		}
		if lexiconFilter && !passesLexicon(seg.ID, in.Lexicon, params.LexiconLowScore) {
			continue
		}
		if spellcheckFilter {
			if _, ok := in.Spellcheck.BySegment[seg.ID]; !ok {
				continue
			}
		}
		if tagIndex != nil && !passesTags(tagIndex[seg.ID], params) {
			continue
		}
		if matchText != nil && !matchText(seg) {
			continue
		}
		out = append(out, seg)
	}

	return Result{
		Segments:               out,
		ActiveSpeakerName:      speakerName(in.Speakers, params.SpeakerID),
		LowConfidenceThreshold: threshold,
		LexiconHighlight:       params.LexiconHighlight || lexiconFilter,
		SpellcheckHighlight:    params.SpellcheckHighlight && !lexiconFilter,
	}
}

// deriveThreshold computes min(0.4, 10th percentile of all word scores),
// cached until the scores version changes.
func (p *Pipeline) deriveThreshold(segments []*types.Segment, version uint64) float64 {
	if p.thresholdCached && p.thresholdVer == version {
		return p.autoThreshold
	}

	var scores []float64
	for _, seg := range segments {
		for _, w := range seg.Words {
			if w.HasScore() {
				scores = append(scores, w.Score)
			}
		}
	}

	threshold := maxAutoThreshold
	if len(scores) > 0 {
		sort.Float64s(scores)
		// Nearest-rank 10th percentile.
		idx := (len(scores) + 9) / 10
		if idx > 0 {
			idx--
		}
		if scores[idx] < threshold {
			threshold = scores[idx]
		}
	}

	p.autoThreshold = threshold
	p.thresholdVer = version
	p.thresholdCached = true
	return threshold
}

func hasLowScore(seg *types.Segment, threshold float64) bool {
	for _, w := range seg.Words {
		if w.HasScore() && w.Score <= threshold {
			return true
		}
	}
	return false
}

func passesLexicon(segID string, res lexicon.Result, lowScoreOnly bool) bool {
	matches, ok := res.BySegment[segID]
	if !ok {
		return false
	}
	if !lowScoreOnly {
		return true
	}
	for _, m := range matches {
		if m.Score < 1 {
			return true
		}
	}
	return false
}

// buildTagIndex precomputes segment id → tag id set so every membership test
// during the scan is O(1). Built only when a tag toggle is active.
func buildTagIndex(segments []*types.Segment) map[string]map[string]struct{} {
	index := make(map[string]map[string]struct{}, len(segments))
	for _, seg := range segments {
		set := make(map[string]struct{}, len(seg.Tags))
		for _, t := range seg.Tags {
			set[t] = struct{}{}
		}
		index[seg.ID] = set
	}
	return index
}

func passesTags(tags map[string]struct{}, params Params) bool {
	if params.NoTags && len(tags) > 0 {
		return false
	}
	if len(params.TagIDs) > 0 {
		any := false
		for _, id := range params.TagIDs {
			if _, ok := tags[id]; ok {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, id := range params.NotTagIDs {
		if _, ok := tags[id]; ok {
			return false
		}
	}
	return true
}

// compileQuery builds the text predicate, or nil when no query is active.
// Literal queries are folded substring tests; regex queries compile with the
// case-insensitive flag. Both probe the stored text and the word
// concatenation, since the two can drift apart mid-edit. An invalid regex
// fails open.
func compileQuery(query string, isRegex bool) func(*types.Segment) bool {
	if query == "" {
		return nil
	}

	if isRegex {
		re, err := regexp.Compile("(?i)" + query)
		if err != nil {
			return nil
		}
		return func(seg *types.Segment) bool {
			return re.MatchString(seg.Text) || re.MatchString(seg.WordsText())
		}
	}

	folded := textnorm.Fold(query)
	return func(seg *types.Segment) bool {
		return strings.Contains(textnorm.Fold(seg.Text), folded) ||
			strings.Contains(textnorm.Fold(seg.WordsText()), folded)
	}
}

func speakerName(speakers []types.Speaker, id string) string {
	if id == "" {
		return ""
	}
	for _, s := range speakers {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}
