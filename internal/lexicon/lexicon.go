// Package lexicon implements fuzzy glossary matching over transcript segments.
//
// Every word of every non-confirmed segment is scored against each glossary
// entry's canonical term and known variants using Jaro-Winkler string
// similarity on normalized surface forms. Exact case/diacritic-insensitive
// equality with the canonical term yields score 1.0; variant hits are always
// reported with a score below 1 because a variant is by definition a known
// wrong spelling that needs operator review.
//
// Hyphenated tokens are additionally matched per sub-part so that compounds
// like "Eldrinax-Schwert" still flag the glossary term "Eldrinax".
package lexicon

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/fabelwerk/redakt/internal/textnorm"
	"github.com/fabelwerk/redakt/pkg/types"
)

const (
	defaultThreshold  = 0.8
	defaultMinWordLen = 2

	// variantExactScore is reported for an exact variant hit. Below 1 so the
	// match counts as uncertain, above any plausible threshold so it is never
	// filtered out.
	variantExactScore = 0.99

	// WholeWord is the PartIndex value for matches against the full token.
	WholeWord = -1
)

// WordMatch associates one word (or hyphen sub-part) with its best glossary hit.
type WordMatch struct {
	// Term is the canonical glossary spelling, also for variant hits.
	Term string `json:"term"`

	// Score is the similarity in (0, 1]; exactly 1 only for exact hits on the
	// canonical term itself.
	Score float64 `json:"score"`

	// PartIndex is the hyphen sub-part index the match applies to, or
	// [WholeWord] when the full token matched.
	PartIndex int `json:"partIndex"`
}

// Result is the full output of one matching pass.
type Result struct {
	// BySegment maps segment ID → word index → best match.
	BySegment map[string]map[int]WordMatch

	// Total is the number of word matches across all segments.
	Total int

	// LowScore counts matches with Score < 1 — the uncertain subset.
	LowScore int
}

// Empty reports whether the result contains no matches.
func (r Result) Empty() bool {
	return r.Total == 0
}

// IgnoreSet holds session-scoped (term, surface form) pairs the operator has
// dismissed. Ignored pairs are suppressed for the rest of the session without
// altering the glossary itself. The zero value is ready to use.
type IgnoreSet struct {
	pairs map[[2]string]struct{}
}

// Add records that surface should no longer be flagged for term.
// Both values are normalized before storage.
func (s *IgnoreSet) Add(term, surface string) {
	if s.pairs == nil {
		s.pairs = make(map[[2]string]struct{})
	}
	s.pairs[[2]string{textnorm.Normalize(term), textnorm.Normalize(surface)}] = struct{}{}
}

// Contains reports whether the (term, surface) pair has been dismissed.
// Inputs are expected to be normalized already.
func (s *IgnoreSet) Contains(normTerm, normSurface string) bool {
	if s == nil || s.pairs == nil {
		return false
	}
	_, ok := s.pairs[[2]string{normTerm, normSurface}]
	return ok
}

// Len returns the number of dismissed pairs.
func (s *IgnoreSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pairs)
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum similarity score a match must reach.
// Default: 0.8.
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithMinWordLength sets the minimum candidate length (in runes, after
// normalization) below which a word is excluded from matching entirely —
// single-character tokens produce too many spurious fuzzy hits. Default: 2.
func WithMinWordLength(n int) Option {
	return func(m *Matcher) { m.minWordLen = n }
}

// Matcher scores transcript words against glossary entries.
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold  float64
	minWordLen int
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold:  defaultThreshold,
		minWordLen: defaultMinWordLen,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// preparedEntry caches the normalized forms of one glossary entry so the
// per-word loop never re-normalizes.
type preparedEntry struct {
	term           string
	normTerm       string
	normVariants   []string
	falsePositives map[string]struct{}
}

// prepare normalizes all entries once per matching pass.
func prepare(entries []types.LexiconEntry) []preparedEntry {
	prepped := make([]preparedEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Term) == "" {
			continue
		}
		p := preparedEntry{
			term:     e.Term,
			normTerm: textnorm.Normalize(e.Term),
		}
		for _, v := range e.Variants {
			if nv := textnorm.Normalize(v); nv != "" {
				p.normVariants = append(p.normVariants, nv)
			}
		}
		if len(e.FalsePositives) > 0 {
			p.falsePositives = make(map[string]struct{}, len(e.FalsePositives))
			for _, fp := range e.FalsePositives {
				p.falsePositives[textnorm.Normalize(fp)] = struct{}{}
			}
		}
		prepped = append(prepped, p)
	}
	return prepped
}

// Match scores all words of all non-confirmed segments against entries and
// returns the per-segment match maps plus total and low-score counts.
//
// ignores may be nil. An empty glossary short-circuits to an empty result.
func (m *Matcher) Match(segments []*types.Segment, entries []types.LexiconEntry, ignores *IgnoreSet) Result {
	result := Result{BySegment: map[string]map[int]WordMatch{}}
	if len(entries) == 0 {
		return result
	}

	prepped := prepare(entries)
	if len(prepped) == 0 {
		return result
	}

	for _, seg := range segments {
		if seg.Confirmed {
			continue
		}
		var segMatches map[int]WordMatch
		for wi, w := range seg.Words {
			match, ok := m.matchWord(w.Text, prepped, ignores)
			if !ok {
				continue
			}
			if segMatches == nil {
				segMatches = make(map[int]WordMatch)
			}
			segMatches[wi] = match
			result.Total++
			if match.Score < 1 {
				result.LowScore++
			}
		}
		if segMatches != nil {
			result.BySegment[seg.ID] = segMatches
		}
	}
	return result
}

// matchWord finds the best glossary hit for one token: first the full token,
// then — when the token is hyphenated and the full token did not match — each
// hyphen sub-part.
func (m *Matcher) matchWord(token string, entries []preparedEntry, ignores *IgnoreSet) (WordMatch, bool) {
	trimmed := textnorm.TrimPunct(token)

	if match, ok := m.matchSurface(trimmed, entries, ignores); ok {
		match.PartIndex = WholeWord
		return match, true
	}

	if strings.Contains(trimmed, "-") {
		best := WordMatch{PartIndex: WholeWord}
		for pi, part := range strings.Split(trimmed, "-") {
			match, ok := m.matchSurface(part, entries, ignores)
			if ok && match.Score > best.Score {
				best = match
				best.PartIndex = pi
			}
		}
		if best.PartIndex != WholeWord {
			return best, true
		}
	}

	return WordMatch{}, false
}

// matchSurface scores one normalized surface form against all entries and
// returns the best hit at or above the threshold.
func (m *Matcher) matchSurface(surface string, entries []preparedEntry, ignores *IgnoreSet) (WordMatch, bool) {
	norm := textnorm.Fold(surface)
	if len([]rune(norm)) < m.minWordLen {
		return WordMatch{}, false
	}

	var best WordMatch
	for _, e := range entries {
		score, exactVariant := scoreEntry(norm, e)
		if score < m.threshold {
			continue
		}

		// False positives suppress the entry unless the surface is an
		// exact-equal variant — variants take precedence.
		if _, fp := e.falsePositives[norm]; fp && !exactVariant {
			continue
		}

		if ignores.Contains(e.normTerm, norm) {
			continue
		}

		if score > best.Score {
			best = WordMatch{Term: e.term, Score: score}
		}
	}

	return best, best.Score > 0
}

// scoreEntry returns the best similarity of norm against the entry's term and
// variants, and whether the hit was an exact variant match. Exact term
// equality yields 1.0; variant scores are capped below 1.
func scoreEntry(norm string, e preparedEntry) (score float64, exactVariant bool) {
	if norm == e.normTerm {
		return 1.0, false
	}
	score = matchr.JaroWinkler(norm, e.normTerm, false)

	for _, v := range e.normVariants {
		if norm == v {
			return variantExactScore, true
		}
		if s := matchr.JaroWinkler(norm, v, false); s > score {
			if s > variantExactScore {
				s = variantExactScore
			}
			score = s
		}
	}
	return score, false
}
