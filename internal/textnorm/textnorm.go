// Package textnorm provides the shared surface-form normalization used by the
// lexicon matcher, the spellcheck engine, and the search predicates.
//
// Normalization is deliberately identical across all three consumers so that
// a word flagged by one engine compares equal in another: lower-casing via
// Unicode case folding, diacritic removal (NFD decomposition with combining
// marks stripped), and optional trimming of leading/trailing punctuation.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPunctCutset lists the punctuation characters trimmed from word
// boundaries before matching. Interior punctuation (hyphens, apostrophes)
// is preserved.
const DefaultPunctCutset = ".,;:!?\"'«»„“”‘’()[]{}…–—"

// foldTransformer strips combining marks after NFD decomposition, removing
// diacritics ("café" → "cafe", "Wörter" → "Worter").
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Fold returns s lower-cased with diacritics removed. On a transform error
// (malformed UTF-8) the lower-cased input is returned unchanged — matching
// degrades rather than fails.
func Fold(s string) string {
	lower := strings.ToLower(s)
	folded, _, err := transform.String(foldTransformer, lower)
	if err != nil {
		return lower
	}
	return folded
}

// TrimPunct removes leading and trailing punctuation from s using
// [DefaultPunctCutset].
func TrimPunct(s string) string {
	return strings.Trim(s, DefaultPunctCutset)
}

// Normalize applies [TrimPunct] then [Fold] — the canonical surface form used
// for all equality and similarity comparisons.
func Normalize(s string) string {
	return Fold(TrimPunct(s))
}
