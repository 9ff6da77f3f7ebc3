// Package spellcheck implements incremental dictionary checking over
// transcript segments.
//
// One or more [Checker] instances (built-in language dictionaries or
// user-supplied custom dictionaries) are run word-by-word over all
// non-confirmed segments in time-sliced background chunks. Glossary variants
// override the dictionary verdict entirely: a transcript word that equals a
// known variant is flagged with the canonical term as its only suggestion,
// even when the word itself is spelled correctly.
//
// Results are cached per segment revision and reused across runs as long as
// the configuration fingerprint is unchanged; see [Engine].
package spellcheck

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/fabelwerk/redakt/internal/textnorm"
)

const (
	// maxSuggestions caps how many replacement candidates one word receives.
	maxSuggestions = 5

	// maxSuggestDistance is the Damerau-Levenshtein cutoff for suggestions.
	maxSuggestDistance = 2
)

// Checker decides whether a word is correctly spelled and proposes
// replacements for words that are not. Implementations must be safe for
// concurrent use.
type Checker interface {
	// Check reports whether word is known. The input is a raw surface form;
	// implementations normalize internally.
	Check(word string) bool

	// Suggest returns up to max replacement candidates for a misspelled word,
	// best first.
	Suggest(word string, max int) []string
}

// CustomDictionary is a user-supplied dictionary payload. When custom
// dictionaries are enabled they REPLACE the built-in language dictionaries —
// the effective built-in set becomes empty, never a union.
type CustomDictionary struct {
	// ID uniquely identifies the dictionary (used in the config fingerprint).
	ID string `yaml:"id" json:"id"`

	// Name is the display name shown to the operator.
	Name string `yaml:"name" json:"name"`

	// Path is the word-list file location (one word per line, '#' comments).
	Path string `yaml:"path" json:"path"`
}

// Dictionary is a word-list [Checker]. Lookup is case- and
// diacritic-insensitive; suggestions are ranked by Damerau-Levenshtein
// distance against the original word forms.
type Dictionary struct {
	// words maps the normalized form to the first original spelling seen.
	words map[string]string

	// ordered holds the original spellings in insertion order for
	// deterministic suggestion ties.
	ordered []string
}

// Compile-time interface check.
var _ Checker = (*Dictionary)(nil)

// LoadDictionary parses a word list from r: one word per line, blank lines
// and lines starting with '#' are skipped. Affix continuation markers of the
// form "word/FLAGS" keep only the stem.
func LoadDictionary(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{words: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '/'); i > 0 {
			line = line[:i]
		}
		norm := textnorm.Fold(line)
		if _, seen := d.words[norm]; !seen {
			d.words[norm] = line
			d.ordered = append(d.ordered, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("spellcheck: read word list: %w", err)
	}
	return d, nil
}

// LoadDictionaryFile reads a word-list file from disk.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spellcheck: open dictionary %q: %w", path, err)
	}
	defer f.Close()

	d, err := LoadDictionary(f)
	if err != nil {
		return nil, fmt.Errorf("spellcheck: parse dictionary %q: %w", path, err)
	}
	return d, nil
}

// NewDictionary builds a [Dictionary] from an in-memory word list.
// Useful in tests and for small custom dictionaries.
func NewDictionary(words ...string) *Dictionary {
	d := &Dictionary{words: make(map[string]string, len(words))}
	for _, w := range words {
		norm := textnorm.Fold(w)
		if _, seen := d.words[norm]; !seen {
			d.words[norm] = w
			d.ordered = append(d.ordered, w)
		}
	}
	return d
}

// Len returns the number of distinct words in the dictionary.
func (d *Dictionary) Len() int { return len(d.words) }

// Check reports whether word (normalized) is in the word list.
func (d *Dictionary) Check(word string) bool {
	_, ok := d.words[textnorm.Fold(word)]
	return ok
}

// Suggest returns up to max dictionary words within Damerau-Levenshtein
// distance 2 of word, closest first; ties break by insertion order.
func (d *Dictionary) Suggest(word string, max int) []string {
	if max <= 0 {
		max = maxSuggestions
	}
	norm := textnorm.Fold(word)

	type candidate struct {
		word  string
		dist  int
		order int
	}
	var candidates []candidate
	for i, original := range d.ordered {
		dist := matchr.DamerauLevenshtein(norm, textnorm.Fold(original))
		if dist <= maxSuggestDistance {
			candidates = append(candidates, candidate{word: original, dist: dist, order: i})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].order < candidates[j].order
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.word
	}
	return out
}

// LoadCheckers resolves the effective checker set for a configuration:
// custom dictionaries when enabled, otherwise the built-in language
// dictionaries found under dictDir as "<lang>.txt".
//
// A dictionary that fails to load is logged and skipped — the feature
// degrades to fewer (possibly zero) checkers rather than erroring out.
func LoadCheckers(dictDir string, cfg Config) []Checker {
	var checkers []Checker

	if cfg.CustomEnabled {
		for _, cd := range cfg.CustomDictionaries {
			d, err := LoadDictionaryFile(cd.Path)
			if err != nil {
				slog.Warn("spellcheck: custom dictionary unavailable",
					"id", cd.ID, "path", cd.Path, "error", err)
				continue
			}
			checkers = append(checkers, d)
		}
		return checkers
	}

	for _, lang := range cfg.Languages {
		path := filepath.Join(dictDir, lang+".txt")
		d, err := LoadDictionaryFile(path)
		if err != nil {
			slog.Warn("spellcheck: language dictionary unavailable",
				"language", lang, "path", path, "error", err)
			continue
		}
		checkers = append(checkers, d)
	}
	return checkers
}

// checkable reports whether a token is worth sending to a checker: it must
// contain at least one letter and be at least two runes long after trimming.
func checkable(norm string) bool {
	runes := []rune(norm)
	if len(runes) < 2 {
		return false
	}
	for _, r := range runes {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
