package spellcheck

import (
	"sort"
	"strings"

	"github.com/fabelwerk/redakt/internal/textnorm"
	"github.com/fabelwerk/redakt/pkg/types"
)

// variantMap indexes glossary variants for override matching. Single-word
// variants are matched per word; multi-word variants are matched against
// consecutive word windows.
type variantMap struct {
	// single maps a normalized single-word variant to its canonical term.
	single map[string]string

	// multi holds normalized multi-word variants, longest first so the
	// widest window wins at any given position.
	multi []multiVariant

	// suppress holds normalized canonical terms and false positives.
	// A dictionary verdict for a word in this set is dropped; variant
	// overrides are never suppressed.
	suppress map[string]struct{}

	// fingerprint is a stable digest of the variant mapping, folded into the
	// engine's configuration fingerprint so glossary edits invalidate caches.
	fingerprint string
}

type multiVariant struct {
	words []string
	term  string
}

// buildVariantMap indexes entries for the spellcheck run.
func buildVariantMap(entries []types.LexiconEntry) *variantMap {
	vm := &variantMap{
		single:   make(map[string]string),
		suppress: make(map[string]struct{}),
	}

	var fpParts []string
	for _, e := range entries {
		term := strings.TrimSpace(e.Term)
		if term == "" {
			continue
		}
		vm.suppress[textnorm.Normalize(term)] = struct{}{}
		for _, fp := range e.FalsePositives {
			vm.suppress[textnorm.Normalize(fp)] = struct{}{}
		}

		for _, v := range e.Variants {
			words := strings.Fields(v)
			switch {
			case len(words) == 1:
				norm := textnorm.Normalize(words[0])
				if norm != "" {
					vm.single[norm] = term
					fpParts = append(fpParts, norm+"\x00"+term)
				}
			case len(words) > 1:
				normWords := make([]string, len(words))
				for i, w := range words {
					normWords[i] = textnorm.Normalize(w)
				}
				vm.multi = append(vm.multi, multiVariant{words: normWords, term: term})
				fpParts = append(fpParts, strings.Join(normWords, "\x00")+"\x00"+term)
			}
		}
	}

	// Longest variants first so the widest window wins.
	sort.SliceStable(vm.multi, func(i, j int) bool {
		return len(vm.multi[i].words) > len(vm.multi[j].words)
	})

	sort.Strings(fpParts)
	vm.fingerprint = strings.Join(fpParts, "\x01")
	return vm
}

// matchMultiAt reports whether a multi-word variant starts at word index i of
// normWords, returning the canonical term and the window length.
func (vm *variantMap) matchMultiAt(normWords []string, i int) (term string, n int, ok bool) {
	for _, mv := range vm.multi {
		if i+len(mv.words) > len(normWords) {
			continue
		}
		matched := true
		for j, vw := range mv.words {
			if normWords[i+j] != vw {
				matched = false
				break
			}
		}
		if matched {
			return mv.term, len(mv.words), true
		}
	}
	return "", 0, false
}
