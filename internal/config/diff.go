package config

import (
	"slices"

	"github.com/fabelwerk/redakt/pkg/types"
)

// GlossaryDiff describes what changed between two glossary versions, keyed by
// canonical term. Used for reload logging and targeted cache invalidation.
type GlossaryDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (d GlossaryDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffGlossary compares old and new glossaries and returns what changed.
func DiffGlossary(old, new []types.LexiconEntry) GlossaryDiff {
	d := GlossaryDiff{}

	oldByTerm := make(map[string]types.LexiconEntry, len(old))
	for _, e := range old {
		oldByTerm[e.Term] = e
	}
	newByTerm := make(map[string]types.LexiconEntry, len(new))
	for _, e := range new {
		newByTerm[e.Term] = e
	}

	for term, oldEntry := range oldByTerm {
		newEntry, exists := newByTerm[term]
		if !exists {
			d.Removed = append(d.Removed, term)
			continue
		}
		if !slices.Equal(oldEntry.Variants, newEntry.Variants) ||
			!slices.Equal(oldEntry.FalsePositives, newEntry.FalsePositives) {
			d.Changed = append(d.Changed, term)
		}
	}
	for term := range newByTerm {
		if _, exists := oldByTerm[term]; !exists {
			d.Added = append(d.Added, term)
		}
	}

	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	slices.Sort(d.Changed)
	return d
}
