package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fabelwerk/redakt/pkg/types"
)

// GlossaryFile is the top-level structure of a redakt glossary YAML file.
//
// Example:
//
//	entries:
//	  - term: "Eldrinax"
//	    variants: ["Eldrinaks", "Eldrinax der Rote"]
//	    false_positives: ["Eldrin"]
type GlossaryFile struct {
	Entries []types.LexiconEntry `yaml:"entries"`
}

// LoadGlossary reads and parses a glossary YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadGlossary(path string) ([]types.LexiconEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open glossary %q: %w", path, err)
	}
	defer f.Close()

	entries, err := LoadGlossaryFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse glossary %q: %w", path, err)
	}
	return entries, nil
}

// LoadGlossaryFromReader parses glossary YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadGlossaryFromReader(r io.Reader) ([]types.LexiconEntry, error) {
	var gf GlossaryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&gf); err != nil {
		return nil, fmt.Errorf("config: decode glossary yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(gf.Entries))
	for _, e := range gf.Entries {
		if e.Term == "" {
			return nil, fmt.Errorf("config: glossary entry with empty term")
		}
		if _, dup := seen[e.Term]; dup {
			return nil, fmt.Errorf("config: glossary term %q is duplicated", e.Term)
		}
		seen[e.Term] = struct{}{}
	}
	return gf.Entries, nil
}
