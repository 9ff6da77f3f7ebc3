package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if t := cfg.Lexicon.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("lexicon.threshold %v is out of range [0, 1]", t))
	}
	if cfg.Lexicon.MinWordLength < 0 {
		errs = append(errs, fmt.Errorf("lexicon.min_word_length must not be negative, got %d", cfg.Lexicon.MinWordLength))
	}

	if cfg.Spellcheck.Enabled {
		if cfg.Spellcheck.CustomEnabled {
			if len(cfg.Spellcheck.CustomDictionaries) == 0 {
				errs = append(errs, errors.New("spellcheck.custom_enabled is set but spellcheck.custom_dictionaries is empty"))
			}
			seen := make(map[string]struct{}, len(cfg.Spellcheck.CustomDictionaries))
			for _, d := range cfg.Spellcheck.CustomDictionaries {
				if d.ID == "" || d.Path == "" {
					errs = append(errs, fmt.Errorf("spellcheck custom dictionary %q needs both id and path", d.Name))
					continue
				}
				if _, dup := seen[d.ID]; dup {
					errs = append(errs, fmt.Errorf("spellcheck custom dictionary id %q is duplicated", d.ID))
				}
				seen[d.ID] = struct{}{}
			}
		} else if len(cfg.Spellcheck.Languages) == 0 {
			slog.Warn("spellcheck is enabled but no languages are configured; spellcheck will be inert")
		}
		if cfg.Spellcheck.MatchLimit < 0 {
			errs = append(errs, fmt.Errorf("spellcheck.match_limit must not be negative, got %d", cfg.Spellcheck.MatchLimit))
		}
	}

	if cfg.Playback.ScrollCooldownMS < 0 {
		errs = append(errs, fmt.Errorf("playback.scroll_cooldown_ms must not be negative, got %d", cfg.Playback.ScrollCooldownMS))
	}
	if cfg.Playback.VisibilityHz < 0 {
		errs = append(errs, fmt.Errorf("playback.visibility_hz must not be negative, got %d", cfg.Playback.VisibilityHz))
	}
	if cfg.Playback.SeekJumpThresholdS < 0 {
		errs = append(errs, fmt.Errorf("playback.seek_jump_threshold_s must not be negative, got %v", cfg.Playback.SeekJumpThresholdS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}
