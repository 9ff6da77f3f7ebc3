// Package config provides the configuration schema and loaders for the
// redakt transcript editor, including the glossary file format and its
// hot-reload watcher.
package config

// LogLevel controls log verbosity for the redakt server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for redakt.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Lexicon    LexiconConfig    `yaml:"lexicon"`
	Spellcheck SpellcheckConfig `yaml:"spellcheck"`
	Playback   PlaybackConfig   `yaml:"playback"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port the server binds to. Default: ":8420".
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the Prometheus scrape endpoint. Empty disables metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// StoreConfig selects the transcript persistence backend.
type StoreConfig struct {
	// PostgresDSN enables the Postgres store. Empty falls back to the
	// in-memory store, which loses all state on restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LexiconConfig tunes the glossary fuzzy matcher.
type LexiconConfig struct {
	// Path points at the glossary YAML file (see [LoadGlossary]).
	Path string `yaml:"path"`

	// Threshold is the minimum similarity score for a fuzzy match.
	// Zero uses the matcher default.
	Threshold float64 `yaml:"threshold"`

	// MinWordLength excludes shorter words from matching. Zero uses the
	// matcher default.
	MinWordLength int `yaml:"min_word_length"`

	// WatchInterval is the glossary file polling interval in seconds.
	// Zero uses the watcher default.
	WatchIntervalS int `yaml:"watch_interval_s"`
}

// SpellcheckDictionary references one custom word-list file.
type SpellcheckDictionary struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// SpellcheckConfig selects the active dictionaries.
type SpellcheckConfig struct {
	Enabled bool `yaml:"enabled"`

	// DictDir is the directory holding built-in word lists, one
	// "<language>.txt" per language.
	DictDir string `yaml:"dict_dir"`

	// Languages selects built-in dictionaries. Ignored when CustomEnabled
	// is set: custom dictionaries replace built-ins.
	Languages []string `yaml:"languages"`

	CustomEnabled      bool                   `yaml:"custom_enabled"`
	CustomDictionaries []SpellcheckDictionary `yaml:"custom_dictionaries"`

	IgnoreWords []string `yaml:"ignore_words"`

	// MatchLimit halts a spellcheck run once this many matches exist.
	// Zero uses the engine default.
	MatchLimit int `yaml:"match_limit"`
}

// PlaybackConfig tunes the scroll/selection synchronizer.
type PlaybackConfig struct {
	// ScrollCooldownMS is the minimum gap between scrolls to the same
	// segment. Zero uses the synchronizer default (300ms).
	ScrollCooldownMS int `yaml:"scroll_cooldown_ms"`

	// VisibilityHz caps how often visibility is recomputed during steady
	// playback. Zero uses the default (4).
	VisibilityHz int `yaml:"visibility_hz"`

	// SeekJumpThresholdS is the time delta treated as a manual jump.
	// Zero uses the default (1.5).
	SeekJumpThresholdS float64 `yaml:"seek_jump_threshold_s"`

	// RestrictToFiltered skips playback over segments outside the filtered
	// set.
	RestrictToFiltered bool `yaml:"restrict_to_filtered"`
}
