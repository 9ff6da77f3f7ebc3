package spellcheck

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/textnorm"
	"github.com/fabelwerk/redakt/pkg/types"
)

const (
	defaultMatchLimit = 1000
	defaultChunkSize  = 16

	// WholeWord is the PartIndex value for matches against the full token.
	WholeWord = -1
)

// Config selects the active dictionaries and session-level ignore words.
type Config struct {
	// Enabled gates the whole engine; a disabled engine produces an empty,
	// complete result without touching any checker.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Languages selects built-in dictionaries. Ignored entirely when
	// CustomEnabled is set — custom dictionaries replace built-ins, they do
	// not extend them.
	Languages []string `yaml:"languages" json:"languages"`

	CustomEnabled      bool               `yaml:"custom_enabled" json:"customEnabled"`
	CustomDictionaries []CustomDictionary `yaml:"custom_dictionaries" json:"customDictionaries"`

	// IgnoreWords suppresses dictionary verdicts for the listed surface
	// forms. Variant overrides are never suppressed.
	IgnoreWords []string `yaml:"ignore_words" json:"ignoreWords"`

	// MatchLimit halts a run once this many matches exist. Default: 1000.
	MatchLimit int `yaml:"match_limit" json:"matchLimit"`

	// ChunkSize is the number of checker calls between yield points of the
	// background run. Default: 16.
	ChunkSize int `yaml:"chunk_size" json:"chunkSize"`
}

// Match flags one word (or hyphen sub-part) as needing review.
type Match struct {
	// Suggestions lists replacement candidates, best first. For variant
	// overrides this is exactly the canonical glossary term.
	Suggestions []string `json:"suggestions"`

	// PartIndex is the hyphen sub-part the match applies to, or [WholeWord].
	PartIndex int `json:"partIndex"`

	// IsVariant marks a glossary-variant override. Variant matches bypass
	// the dictionary checker and are exempt from all suppression.
	IsVariant bool `json:"isVariant,omitempty"`
}

// Result is a snapshot of the engine's current match state. BySegment maps
// segment ID → word index → match. The inner maps must be treated read-only.
type Result struct {
	BySegment map[string]map[int]Match

	// Total is the number of matches across all segments.
	Total int

	// LimitReached reports that the run stopped early at the match limit;
	// the host should surface a warning rather than silently truncate.
	LimitReached bool

	// Complete reports that no background work is outstanding.
	Complete bool
}

// RunInput bundles everything one computation needs. Checkers are resolved
// by the caller (see [LoadCheckers]) so tests can inject spies.
type RunInput struct {
	Segments []*types.Segment
	Entries  []types.LexiconEntry
	Config   Config
	Checkers []Checker

	// Metrics receives the run's instrument recordings. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Run is a handle to one (possibly background) computation.
type Run struct {
	id   uint64
	done chan struct{}
}

// Done is closed when the run has finished, been superseded, or hit the
// match limit. Partial results are visible via [Engine.Snapshot] before then.
func (r *Run) Done() <-chan struct{} { return r.done }

// segCache holds the computed matches for one segment revision.
type segCache struct {
	rev     uint64
	matches map[int]Match
}

// Engine incrementally spellchecks segments.
//
// Unchanged segments — same ID and Rev as in the previous completed run,
// under an unchanged configuration fingerprint — reuse their cached match
// maps with zero checker calls. When only the ignore-word set has grown, the
// previous result is re-filtered in place instead of recomputed. Everything
// else is processed by a background goroutine in bounded chunks; starting a
// new run invalidates any in-flight one via a monotonically increasing run
// id that stale chunks observe before committing.
type Engine struct {
	runSeq atomic.Uint64

	mu           sync.Mutex
	cache        map[string]segCache
	baseFP       string
	ignore       map[string]struct{}
	total        int
	complete     bool
	limitReached bool
}

// NewEngine returns an empty [Engine].
func NewEngine() *Engine {
	return &Engine{
		cache:  make(map[string]segCache),
		ignore: make(map[string]struct{}),
	}
}

// Snapshot returns the current match state. Safe to call while a run is in
// flight; partial results appear as segments complete.
func (e *Engine) Snapshot() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	by := make(map[string]map[int]Match, len(e.cache))
	for id, sc := range e.cache {
		if len(sc.matches) > 0 {
			by[id] = sc.matches
		}
	}
	return Result{
		BySegment:    by,
		Total:        e.total,
		LimitReached: e.limitReached,
		Complete:     e.complete,
	}
}

// Run starts a new computation over in and returns its handle. Any in-flight
// run is invalidated immediately. When every segment can be served from
// cache (or the engine is disabled) the run completes synchronously.
func (e *Engine) Run(ctx context.Context, in RunInput) *Run {
	cfg := in.Config
	if cfg.MatchLimit <= 0 {
		cfg.MatchLimit = defaultMatchLimit
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	met := in.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}

	id := e.runSeq.Add(1)
	run := &Run{id: id, done: make(chan struct{})}

	if !cfg.Enabled {
		e.mu.Lock()
		if e.runSeq.Load() == id {
			e.cache = make(map[string]segCache)
			e.baseFP = ""
			e.ignore = make(map[string]struct{})
			e.total = 0
			e.complete = true
			e.limitReached = false
		}
		e.mu.Unlock()
		close(run.done)
		return run
	}

	vm := buildVariantMap(in.Entries)
	baseFP := baseFingerprint(cfg, vm.fingerprint)
	ignore := normalizeSet(cfg.IgnoreWords)

	e.mu.Lock()
	if e.runSeq.Load() != id {
		e.mu.Unlock()
		close(run.done)
		return run
	}

	sameBase := e.complete && baseFP == e.baseFP
	sameIgnore := sameBase && setsEqual(ignore, e.ignore)
	superset := sameBase && !sameIgnore && isSuperset(ignore, e.ignore)

	newCache := make(map[string]segCache, len(in.Segments))
	var pending []*types.Segment
	total := 0

	for _, seg := range in.Segments {
		if seg.Confirmed {
			continue
		}
		cached, ok := e.cache[seg.ID]
		switch {
		case ok && cached.rev == seg.Rev && sameIgnore:
			newCache[seg.ID] = cached
			total += len(cached.matches)
		case ok && cached.rev == seg.Rev && superset:
			filtered := refilter(cached.matches, seg, ignore)
			newCache[seg.ID] = segCache{rev: seg.Rev, matches: filtered}
			total += len(filtered)
		default:
			pending = append(pending, seg)
		}
	}

	e.cache = newCache
	e.baseFP = baseFP
	e.ignore = ignore
	e.total = total
	e.limitReached = false
	e.complete = len(pending) == 0
	e.mu.Unlock()

	if len(pending) == 0 {
		close(run.done)
		return run
	}

	go e.process(ctx, id, run, pending, vm, ignore, cfg, in.Checkers, met)
	return run
}

// process is the background chunked word scan. It commits results at segment
// granularity and checks for staleness and cancellation between chunks, so a
// superseded run never writes into shared state.
func (e *Engine) process(ctx context.Context, id uint64, run *Run, pending []*types.Segment,
	vm *variantMap, ignore map[string]struct{}, cfg Config, checkers []Checker, met *observe.Metrics) {

	defer close(run.done)

	words := 0
	for _, seg := range pending {
		matches, aborted := e.checkSegment(ctx, id, seg, vm, ignore, cfg, checkers, met, &words)
		if aborted {
			return
		}

		e.mu.Lock()
		if e.runSeq.Load() != id {
			e.mu.Unlock()
			return
		}
		e.cache[seg.ID] = segCache{rev: seg.Rev, matches: matches}
		e.total += len(matches)
		if e.total >= cfg.MatchLimit {
			e.limitReached = true
			e.complete = true
			e.mu.Unlock()
			met.MatchLimitHits.Add(ctx, 1, metric.WithAttributes(observe.Attr("engine", "spellcheck")))
			return
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	if e.runSeq.Load() == id {
		e.complete = true
	}
	e.mu.Unlock()
}

// checkSegment scans one segment. words counts checker-visited tokens across
// the whole run for chunk-boundary yields.
func (e *Engine) checkSegment(ctx context.Context, id uint64, seg *types.Segment,
	vm *variantMap, ignore map[string]struct{}, cfg Config, checkers []Checker,
	met *observe.Metrics, words *int) (map[int]Match, bool) {

	source := "builtin"
	if cfg.CustomEnabled {
		source = "custom"
	}
	checkerAttrs := metric.WithAttributes(observe.Attr("dictionary", source))

	normWords := make([]string, len(seg.Words))
	for i, w := range seg.Words {
		normWords[i] = textnorm.Normalize(w.Text)
	}

	var matches map[int]Match
	suppressed := make(map[int]bool)

	for i, w := range seg.Words {
		if suppressed[i] {
			continue
		}

		// Multi-word variant windows take priority: the first word carries
		// the match, the remaining window words are suppressed outright.
		if term, n, ok := vm.matchMultiAt(normWords, i); ok {
			if matches == nil {
				matches = make(map[int]Match)
			}
			matches[i] = Match{Suggestions: []string{term}, PartIndex: WholeWord, IsVariant: true}
			for j := 1; j < n; j++ {
				suppressed[i+j] = true
			}
			continue
		}

		// Single-word variant override bypasses the dictionary entirely.
		if term, ok := vm.single[normWords[i]]; ok {
			if matches == nil {
				matches = make(map[int]Match)
			}
			matches[i] = Match{Suggestions: []string{term}, PartIndex: WholeWord, IsVariant: true}
			continue
		}

		if _, skip := ignore[normWords[i]]; skip {
			continue
		}
		if _, skip := vm.suppress[normWords[i]]; skip {
			continue
		}

		met.CheckerCalls.Add(ctx, 1, checkerAttrs)
		match, flagged := checkWord(w.Text, checkers)
		if flagged {
			if matches == nil {
				matches = make(map[int]Match)
			}
			matches[i] = match
		}

		*words++
		if *words%cfg.ChunkSize == 0 {
			// Yield point: a newer run or cancellation aborts without commit.
			if ctx.Err() != nil || e.runSeq.Load() != id {
				return nil, true
			}
		}
	}
	return matches, false
}

// checkWord runs the dictionary checkers over one token. The whole token is
// tried first; hyphenated tokens fall back to per-part checking, flagging the
// first unknown part. With zero checkers the engine is inert.
func checkWord(token string, checkers []Checker) (Match, bool) {
	if len(checkers) == 0 {
		return Match{}, false
	}

	trimmed := textnorm.TrimPunct(token)
	if !checkable(textnorm.Fold(trimmed)) {
		return Match{}, false
	}

	if knownByAny(trimmed, checkers) {
		return Match{}, false
	}

	if strings.Contains(trimmed, "-") {
		for pi, part := range strings.Split(trimmed, "-") {
			if !checkable(textnorm.Fold(part)) || knownByAny(part, checkers) {
				continue
			}
			return Match{Suggestions: suggestions(part, checkers), PartIndex: pi}, true
		}
		// Every part is individually known; the compound passes.
		return Match{}, false
	}

	return Match{Suggestions: suggestions(trimmed, checkers), PartIndex: WholeWord}, true
}

func knownByAny(word string, checkers []Checker) bool {
	for _, c := range checkers {
		if c.Check(word) {
			return true
		}
	}
	return false
}

// suggestions merges checker suggestions, deduplicated, capped at
// maxSuggestions.
func suggestions(word string, checkers []Checker) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range checkers {
		for _, s := range c.Suggest(word, maxSuggestions) {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
			if len(out) >= maxSuggestions {
				return out
			}
		}
	}
	return out
}

// refilter drops now-ignored non-variant matches from a cached map without
// re-invoking any checker. Used on the ignore-set-superset fast path.
func refilter(matches map[int]Match, seg *types.Segment, ignore map[string]struct{}) map[int]Match {
	if len(matches) == 0 {
		return matches
	}
	out := make(map[int]Match, len(matches))
	for wi, m := range matches {
		if !m.IsVariant && wi < len(seg.Words) {
			norm := textnorm.Normalize(seg.Words[wi].Text)
			if _, skip := ignore[norm]; skip {
				continue
			}
		}
		out[wi] = m
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// baseFingerprint digests everything except the ignore-word set: enabled
// flag, effective language list, custom-dictionary ids, and the variant
// mapping. The ignore set is compared separately to allow the superset fast
// path.
func baseFingerprint(cfg Config, variantFP string) string {
	var parts []string
	if cfg.CustomEnabled {
		ids := make([]string, 0, len(cfg.CustomDictionaries))
		for _, d := range cfg.CustomDictionaries {
			ids = append(ids, d.ID)
		}
		sort.Strings(ids)
		parts = append(parts, "custom", strings.Join(ids, "\x00"))
	} else {
		langs := append([]string(nil), cfg.Languages...)
		sort.Strings(langs)
		parts = append(parts, "builtin", strings.Join(langs, "\x00"))
	}
	parts = append(parts, variantFP)
	return strings.Join(parts, "\x01")
}

func normalizeSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if n := textnorm.Normalize(w); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func isSuperset(a, b map[string]struct{}) bool {
	if len(a) < len(b) {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}
