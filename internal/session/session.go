// Package session owns the mutable editing state of one transcript: the
// segment list, speakers, tags and glossary, plus the match engines and the
// filter pipeline derived from them. All mutation goes through the session so
// revision counters stay correct and the engines observe consistent input.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fabelwerk/redakt/internal/filter"
	"github.com/fabelwerk/redakt/internal/lexicon"
	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/search"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/pkg/types"
)

// defaultSearchDebounce delays applying a changed search query so the
// filtered list is not recomputed on every keystroke.
const defaultSearchDebounce = 250 * time.Millisecond

// Options configure a [Session].
type Options struct {
	// SearchDebounce overrides the query debounce delay. Zero uses the
	// default; tests inject a tiny value.
	SearchDebounce time.Duration

	// SpellcheckConfig is the initial spellcheck configuration.
	SpellcheckConfig spellcheck.Config

	// Checkers are the resolved dictionaries (see [spellcheck.LoadCheckers]).
	Checkers []spellcheck.Checker

	// LexiconOptions tune the fuzzy matcher.
	LexiconOptions []lexicon.Option

	// Metrics receives the session's instrument recordings. Nil uses
	// [observe.DefaultMetrics]; tests inject an isolated instance.
	Metrics *observe.Metrics
}

// View is a consistent snapshot of everything the host renders.
type View struct {
	Segments []*types.Segment
	Filtered filter.Result

	Lexicon    lexicon.Result
	Spellcheck spellcheck.Result

	SearchMatches []search.Match
	SearchCursor  int
}

// Session is one open transcript. Safe for concurrent use.
type Session struct {
	ID string

	mu       sync.Mutex
	segments []*types.Segment
	speakers []types.Speaker
	tags     []types.Tag
	entries  []types.LexiconEntry
	ignores  *lexicon.IgnoreSet

	scoresVersion uint64
	filterParams  filter.Params
	spellConfig   spellcheck.Config
	checkers      []spellcheck.Checker

	matcher  *lexicon.Matcher
	spell    *spellcheck.Engine
	pipeline *filter.Pipeline
	search   *search.Engine
	metrics  *observe.Metrics

	lexResult lexicon.Result

	debounce      time.Duration
	debounceTimer *time.Timer
	pendingQuery  string
	pendingRegex  bool
}

// New creates a session over the given transcript. Segments must be sorted
// by start time.
func New(id string, segments []*types.Segment, speakers []types.Speaker, tags []types.Tag,
	entries []types.LexiconEntry, opts Options) *Session {

	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		ID:          id,
		segments:    segments,
		speakers:    speakers,
		tags:        tags,
		entries:     entries,
		ignores:     &lexicon.IgnoreSet{},
		spellConfig: opts.SpellcheckConfig,
		checkers:    opts.Checkers,
		matcher:     lexicon.New(opts.LexiconOptions...),
		spell:       spellcheck.NewEngine(),
		pipeline:    filter.NewPipeline(),
		search:      search.NewEngine(),
		metrics:     opts.Metrics,
		debounce:    opts.SearchDebounce,
	}
}

// Close releases pending timers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

// Recompute runs the lexicon matcher and starts a spellcheck run, then waits
// for both. Partial spellcheck results become visible through [Session.View]
// while the run is still in flight.
func (s *Session) Recompute(ctx context.Context) error {
	s.mu.Lock()
	segments := s.segments
	entries := s.entries
	ignores := s.ignores
	cfg := s.spellConfig
	checkers := s.checkers
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		res := s.matcher.Match(segments, entries, ignores)
		s.metrics.LexiconRunDuration.Record(ctx, time.Since(start).Seconds())
		s.mu.Lock()
		s.lexResult = res
		s.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		run := s.spell.Run(ctx, spellcheck.RunInput{
			Segments: segments,
			Entries:  entries,
			Config:   cfg,
			Checkers: checkers,
			Metrics:  s.metrics,
		})
		select {
		case <-run.Done():
			s.metrics.SpellcheckRunDuration.Record(ctx, time.Since(start).Seconds())
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return g.Wait()
}

// View assembles the current render state: the filtered list, both match
// maps, and the search matches with their cursor.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	spellRes := s.spell.Snapshot()
	start := time.Now()
	filtered := s.pipeline.Apply(filter.Input{
		Segments:          s.segments,
		Speakers:          s.speakers,
		Params:            s.filterParams,
		Lexicon:           s.lexResult,
		Spellcheck:        spellRes,
		SpellcheckEnabled: s.spellConfig.Enabled,
		ScoresVersion:     s.scoresVersion,
	})
	s.metrics.FilterApplyDuration.Record(context.Background(), time.Since(start).Seconds())
	return View{
		Segments:      s.segments,
		Filtered:      filtered,
		Lexicon:       s.lexResult,
		Spellcheck:    spellRes,
		SearchMatches: s.search.Matches(),
		SearchCursor:  s.search.Cursor(),
	}
}

// SetFilterParams replaces the active filter toggles.
func (s *Session) SetFilterParams(p filter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterParams = p
}

// SetSpellcheckConfig replaces the spellcheck configuration and the resolved
// checkers. The next [Session.Recompute] picks them up.
func (s *Session) SetSpellcheckConfig(cfg spellcheck.Config, checkers []spellcheck.Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spellConfig = cfg
	s.checkers = checkers
}

// SetEntries replaces the glossary.
func (s *Session) SetEntries(entries []types.LexiconEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

// IgnoreLexiconMatch suppresses one (term, surface) pair for the rest of the
// session.
func (s *Session) IgnoreLexiconMatch(term, surface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignores.Add(term, surface)
}

// SetSearchQuery schedules a query change. Application is debounced; the
// query takes effect after the debounce window with no further changes.
func (s *Session) SetSearchQuery(query string, isRegex bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingQuery = query
	s.pendingRegex = isRegex
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.applyPendingQuery)
}

func (s *Session) applyPendingQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search.Update(s.segments, s.pendingQuery, s.pendingRegex)
	s.filterParams.Query = s.pendingQuery
	s.filterParams.RegexQuery = s.pendingRegex
}

// SearchNext and SearchPrevious move the search cursor.
func (s *Session) SearchNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search.Next()
}

func (s *Session) SearchPrevious() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search.Previous()
}

// ReplaceCurrent replaces the selected search match and applies the
// resulting update, then rescans so the match list reflects the new text.
func (s *Session) ReplaceCurrent(replacement string) []types.TextUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.search.ReplaceCurrent(s.segments, replacement)
	s.applyTextLocked(updates)
	s.search.Update(s.segments, s.pendingQuery, s.pendingRegex)
	return updates
}

// ReplaceAll replaces every search match across the transcript.
func (s *Session) ReplaceAll(replacement string) []types.TextUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.search.ReplaceAll(s.segments, replacement)
	s.applyTextLocked(updates)
	s.search.Update(s.segments, s.pendingQuery, s.pendingRegex)
	return updates
}

// ApplyText applies a batch of text updates. Each touched segment gets its
// words re-tokenized (timings spread evenly, confidence cleared) and its
// revision bumped so the engine caches invalidate.
func (s *Session) ApplyText(updates []types.TextUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyTextLocked(updates)
}

func (s *Session) applyTextLocked(updates []types.TextUpdate) error {
	for _, u := range updates {
		seg := s.findLocked(u.SegmentID)
		if seg == nil {
			return fmt.Errorf("session: unknown segment %q", u.SegmentID)
		}
		if seg.Text == u.NewText {
			continue
		}
		seg.Text = u.NewText
		seg.Words = retokenize(u.NewText, seg.Start, seg.End)
		seg.Rev++
	}
	if len(updates) > 0 {
		// Re-tokenized words lose their confidence scores.
		s.scoresVersion++
	}
	return nil
}

// SplitSegment splits a segment before the given word index. The second half
// becomes a new segment with a fresh id. Word timings are preserved, so the
// confidence-score version does not change.
func (s *Session) SplitSegment(id string, wordIndex int) (*types.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx == -1 {
		return nil, fmt.Errorf("session: unknown segment %q", id)
	}
	seg := s.segments[idx]
	if wordIndex <= 0 || wordIndex >= len(seg.Words) {
		return nil, fmt.Errorf("session: split index %d out of range for segment %q", wordIndex, id)
	}

	head := seg.Words[:wordIndex]
	tail := seg.Words[wordIndex:]

	next := &types.Segment{
		ID:        uuid.NewString(),
		SpeakerID: seg.SpeakerID,
		Words:     append([]types.Word(nil), tail...),
		Start:     tail[0].Start,
		End:       seg.End,
		Text:      joinWords(tail),
		Tags:      append([]string(nil), seg.Tags...),
	}

	seg.Words = append([]types.Word(nil), head...)
	seg.End = head[len(head)-1].End
	seg.Text = joinWords(head)
	seg.Confirmed = false
	seg.Rev++

	s.segments = append(s.segments[:idx+1], append([]*types.Segment{next}, s.segments[idx+1:]...)...)
	return next, nil
}

// MergeWithNext merges a segment with the one following it in transcript
// order. The first segment survives; the second is removed.
func (s *Session) MergeWithNext(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx == -1 {
		return fmt.Errorf("session: unknown segment %q", id)
	}
	if idx == len(s.segments)-1 {
		return fmt.Errorf("session: segment %q has no successor to merge with", id)
	}

	seg, next := s.segments[idx], s.segments[idx+1]
	seg.Words = append(seg.Words, next.Words...)
	seg.End = next.End
	seg.Text = strings.TrimSpace(seg.Text + " " + next.Text)
	seg.Confirmed = false
	seg.Rev++

	s.segments = append(s.segments[:idx+1], s.segments[idx+2:]...)
	return nil
}

// SetSpeaker reassigns a segment to another speaker.
func (s *Session) SetSpeaker(id, speakerID string) error {
	return s.mutate(id, func(seg *types.Segment) {
		seg.SpeakerID = speakerID
	})
}

// ToggleBookmark flips a segment's bookmark.
func (s *Session) ToggleBookmark(id string) error {
	return s.mutate(id, func(seg *types.Segment) {
		seg.Bookmarked = !seg.Bookmarked
	})
}

// SetConfirmed marks a segment as reviewed. Confirmed segments are excluded
// from both match engines.
func (s *Session) SetConfirmed(id string, confirmed bool) error {
	return s.mutate(id, func(seg *types.Segment) {
		seg.Confirmed = confirmed
	})
}

// SetTags replaces a segment's tag ids.
func (s *Session) SetTags(id string, tagIDs []string) error {
	return s.mutate(id, func(seg *types.Segment) {
		seg.Tags = append([]string(nil), tagIDs...)
	})
}

// DeleteSegment removes a segment from the transcript.
func (s *Session) DeleteSegment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx == -1 {
		return fmt.Errorf("session: unknown segment %q", id)
	}
	seg := s.segments[idx]
	s.segments = append(s.segments[:idx], s.segments[idx+1:]...)
	// Removing scored words changes the confidence distribution, so a
	// derived low-confidence threshold must not be served from cache.
	for _, w := range seg.Words {
		if w.Score != types.NoScore {
			s.scoresVersion++
			break
		}
	}
	return nil
}

// Segments returns the current segment slice. Callers must treat it as
// read-only.
func (s *Session) Segments() []*types.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments
}

// ScoresVersion returns the confidence-score version counter.
func (s *Session) ScoresVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoresVersion
}

func (s *Session) mutate(id string, fn func(*types.Segment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg := s.findLocked(id)
	if seg == nil {
		return fmt.Errorf("session: unknown segment %q", id)
	}
	fn(seg)
	seg.Rev++
	return nil
}

func (s *Session) findLocked(id string) *types.Segment {
	if idx := s.indexLocked(id); idx != -1 {
		return s.segments[idx]
	}
	return nil
}

func (s *Session) indexLocked(id string) int {
	for i, seg := range s.segments {
		if seg.ID == id {
			return i
		}
	}
	return -1
}

// retokenize rebuilds a segment's words from edited text. Timings are spread
// evenly across the segment and confidence is cleared, since the original
// per-word values no longer apply.
func retokenize(text string, start, end float64) []types.Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	span := (end - start) / float64(len(fields))
	words := make([]types.Word, len(fields))
	for i, f := range fields {
		words[i] = types.Word{
			Text:  f,
			Start: start + float64(i)*span,
			End:   start + float64(i+1)*span,
			Score: types.NoScore,
		}
	}
	return words
}

func joinWords(words []types.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// SortSegments orders segments by start time, breaking ties by id so the
// order is stable across reloads.
func SortSegments(segments []*types.Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Start != segments[j].Start {
			return segments[i].Start < segments[j].Start
		}
		return segments[i].ID < segments[j].ID
	})
}
