// Package playback keeps selection and scroll position in sync with the
// playhead. It is a reactive state machine: the host calls [Synchronizer.Tick]
// on every state change and the synchronizer decides whether to select,
// scroll, seek, or stop — never while a transcript edit is in progress.
package playback

import (
	"math"
	"sort"
	"time"

	"github.com/fabelwerk/redakt/pkg/types"
)

const (
	// defaultScrollCooldown is the window within which the same segment is
	// not scrolled to again, to avoid jitter from rapid re-renders.
	defaultScrollCooldown = 300 * time.Millisecond

	// defaultVisibilityInterval throttles visibility checks during steady
	// playback of the same segment (4 Hz). Seeks, resumes, and target
	// changes bypass the throttle.
	defaultVisibilityInterval = 250 * time.Millisecond

	// defaultSeekJumpThreshold is the time delta treated as a manual jump
	// rather than playback progress.
	defaultSeekJumpThreshold = 1.5

	// restrictedSkipAction tags seeks issued by restricted playback.
	restrictedSkipAction = "restricted-skip"
)

// Scroller brings a segment into view. Jump scrolls recenter immediately;
// non-jump scrolls may animate.
type Scroller interface {
	ScrollTo(segmentID string, jump bool)
}

// Viewport answers whether a segment's element is still mostly visible. The
// host widens its threshold padding when dynamic-height siblings are present.
type Viewport interface {
	Visible(segmentID string) bool
}

// Deps are the collaborators a [Synchronizer] drives. Select, Seek and
// SetPlaying are imperative callbacks into the host; IsEditing is polled
// before any autonomous action. Now defaults to [time.Now].
type Deps struct {
	Scroller   Scroller
	Viewport   Viewport
	Select     func(segmentID string)
	Seek       func(types.SeekRequest)
	SetPlaying func(bool)
	IsEditing  func() bool
	Now        func() time.Time
}

// Options tune the synchronizer's timing. Zero values use the defaults.
type Options struct {
	ScrollCooldown     time.Duration
	VisibilityInterval time.Duration
	SeekJumpThreshold  float64
}

// Input is the state observed at one tick.
type Input struct {
	// Segments is the full time-ordered transcript; Filtered is the subset
	// currently passing the filter pipeline.
	Segments []*types.Segment
	Filtered []*types.Segment

	SelectedID string
	Time       float64
	IsPlaying  bool

	// RestrictToFiltered skips playback over segments outside the filtered
	// set.
	RestrictToFiltered bool
}

// Synchronizer tracks the playhead across ticks. Not safe for concurrent
// use; the session serializes ticks.
type Synchronizer struct {
	deps Deps
	opts Options

	lastTime       float64
	lastPlaying    bool
	lastTarget     string
	lastScrollID   string
	lastScrollAt   time.Time
	lastVisCheckAt time.Time
	ticked         bool
}

// NewSynchronizer returns a [Synchronizer] driving deps.
func NewSynchronizer(deps Deps, opts Options) *Synchronizer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsEditing == nil {
		deps.IsEditing = func() bool { return false }
	}
	if opts.ScrollCooldown <= 0 {
		opts.ScrollCooldown = defaultScrollCooldown
	}
	if opts.VisibilityInterval <= 0 {
		opts.VisibilityInterval = defaultVisibilityInterval
	}
	if opts.SeekJumpThreshold <= 0 {
		opts.SeekJumpThreshold = defaultSeekJumpThreshold
	}
	return &Synchronizer{deps: deps, opts: opts}
}

// Tick observes the current state and issues whatever selection, scroll, or
// seek actions it implies. While the host reports an edit in progress the
// tick only records state, so focus is never yanked away mid-edit.
func (s *Synchronizer) Tick(in Input) {
	seekJump := s.ticked && math.Abs(in.Time-s.lastTime) > s.opts.SeekJumpThreshold
	resumed := in.IsPlaying && !s.lastPlaying

	defer func() {
		s.lastTime = in.Time
		s.lastPlaying = in.IsPlaying
		s.ticked = true
	}()

	if s.deps.IsEditing() {
		return
	}

	active := ActiveSegment(in.Segments, in.Time)
	activeFiltered := active != nil && containsSegment(in.Filtered, active.ID)

	if in.RestrictToFiltered && in.IsPlaying && active != nil && !activeFiltered {
		s.restrictedSkip(in)
		return
	}

	if active != nil && activeFiltered && active.ID != in.SelectedID && s.deps.Select != nil {
		s.deps.Select(active.ID)
	}

	if active == nil || !activeFiltered {
		s.lastTarget = ""
		return
	}
	s.scroll(active.ID, seekJump, resumed)
}

// restrictedSkip seeks to the next filtered segment after the playhead, or
// stops playback when none remains. The seek is tagged as a system action so
// telemetry can tell it apart from user seeks.
func (s *Synchronizer) restrictedSkip(in Input) {
	for _, seg := range in.Filtered {
		if seg.Start <= in.Time {
			continue
		}
		if s.deps.Select != nil {
			s.deps.Select(seg.ID)
		}
		if s.deps.Seek != nil {
			s.deps.Seek(types.SeekRequest{
				Time:   seg.Start,
				Source: types.SeekSourceSystem,
				Action: restrictedSkipAction,
			})
		}
		return
	}
	if s.deps.SetPlaying != nil {
		s.deps.SetPlaying(false)
	}
}

// scroll decides whether the target segment needs to be brought into view.
// A seek jump, a resume, or a target change forces the scroll; steady
// playback only scrolls when the element has drifted out of the viewport,
// checked at a throttled rate.
func (s *Synchronizer) scroll(targetID string, seekJump, resumed bool) {
	targetChanged := targetID != s.lastTarget
	s.lastTarget = targetID
	forced := seekJump || resumed || targetChanged

	now := s.deps.Now()
	if !forced {
		if now.Sub(s.lastVisCheckAt) < s.opts.VisibilityInterval {
			return
		}
		s.lastVisCheckAt = now
		if s.deps.Viewport == nil || s.deps.Viewport.Visible(targetID) {
			return
		}
	} else {
		s.lastVisCheckAt = now
	}

	if targetID == s.lastScrollID && now.Sub(s.lastScrollAt) < s.opts.ScrollCooldown {
		return
	}
	if s.deps.Scroller != nil {
		s.deps.Scroller.ScrollTo(targetID, seekJump)
	}
	s.lastScrollID = targetID
	s.lastScrollAt = now
}

// SelectNext moves the selection forward within the filtered list. Moving
// past the end is a no-op; with nothing selected it jumps to the first
// filtered segment.
func (s *Synchronizer) SelectNext(filtered []*types.Segment, selectedID string) {
	s.step(filtered, selectedID, +1)
}

// SelectPrevious moves the selection backward within the filtered list.
// Moving past the start is a no-op; with nothing selected it jumps to the
// last filtered segment.
func (s *Synchronizer) SelectPrevious(filtered []*types.Segment, selectedID string) {
	s.step(filtered, selectedID, -1)
}

func (s *Synchronizer) step(filtered []*types.Segment, selectedID string, dir int) {
	if len(filtered) == 0 || s.deps.Select == nil || s.deps.IsEditing() {
		return
	}

	idx := -1
	for i, seg := range filtered {
		if seg.ID == selectedID {
			idx = i
			break
		}
	}
	if idx == -1 {
		if dir > 0 {
			s.deps.Select(filtered[0].ID)
		} else {
			s.deps.Select(filtered[len(filtered)-1].ID)
		}
		return
	}

	next := idx + dir
	if next < 0 || next >= len(filtered) {
		return
	}
	s.deps.Select(filtered[next].ID)
}

// ActiveSegment returns the segment whose time bounds contain t, or nil.
// Segments must be sorted by start time.
func ActiveSegment(segments []*types.Segment, t float64) *types.Segment {
	if len(segments) == 0 {
		return nil
	}
	// First segment starting after t; the candidate is its predecessor.
	i := sort.Search(len(segments), func(i int) bool {
		return segments[i].Start > t
	})
	if i == 0 {
		return nil
	}
	if seg := segments[i-1]; seg.Contains(t) {
		return seg
	}
	return nil
}

func containsSegment(segments []*types.Segment, id string) bool {
	for _, seg := range segments {
		if seg.ID == id {
			return true
		}
	}
	return false
}
