package spellcheck_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/pkg/types"
)

// spyChecker wraps a Dictionary and counts Check invocations.
type spyChecker struct {
	dict   *spellcheck.Dictionary
	checks atomic.Int64
}

func (s *spyChecker) Check(word string) bool {
	s.checks.Add(1)
	return s.dict.Check(word)
}

func (s *spyChecker) Suggest(word string, max int) []string {
	return s.dict.Suggest(word, max)
}

func seg(id string, rev uint64, words ...string) *types.Segment {
	s := &types.Segment{ID: id, Rev: rev}
	for i, w := range words {
		s.Words = append(s.Words, types.Word{Text: w, Start: float64(i), End: float64(i + 1), Score: 0.9})
	}
	return s
}

func runAndWait(t *testing.T, e *spellcheck.Engine, in spellcheck.RunInput) spellcheck.Result {
	t.Helper()
	run := e.Run(context.Background(), in)
	<-run.Done()
	return e.Snapshot()
}

func enabledConfig() spellcheck.Config {
	return spellcheck.Config{Enabled: true, Languages: []string{"de"}}
}

func TestEngine_FlagsUnknownWords(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort", "Haus", "Probe")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Wort", "Hasu")},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	if _, ok := res.BySegment["s1"][0]; ok {
		t.Error("known word must not be flagged")
	}
	match, ok := res.BySegment["s1"][1]
	if !ok {
		t.Fatal("unknown word must be flagged")
	}
	if len(match.Suggestions) == 0 || match.Suggestions[0] != "Haus" {
		t.Errorf("Suggestions=%v, want [Haus ...]", match.Suggestions)
	}
	if !res.Complete {
		t.Error("run should report Complete")
	}
}

func TestEngine_IdempotentRunsSkipChecker(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	segments := []*types.Segment{seg("s1", 1, "Wort", "Wrd")}
	in := spellcheck.RunInput{Segments: segments, Config: enabledConfig(), Checkers: []spellcheck.Checker{spy}}

	first := runAndWait(t, e, in)
	callsAfterFirst := spy.checks.Load()
	if callsAfterFirst == 0 {
		t.Fatal("first run should invoke the checker")
	}

	second := runAndWait(t, e, in)
	if got := spy.checks.Load(); got != callsAfterFirst {
		t.Errorf("checker calls after identical rerun = %d, want %d (cache hit)", got, callsAfterFirst)
	}
	if len(second.BySegment["s1"]) != len(first.BySegment["s1"]) {
		t.Error("rerun changed the match map")
	}
}

func TestEngine_RevBumpForcesRecheck(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	s := seg("s1", 1, "Wrd")
	in := spellcheck.RunInput{Segments: []*types.Segment{s}, Config: enabledConfig(), Checkers: []spellcheck.Checker{spy}}

	runAndWait(t, e, in)
	before := spy.checks.Load()

	s.Words[0].Text = "Wort"
	s.Rev++
	res := runAndWait(t, e, in)

	if got := spy.checks.Load(); got <= before {
		t.Error("revision bump must re-invoke the checker")
	}
	if len(res.BySegment["s1"]) != 0 {
		t.Errorf("corrected word still flagged: %v", res.BySegment["s1"])
	}
}

func TestEngine_IgnoreSupersetReusesWithoutChecker(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Word")}
	e := spellcheck.NewEngine()
	segments := []*types.Segment{seg("s1", 1, "Wrd")}
	cfg := spellcheck.Config{Enabled: true, Languages: []string{"en"}}

	res := runAndWait(t, e, spellcheck.RunInput{Segments: segments, Config: cfg, Checkers: []spellcheck.Checker{spy}})
	if _, ok := res.BySegment["s1"][0]; !ok {
		t.Fatal("expected Wrd to be flagged")
	}
	before := spy.checks.Load()

	cfg.IgnoreWords = []string{"wrd"}
	res = runAndWait(t, e, spellcheck.RunInput{Segments: segments, Config: cfg, Checkers: []spellcheck.Checker{spy}})

	if got := spy.checks.Load(); got != before {
		t.Errorf("checker calls after superset ignore = %d, want %d (refilter in place)", got, before)
	}
	if len(res.BySegment) != 0 {
		t.Errorf("ignored word still flagged: %v", res.BySegment)
	}
}

func TestEngine_SingleWordVariantOverride(t *testing.T) {
	t.Parallel()

	// "Tanzprobe" is correctly spelled per the dictionary, but it is a known
	// variant of the glossary term and must be flagged anyway.
	spy := &spyChecker{dict: spellcheck.NewDictionary("Tanzprobe")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Tanzprobe")},
		Entries:  []types.LexiconEntry{{Term: "Tanzenprobe", Variants: []string{"Tanzprobe"}}},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	match, ok := res.BySegment["s1"][0]
	if !ok {
		t.Fatal("variant word must be flagged even when correctly spelled")
	}
	if !match.IsVariant {
		t.Error("IsVariant=false, want true")
	}
	if len(match.Suggestions) != 1 || match.Suggestions[0] != "Tanzenprobe" {
		t.Errorf("Suggestions=%v, want [Tanzenprobe]", match.Suggestions)
	}
	if spy.checks.Load() != 0 {
		t.Errorf("checker called %d times for a variant word, want 0", spy.checks.Load())
	}
}

func TestEngine_MultiWordVariantSuppressesTail(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Neue", "Wortform", "danach")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Neue", "Wortform", "danach")},
		Entries:  []types.LexiconEntry{{Term: "Neuwortform", Variants: []string{"Neue Wortform"}}},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	match, ok := res.BySegment["s1"][0]
	if !ok {
		t.Fatal("first window word must carry the variant match")
	}
	if len(match.Suggestions) != 1 || match.Suggestions[0] != "Neuwortform" {
		t.Errorf("Suggestions=%v, want [Neuwortform]", match.Suggestions)
	}
	if _, ok := res.BySegment["s1"][1]; ok {
		t.Error("second window word must be suppressed from independent flagging")
	}
}

func TestEngine_TermAndFalsePositiveSuppressed(t *testing.T) {
	t.Parallel()

	// Neither the canonical term nor a false positive may yield a dictionary
	// match, even though the dictionary does not know them.
	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Eldrinax", "Eldrin")},
		Entries:  []types.LexiconEntry{{Term: "Eldrinax", FalsePositives: []string{"Eldrin"}}},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	if len(res.BySegment) != 0 {
		t.Errorf("suppressed words flagged: %v", res.BySegment)
	}
}

func TestEngine_ConfirmedSegmentsSkipped(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	confirmed := seg("s1", 1, "Xyzzy")
	confirmed.Confirmed = true

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{confirmed},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	if _, ok := res.BySegment["s1"]; ok {
		t.Error("confirmed segment must never appear in the match map")
	}
	if spy.checks.Load() != 0 {
		t.Errorf("checker called %d times for a confirmed segment, want 0", spy.checks.Load())
	}
}

func TestEngine_DisabledIsInert(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Xyzzy")},
		Config:   spellcheck.Config{Enabled: false},
		Checkers: []spellcheck.Checker{spy},
	})

	if len(res.BySegment) != 0 || !res.Complete {
		t.Errorf("disabled engine must yield an empty complete result, got %+v", res)
	}
	if spy.checks.Load() != 0 {
		t.Error("disabled engine must not call the checker")
	}
}

func TestEngine_ZeroCheckersIsInert(t *testing.T) {
	t.Parallel()

	e := spellcheck.NewEngine()
	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Xyzzy")},
		Config:   enabledConfig(),
	})

	if len(res.BySegment) != 0 {
		t.Errorf("no checkers must mean no matches, got %v", res.BySegment)
	}
}

func TestEngine_MatchLimitHaltsEarly(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()

	segments := []*types.Segment{
		seg("s1", 1, "Aaaa", "Bbbb"),
		seg("s2", 1, "Cccc", "Dddd"),
		seg("s3", 1, "Eeee", "Ffff"),
	}
	cfg := enabledConfig()
	cfg.MatchLimit = 2

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: segments,
		Config:   cfg,
		Checkers: []spellcheck.Checker{spy},
	})

	if !res.LimitReached {
		t.Error("LimitReached=false, want true")
	}
	if res.Total < 2 {
		t.Errorf("Total=%d, want at least the limit's worth of matches preserved", res.Total)
	}
	if _, ok := res.BySegment["s3"]; ok {
		t.Error("segments past the limit must not have been processed")
	}
}

func TestEngine_NewRunSupersedesOld(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	in1 := spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Aaaa")},
		Config:   spellcheck.Config{Enabled: true, Languages: []string{"de"}},
		Checkers: []spellcheck.Checker{spy},
	}
	in2 := spellcheck.RunInput{
		Segments: []*types.Segment{seg("s2", 1, "Bbbb")},
		Config:   spellcheck.Config{Enabled: true, Languages: []string{"en"}},
		Checkers: []spellcheck.Checker{spy},
	}

	run1 := e.Run(context.Background(), in1)
	run2 := e.Run(context.Background(), in2)
	<-run1.Done()
	<-run2.Done()

	res := e.Snapshot()
	if _, ok := res.BySegment["s1"]; ok {
		t.Error("superseded run committed results for s1")
	}
	if _, ok := res.BySegment["s2"]; !ok {
		t.Error("latest run's results missing")
	}
}

func TestEngine_HyphenPartFlagged(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Haupt", "Wort")}
	e := spellcheck.NewEngine()

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Haupt-Wrt")},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})

	match, ok := res.BySegment["s1"][0]
	if !ok {
		t.Fatal("misspelled hyphen part must be flagged")
	}
	if match.PartIndex != 1 {
		t.Errorf("PartIndex=%d, want 1", match.PartIndex)
	}
}

func TestDictionary_SuggestRanking(t *testing.T) {
	t.Parallel()

	d := spellcheck.NewDictionary("Probe", "Proben", "Probst", "Haus")
	got := d.Suggest("Prbe", 3)
	if len(got) == 0 || got[0] != "Probe" {
		t.Errorf("Suggest(Prbe)=%v, want Probe first", got)
	}
	for _, s := range got {
		if s == "Haus" {
			t.Error("Haus is beyond the distance cutoff and must not be suggested")
		}
	}
}

func TestLoadDictionary_SkipsCommentsAndAffixes(t *testing.T) {
	t.Parallel()

	input := "# comment\nWort/NS\n\nHaus\n"
	d, err := spellcheck.LoadDictionary(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if d.Len() != 2 {
		t.Errorf("Len=%d, want 2", d.Len())
	}
	if !d.Check("wort") {
		t.Error("affix-stripped stem should be known")
	}
}

// testMetrics returns a Metrics instance backed by a ManualReader so counter
// recordings can be inspected.
func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterSum returns the summed value of the named counter plus the
// attribute set of its last data point.
func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string) (int64, attribute.Set) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			var attrs attribute.Set
			for _, dp := range sum.DataPoints {
				total += dp.Value
				attrs = dp.Attributes
			}
			return total, attrs
		}
	}
	return 0, attribute.Set{}
}

func TestEngine_CountsCheckerLookups(t *testing.T) {
	t.Parallel()

	met, reader := testMetrics(t)
	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()

	runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Wort", "Hasu")},
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
		Metrics:  met,
	})

	total, attrs := counterSum(t, reader, "redakt.spellcheck.checker.calls")
	if total != 2 {
		t.Errorf("checker calls counter = %d, want 2", total)
	}
	if got, _ := attrs.Value(attribute.Key("dictionary")); got.AsString() != "builtin" {
		t.Errorf("dictionary attribute = %q, want builtin", got.AsString())
	}
}

func TestEngine_RecordsMatchLimitHit(t *testing.T) {
	t.Parallel()

	met, reader := testMetrics(t)
	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	cfg := enabledConfig()
	cfg.MatchLimit = 2

	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{
			seg("s1", 1, "Aaaa", "Bbbb"),
			seg("s2", 1, "Cccc", "Dddd"),
		},
		Config:   cfg,
		Checkers: []spellcheck.Checker{spy},
		Metrics:  met,
	})

	if !res.LimitReached {
		t.Fatal("LimitReached=false, want true")
	}
	total, attrs := counterSum(t, reader, "redakt.match_limit.hits")
	if total != 1 {
		t.Errorf("match limit counter = %d, want 1", total)
	}
	if got, _ := attrs.Value(attribute.Key("engine")); got.AsString() != "spellcheck" {
		t.Errorf("engine attribute = %q, want spellcheck", got.AsString())
	}
}

func TestLoadCheckers_CustomReplacesBuiltin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeWordList(t, filepath.Join(dir, "de.txt"), "Haus\nWort\n")
	customPath := filepath.Join(dir, "fach.txt")
	writeWordList(t, customPath, "Fachwort\n")

	cfg := spellcheck.Config{
		Enabled:       true,
		Languages:     []string{"de"},
		CustomEnabled: true,
		CustomDictionaries: []spellcheck.CustomDictionary{
			{ID: "fach", Name: "Fachsprache", Path: customPath},
		},
	}

	checkers := spellcheck.LoadCheckers(dir, cfg)
	if len(checkers) != 1 {
		t.Fatalf("got %d checkers, want only the custom one", len(checkers))
	}
	if !checkers[0].Check("Fachwort") {
		t.Error("custom word must be known")
	}
	if checkers[0].Check("Haus") {
		t.Error("built-in language word must be unknown while custom dictionaries are active")
	}

	cfg.CustomEnabled = false
	checkers = spellcheck.LoadCheckers(dir, cfg)
	if len(checkers) != 1 || !checkers[0].Check("Haus") {
		t.Error("built-in language dictionary must be back once custom is disabled")
	}
}

func TestLoadCheckers_CustomLoadFailureDegradesToZero(t *testing.T) {
	t.Parallel()

	cfg := spellcheck.Config{
		Enabled:       true,
		Languages:     []string{"de"},
		CustomEnabled: true,
		CustomDictionaries: []spellcheck.CustomDictionary{
			{ID: "gone", Path: filepath.Join(t.TempDir(), "missing.txt")},
		},
	}

	checkers := spellcheck.LoadCheckers(t.TempDir(), cfg)
	if len(checkers) != 0 {
		t.Fatalf("got %d checkers, want 0 — never the built-in fallback", len(checkers))
	}

	// Zero checkers leave the engine inert rather than erroring out.
	e := spellcheck.NewEngine()
	res := runAndWait(t, e, spellcheck.RunInput{
		Segments: []*types.Segment{seg("s1", 1, "Qwrtz")},
		Config:   cfg,
		Checkers: checkers,
	})
	if len(res.BySegment) != 0 {
		t.Errorf("BySegment=%v, want no matches without checkers", res.BySegment)
	}
	if !res.Complete {
		t.Error("run should report Complete")
	}
}

func TestEngine_CustomToggleInvalidatesCache(t *testing.T) {
	t.Parallel()

	spy := &spyChecker{dict: spellcheck.NewDictionary("Wort")}
	e := spellcheck.NewEngine()
	segments := []*types.Segment{seg("s1", 1, "Wort", "Wrd")}

	runAndWait(t, e, spellcheck.RunInput{
		Segments: segments,
		Config:   enabledConfig(),
		Checkers: []spellcheck.Checker{spy},
	})
	builtinCalls := spy.checks.Load()
	if builtinCalls == 0 {
		t.Fatal("first run should invoke the checker")
	}

	cfg := enabledConfig()
	cfg.CustomEnabled = true
	cfg.CustomDictionaries = []spellcheck.CustomDictionary{{ID: "fach"}}
	runAndWait(t, e, spellcheck.RunInput{
		Segments: segments,
		Config:   cfg,
		Checkers: []spellcheck.Checker{spy},
	})

	if got := spy.checks.Load(); got == builtinCalls {
		t.Error("switching to custom dictionaries must invalidate the cached result")
	}
}

func writeWordList(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
