// Package ingest converts external transcript exports into stored
// transcripts. Two source formats are supported: the verbose JSON emitted by
// whisper-style STT tools and WebVTT subtitle files.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fabelwerk/redakt/internal/store"
	"github.com/fabelwerk/redakt/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Whisper verbose JSON
// ─────────────────────────────────────────────────────────────────────────────

// whisperExport is the top-level structure of a whisper verbose_json export.
// Unknown fields are silently ignored.
type whisperExport struct {
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	// Speaker is filled by diarizing frontends (e.g. whisperX); plain
	// whisper leaves it empty.
	Speaker string        `json:"speaker"`
	Words   []whisperWord `json:"words"`
}

type whisperWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// ImportWhisperJSON imports a whisper verbose_json export as a new
// transcript named name and stores it. Word-level timestamps and
// probabilities are kept when present; segments without word entries get
// evenly spread words with no confidence score.
func ImportWhisperJSON(ctx context.Context, st store.Store, name string, r io.Reader) (*store.Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: whisper: read input: %w", err)
	}

	var export whisperExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("ingest: whisper: parse json: %w", err)
	}

	speakers := newSpeakerSet()
	var segments []*types.Segment

	for _, ws := range export.Segments {
		text := strings.TrimSpace(ws.Text)
		if text == "" {
			continue
		}

		seg := &types.Segment{
			ID:        uuid.NewString(),
			SpeakerID: speakers.id(ws.Speaker),
			Start:     ws.Start,
			End:       ws.End,
			Text:      text,
		}

		if len(ws.Words) > 0 {
			for _, w := range ws.Words {
				word := strings.TrimSpace(w.Word)
				if word == "" {
					continue
				}
				seg.Words = append(seg.Words, types.Word{
					Text:  word,
					Start: w.Start,
					End:   w.End,
					Score: w.Probability,
				})
			}
		}
		if len(seg.Words) == 0 {
			seg.Words = spreadWords(text, ws.Start, ws.End)
		}

		segments = append(segments, seg)
	}

	return create(ctx, st, name, segments, speakers.list())
}

// ─────────────────────────────────────────────────────────────────────────────
// WebVTT
// ─────────────────────────────────────────────────────────────────────────────

// ImportWebVTT imports a WebVTT subtitle file as a new transcript named
// name and stores it. Cue voice spans (`<v Speaker>`) become speakers;
// subtitles carry no word timing, so words are spread evenly across each
// cue with no confidence score.
func ImportWebVTT(ctx context.Context, st store.Store, name string, r io.Reader) (*store.Transcript, error) {
	sc := bufio.NewScanner(r)

	if !sc.Scan() || !strings.HasPrefix(strings.TrimSpace(sc.Text()), "WEBVTT") {
		return nil, fmt.Errorf("ingest: webvtt: missing WEBVTT header")
	}

	speakers := newSpeakerSet()
	var segments []*types.Segment

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.Contains(line, "-->") {
			continue
		}

		start, end, err := parseCueTiming(line)
		if err != nil {
			return nil, fmt.Errorf("ingest: webvtt: cue %d: %w", len(segments)+1, err)
		}

		var payload []string
		for sc.Scan() {
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				break
			}
			payload = append(payload, text)
		}

		speaker, text := splitVoiceTag(strings.Join(payload, " "))
		if text == "" {
			continue
		}

		segments = append(segments, &types.Segment{
			ID:        uuid.NewString(),
			SpeakerID: speakers.id(speaker),
			Start:     start,
			End:       end,
			Text:      text,
			Words:     spreadWords(text, start, end),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingest: webvtt: read input: %w", err)
	}

	return create(ctx, st, name, segments, speakers.list())
}

// parseCueTiming parses a "start --> end" cue timing line. Cue settings
// after the end timestamp are ignored.
func parseCueTiming(line string) (start, end float64, err error) {
	parts := strings.SplitN(line, "-->", 2)
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp")
	}
	end, err = parseTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts (%s)", line)
	}
	return start, end, nil
}

// parseTimestamp parses "hh:mm:ss.mmm" or "mm:ss.mmm" into seconds.
func parseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}

	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("malformed timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// splitVoiceTag extracts the speaker name from a `<v Name>` span and strips
// all remaining markup from the cue text.
func splitVoiceTag(s string) (speaker, text string) {
	if strings.HasPrefix(s, "<v ") {
		if end := strings.IndexByte(s, '>'); end > 0 {
			speaker = strings.TrimSpace(s[3:end])
			s = s[end+1:]
		}
	}
	return speaker, stripTags(s)
}

// stripTags removes markup tags from s using a simple state machine. It is
// intentionally minimal, sufficient for the styling and voice spans WebVTT
// allows inside cue text.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────────────────────────────────────

// speakerSet assigns stable IDs to speaker names in order of appearance.
type speakerSet struct {
	byName map[string]string
	order  []types.Speaker
}

func newSpeakerSet() *speakerSet {
	return &speakerSet{byName: make(map[string]string)}
}

func (s *speakerSet) id(name string) string {
	if name == "" {
		return ""
	}
	if id, ok := s.byName[name]; ok {
		return id
	}
	id := fmt.Sprintf("spk-%d", len(s.order)+1)
	s.byName[name] = id
	s.order = append(s.order, types.Speaker{ID: id, Name: name})
	return id
}

func (s *speakerSet) list() []types.Speaker {
	return s.order
}

// spreadWords tokenizes text and spreads the words evenly across the
// [start, end] span with no confidence score.
func spreadWords(text string, start, end float64) []types.Word {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	span := (end - start) / float64(len(tokens))
	words := make([]types.Word, len(tokens))
	for i, tok := range tokens {
		words[i] = types.Word{
			Text:  tok,
			Start: start + float64(i)*span,
			End:   start + float64(i+1)*span,
			Score: types.NoScore,
		}
	}
	return words
}

// create assembles and stores the imported transcript.
func create(ctx context.Context, st store.Store, name string, segments []*types.Segment, speakers []types.Speaker) (*store.Transcript, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("ingest: %q contains no usable segments", name)
	}

	tr := &store.Transcript{
		ID:       uuid.NewString(),
		Name:     name,
		Segments: segments,
		Speakers: speakers,
	}
	if err := tr.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: validate %q: %w", name, err)
	}
	if err := st.Create(ctx, tr); err != nil {
		return nil, fmt.Errorf("ingest: store %q: %w", name, err)
	}
	return tr, nil
}
