package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/session"
	"github.com/fabelwerk/redakt/internal/spellcheck"
	"github.com/fabelwerk/redakt/internal/store"
	"github.com/fabelwerk/redakt/pkg/types"
)

// SessionInfo holds metadata about an open editing session.
type SessionInfo struct {
	// TranscriptID is the stored transcript this session edits.
	TranscriptID string

	// Name is the transcript's display name.
	Name string

	// OpenedAt is when the session was opened.
	OpenedAt time.Time
}

// Manager owns the lifecycle of editing sessions. One session exists per
// transcript; concurrent opens of the same transcript share it. All exported
// methods are safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	open map[string]*managed

	// Dependencies injected at construction.
	store   store.Store
	dictDir string
	opts    session.Options
	metrics *observe.Metrics

	// entries is the shared default glossary, used for transcripts that
	// carry no glossary of their own. Replaced wholesale on hot reload.
	entries []types.LexiconEntry
}

type managed struct {
	sess *session.Session
	info SessionInfo
	refs int
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Store store.Store

	// DictDir is where built-in spellcheck dictionaries live. Passed to
	// [spellcheck.LoadCheckers] when a client reconfigures spellcheck.
	DictDir string

	// SessionOptions seed every new session.
	SessionOptions session.Options

	// DefaultEntries is the shared glossary applied to transcripts that
	// carry none of their own.
	DefaultEntries []types.LexiconEntry
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		open:    make(map[string]*managed),
		store:   cfg.Store,
		dictDir: cfg.DictDir,
		opts:    cfg.SessionOptions,
		metrics: observe.DefaultMetrics(),
		entries: cfg.DefaultEntries,
	}
}

// Open loads the transcript from the store and returns an editing session
// over it, creating one on first open. The initial match pass runs before
// Open returns so the first state snapshot is complete.
func (m *Manager) Open(ctx context.Context, transcriptID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mg, ok := m.open[transcriptID]; ok {
		mg.refs++
		return mg.sess, nil
	}

	tr, err := m.store.Get(ctx, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("server: load transcript %q: %w", transcriptID, err)
	}
	if tr == nil {
		return nil, fmt.Errorf("server: transcript %q not found", transcriptID)
	}

	entries := tr.Entries
	if len(entries) == 0 {
		entries = m.entries
	}
	sess := session.New(tr.ID, tr.Segments, tr.Speakers, tr.Tags, entries, m.opts)
	if err := sess.Recompute(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("server: initial match pass for %q: %w", transcriptID, err)
	}

	m.open[transcriptID] = &managed{
		sess: sess,
		info: SessionInfo{
			TranscriptID: tr.ID,
			Name:         tr.Name,
			OpenedAt:     time.Now().UTC(),
		},
		refs: 1,
	}
	m.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("session opened",
		"transcript_id", tr.ID,
		"name", tr.Name,
		"segments", len(tr.Segments),
	)
	return sess, nil
}

// Get returns the open session for transcriptID, or nil.
func (m *Manager) Get(transcriptID string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mg, ok := m.open[transcriptID]; ok {
		return mg.sess
	}
	return nil
}

// Info returns metadata for every open session, in no particular order.
func (m *Manager) Info() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]SessionInfo, 0, len(m.open))
	for _, mg := range m.open {
		infos = append(infos, mg.info)
	}
	return infos
}

// Save writes the session's current segments back to the store.
func (m *Manager) Save(ctx context.Context, transcriptID string) error {
	m.mu.Lock()
	mg, ok := m.open[transcriptID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("server: no open session for transcript %q", transcriptID)
	}

	tr, err := m.store.Get(ctx, transcriptID)
	if err != nil {
		return fmt.Errorf("server: load transcript %q for save: %w", transcriptID, err)
	}
	if tr == nil {
		return fmt.Errorf("server: transcript %q vanished from store", transcriptID)
	}

	tr.Segments = mg.sess.Segments()
	if err := m.store.Update(ctx, tr); err != nil {
		return fmt.Errorf("server: save transcript %q: %w", transcriptID, err)
	}

	slog.Info("session saved", "transcript_id", transcriptID, "segments", len(tr.Segments))
	return nil
}

// Release drops one reference to the session. The session closes when the
// last reference is released.
func (m *Manager) Release(ctx context.Context, transcriptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mg, ok := m.open[transcriptID]
	if !ok {
		return
	}
	mg.refs--
	if mg.refs > 0 {
		return
	}

	mg.sess.Close()
	delete(m.open, transcriptID)
	m.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("session closed", "transcript_id", transcriptID)
}

// CloseAll closes every open session regardless of reference counts.
// Used during shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mg := range m.open {
		mg.sess.Close()
		delete(m.open, id)
		m.metrics.ActiveSessions.Add(ctx, -1)
		slog.Info("session closed", "transcript_id", id)
	}
}

// SetGlossary replaces the shared default glossary and pushes it to every
// open session. Called by the glossary file watcher on reload.
func (m *Manager) SetGlossary(ctx context.Context, entries []types.LexiconEntry) {
	m.mu.Lock()
	m.entries = entries
	sessions := make([]*session.Session, 0, len(m.open))
	for _, mg := range m.open {
		sessions = append(sessions, mg.sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.SetEntries(entries)
		if err := sess.Recompute(ctx); err != nil {
			slog.Warn("glossary reload: recompute failed", "transcript_id", sess.ID, "err", err)
		}
	}
}

// ReloadCheckers resolves spellcheck checkers for cfg and applies them to
// the open session for transcriptID.
func (m *Manager) ReloadCheckers(transcriptID string, cfg spellcheck.Config) error {
	sess := m.Get(transcriptID)
	if sess == nil {
		return fmt.Errorf("server: no open session for transcript %q", transcriptID)
	}
	sess.SetSpellcheckConfig(cfg, spellcheck.LoadCheckers(m.dictDir, cfg))
	return nil
}
