package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fabelwerk/redakt/pkg/types"
)

// GlossaryWatcher monitors a glossary file for changes and calls a callback
// when the file is modified, so glossary edits reach open sessions without a
// restart. It uses polling (not fsnotify) to keep dependencies minimal.
type GlossaryWatcher struct {
	path     string
	interval time.Duration
	onChange func(old, new []types.LexiconEntry)

	mu       sync.Mutex
	current  []types.LexiconEntry
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [GlossaryWatcher].
type WatcherOption func(*GlossaryWatcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *GlossaryWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewGlossaryWatcher creates a glossary file watcher. It loads the initial
// glossary immediately and starts polling in a background goroutine.
func NewGlossaryWatcher(path string, onChange func(old, new []types.LexiconEntry), opts ...WatcherOption) (*GlossaryWatcher, error) {
	w := &GlossaryWatcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	entries, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: glossary watcher initial load: %w", err)
	}
	w.current = entries
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid glossary.
func (w *GlossaryWatcher) Current() []types.LexiconEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *GlossaryWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the glossary file
// periodically.
func (w *GlossaryWatcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the glossary file and, if it has changed and is valid, calls
// onChange and updates the current glossary.
func (w *GlossaryWatcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("glossary watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	// Mtime changed — read and hash.
	entries, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("glossary watcher: failed to load glossary", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()

	if hash == w.lastHash {
		// File was touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}

	old := w.current
	w.current = entries
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	diff := DiffGlossary(old, entries)
	slog.Info("glossary watcher: glossary reloaded",
		"path", w.path,
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed))

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, entries)
	}
}

// loadAndHash reads the glossary file, returning the parsed entries, the
// content hash, and the file's mtime.
func (w *GlossaryWatcher) loadAndHash() ([]types.LexiconEntry, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	entries, err := LoadGlossaryFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return entries, sha256.Sum256(data), info.ModTime(), nil
}
