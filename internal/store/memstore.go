package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory [Store]. State is lost on restart; it backs tests
// and local single-user use when no Postgres DSN is configured.
type MemStore struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{transcripts: make(map[string]*Transcript)}
}

func (s *MemStore) Create(_ context.Context, tr *Transcript) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transcripts[tr.ID]; exists {
		return fmt.Errorf("store: transcript with id %q already exists", tr.ID)
	}
	now := time.Now()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	clone, err := cloneTranscript(tr)
	if err != nil {
		return err
	}
	s.transcripts[tr.ID] = clone
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.transcripts[id]
	if !ok {
		return nil, nil
	}
	return cloneTranscript(tr)
}

func (s *MemStore) Update(_ context.Context, tr *Transcript) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transcripts[tr.ID]
	if !ok {
		return fmt.Errorf("store: transcript with id %q not found", tr.ID)
	}
	tr.CreatedAt = existing.CreatedAt
	tr.UpdatedAt = time.Now()
	clone, err := cloneTranscript(tr)
	if err != nil {
		return err
	}
	s.transcripts[tr.ID] = clone
	return nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, id)
	return nil
}

func (s *MemStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.transcripts))
	for _, tr := range s.transcripts {
		out = append(out, Summary{
			ID:        tr.ID,
			Name:      tr.Name,
			Segments:  len(tr.Segments),
			UpdatedAt: tr.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// cloneTranscript deep-copies via JSON so callers never share segment
// pointers with the store's internal state.
func cloneTranscript(tr *Transcript) (*Transcript, error) {
	data, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("store: clone transcript %q: %w", tr.ID, err)
	}
	var out Transcript
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: clone transcript %q: %w", tr.ID, err)
	}
	out.CreatedAt = tr.CreatedAt
	out.UpdatedAt = tr.UpdatedAt
	return &out, nil
}
