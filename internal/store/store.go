// Package store persists transcripts between editing sessions. The Postgres
// implementation is the production backend; the in-memory implementation
// backs tests and single-shot local use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fabelwerk/redakt/pkg/types"
)

// Transcript is one stored transcript with its editing context.
type Transcript struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Segments []*types.Segment     `json:"segments"`
	Speakers []types.Speaker      `json:"speakers"`
	Tags     []types.Tag          `json:"tags"`
	Entries  []types.LexiconEntry `json:"entries"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the transcript for the minimum persistable shape.
func (t *Transcript) Validate() error {
	if t.ID == "" {
		return errors.New("store: transcript id must not be empty")
	}
	if t.Name == "" {
		return errors.New("store: transcript name must not be empty")
	}
	seen := make(map[string]struct{}, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.ID == "" {
			return errors.New("store: segment id must not be empty")
		}
		if _, dup := seen[seg.ID]; dup {
			return errors.New("store: duplicate segment id " + seg.ID)
		}
		seen[seg.ID] = struct{}{}
	}
	return nil
}

// Store provides CRUD operations for transcripts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new transcript. The transcript is validated before
	// insertion. Returns an error if one with the same ID already exists.
	Create(ctx context.Context, tr *Transcript) error

	// Get retrieves a transcript by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Transcript, error)

	// Update replaces an existing transcript. The transcript is validated
	// before the update. Returns an error if it is not found.
	Update(ctx context.Context, tr *Transcript) error

	// Delete removes a transcript by ID. Deleting a non-existent transcript
	// is not an error.
	Delete(ctx context.Context, id string) error

	// List returns summaries of all stored transcripts, ordered by name.
	List(ctx context.Context) ([]Summary, error)
}

// Summary is the listing view of a transcript, without segment payloads.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Segments  int       `json:"segments"`
	UpdatedAt time.Time `json:"updatedAt"`
}
