package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the transcripts table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    segments   JSONB NOT NULL DEFAULT '[]',
    speakers   JSONB NOT NULL DEFAULT '[]',
    tags       JSONB NOT NULL DEFAULT '[]',
    entries    JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_name ON transcripts(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Segment,
// speaker, tag and glossary payloads are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// transcripts table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create inserts a new transcript. It validates the transcript and returns
// an error if one with the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, tr *Transcript) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	segJSON, spkJSON, tagJSON, entJSON, err := marshalPayloads(tr)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO transcripts (id, name, segments, speakers, tags, entries)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		tr.ID, tr.Name, segJSON, spkJSON, tagJSON, entJSON,
	).Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: transcript with id %q already exists", tr.ID)
		}
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Get retrieves a transcript by ID. It returns (nil, nil) if no transcript
// with the given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Transcript, error) {
	const query = `
		SELECT id, name, segments, speakers, tags, entries, created_at, updated_at
		FROM transcripts
		WHERE id = $1`

	var tr Transcript
	var segJSON, spkJSON, tagJSON, entJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&tr.ID, &tr.Name, &segJSON, &spkJSON, &tagJSON, &entJSON,
		&tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}

	if err := unmarshalPayloads(&tr, segJSON, spkJSON, tagJSON, entJSON); err != nil {
		return nil, err
	}
	return &tr, nil
}

// Update replaces an existing transcript. It validates the transcript and
// returns an error if it is not found.
func (s *PostgresStore) Update(ctx context.Context, tr *Transcript) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	segJSON, spkJSON, tagJSON, entJSON, err := marshalPayloads(tr)
	if err != nil {
		return err
	}

	const query = `
		UPDATE transcripts SET
			name = $2, segments = $3, speakers = $4, tags = $5, entries = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		tr.ID, tr.Name, segJSON, spkJSON, tagJSON, entJSON,
	).Scan(&tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: transcript with id %q not found", tr.ID)
		}
		return fmt.Errorf("store: update: %w", err)
	}
	return nil
}

// Delete removes a transcript by ID. Deleting a non-existent transcript is
// not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM transcripts WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	return nil
}

// List returns summaries of all stored transcripts, ordered by name.
func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	const query = `
		SELECT id, name, jsonb_array_length(segments), updated_at
		FROM transcripts
		ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Segments, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

func marshalPayloads(tr *Transcript) (seg, spk, tag, ent []byte, err error) {
	if seg, err = json.Marshal(emptySlice(tr.Segments)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal segments: %w", err)
	}
	if spk, err = json.Marshal(emptySlice(tr.Speakers)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal speakers: %w", err)
	}
	if tag, err = json.Marshal(emptySlice(tr.Tags)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal tags: %w", err)
	}
	if ent, err = json.Marshal(emptySlice(tr.Entries)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("store: marshal entries: %w", err)
	}
	return seg, spk, tag, ent, nil
}

func unmarshalPayloads(tr *Transcript, seg, spk, tag, ent []byte) error {
	if err := json.Unmarshal(seg, &tr.Segments); err != nil {
		return fmt.Errorf("store: unmarshal segments: %w", err)
	}
	if err := json.Unmarshal(spk, &tr.Speakers); err != nil {
		return fmt.Errorf("store: unmarshal speakers: %w", err)
	}
	if err := json.Unmarshal(tag, &tr.Tags); err != nil {
		return fmt.Errorf("store: unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(ent, &tr.Entries); err != nil {
		return fmt.Errorf("store: unmarshal entries: %w", err)
	}
	return nil
}

// emptySlice maps nil to an empty slice so JSONB columns store '[]' instead
// of 'null'.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
