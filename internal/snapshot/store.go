// Package snapshot persists per-entity "last persisted" schema snapshots in
// a local SQLite database, so diffs survive process restarts. The store is
// written through by the store coordinator only after a successful remote
// round-trip.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tessera/tessera/pkg/types"
)

// Store is a SQLite-backed snapshot cache.
type Store struct {
	db *sql.DB
}

// record is the serialized snapshot payload. Payloads are snappy-compressed
// in the database.
type record struct {
	ETag       string            `json:"etag,omitempty"`
	Attributes types.Attributes  `json:"attributes"`
	Columns    []*types.Column   `json:"columns"`
}

// NewStore opens (creating if needed) the snapshot database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: failed to set journal mode: %w", err)
	}

	createSQL := `
		CREATE TABLE IF NOT EXISTS snapshots (
			entity_id  TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			payload    BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		) WITHOUT ROWID
	`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: failed to create snapshots table: %w", err)
	}

	return &Store{db: db}, nil
}

// Save stores the snapshot for an entity, replacing any previous one.
func (s *Store) Save(ctx context.Context, entityID string, kind types.EntityKind, snap *types.Snapshot) error {
	rec := record{
		ETag:       snap.ETag,
		Attributes: snap.Attributes,
		Columns:    snap.Columns.Columns(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: failed to marshal snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (entity_id, kind, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET kind=excluded.kind, payload=excluded.payload, updated_at=excluded.updated_at`,
		entityID, string(kind), compressed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("snapshot: failed to save snapshot for %s: %w", entityID, err)
	}
	return nil
}

// Load returns the stored snapshot for an entity, or nil when none exists.
func (s *Store) Load(ctx context.Context, entityID string) (*types.Snapshot, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM snapshots WHERE entity_id = ?", entityID,
	).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to load snapshot for %s: %w", entityID, err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to decompress snapshot for %s: %w", entityID, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("snapshot: failed to unmarshal snapshot for %s: %w", entityID, err)
	}

	cols, err := types.NewColumnSet(rec.Columns...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: corrupt column set for %s: %w", entityID, err)
	}
	return &types.Snapshot{ETag: rec.ETag, Attributes: rec.Attributes, Columns: cols}, nil
}

// Delete removes the stored snapshot for an entity.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE entity_id = ?", entityID); err != nil {
		return fmt.Errorf("snapshot: failed to delete snapshot for %s: %w", entityID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
