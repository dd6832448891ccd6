// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps an append-only local record of every remote entity
// this tool created. The linker has no transaction primitive on the remote
// side, so partial creations can leave orphaned role agents; the ledger is
// what makes the compensating delete possible. Orchestration decisions never
// read it.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Entity kinds recorded in the ledger.
const (
	KindRole     = "role"
	KindManager  = "manager"
	KindAgent    = "agent"
	KindWorkflow = "workflow"
)

// Entry is one created remote entity.
type Entry struct {
	Kind        string
	BaseName    string
	StampedName string
	RemoteID    string
	Folder      string
	CreatedAt   time.Time
}

// Filter narrows List results.
type Filter struct {
	Kind  string
	Limit int
}

// Store persists ledger entries in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates a SQLite-backed ledger at path and ensures schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := ensureLedgerSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a single entry.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO created_entities (
			kind, base_name, stamped_name, remote_id, folder, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.Kind,
		entry.BaseName,
		entry.StampedName,
		entry.RemoteID,
		entry.Folder,
		createdAt,
	)
	return err
}

// List returns entries matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT kind, base_name, stamped_name, remote_id, folder, created_at
		FROM created_entities
	`
	var args []any
	if filter.Kind != "" {
		query += " WHERE kind = ?"
		args = append(args, filter.Kind)
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			created sql.NullTime
		)
		if err := rows.Scan(
			&entry.Kind,
			&entry.BaseName,
			&entry.StampedName,
			&entry.RemoteID,
			&entry.Folder,
			&created,
		); err != nil {
			return nil, err
		}
		if created.Valid {
			entry.CreatedAt = created.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes the entries for a remote id, used after a compensating
// delete succeeded.
func (s *Store) Remove(ctx context.Context, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM created_entities WHERE remote_id = ?`, remoteID)
	return err
}

func ensureLedgerSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS created_entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			base_name TEXT NOT NULL,
			stamped_name TEXT,
			remote_id TEXT NOT NULL,
			folder TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_created_entities_kind ON created_entities(kind);
		CREATE INDEX IF NOT EXISTS idx_created_entities_remote ON created_entities(remote_id);
	`)
	return err
}
