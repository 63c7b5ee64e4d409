// Package store persists session collections as namespaced JSON
// documents in SQLite. It holds whole documents rather than rows:
// the session layer always rewrites a full collection, so a document
// per namespace keeps every save atomic.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is a namespaced document store backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// New creates a document store on an existing database handle. The
// schema is created automatically on first use.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		namespace  TEXT NOT NULL PRIMARY KEY,
		doc        TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the stored document for a namespace. ok is false when
// the namespace has never been written; that is not an error.
func (s *Store) Load(ctx context.Context, namespace string) (string, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE namespace = ?`,
		namespace,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", namespace, err)
	}
	return doc, true, nil
}

// Save upserts the document for a namespace. Existing documents are
// overwritten and the updated_at timestamp is refreshed.
func (s *Store) Save(ctx context.Context, namespace, doc string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (namespace, doc, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (namespace) DO UPDATE
		 SET doc = excluded.doc, updated_at = excluded.updated_at`,
		namespace, doc, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", namespace, err)
	}
	return nil
}
