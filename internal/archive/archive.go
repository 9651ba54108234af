// Package archive stores compacted narrative entries in SQLite. Entry
// content is sealed at rest; the key derives from the server master secret.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS archived_entries (
	id TEXT PRIMARY KEY,
	adventure_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	entry_type TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	content BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_adventure ON archived_entries(adventure_id, seq);
`

// Store is the archive database.
type Store struct {
	db      *sql.DB
	path    string
	sealKey *[32]byte
}

// Open opens the archive database at path and applies the schema.
func Open(path string, sealKey *[32]byte) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path, sealKey: sealKey}, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// AppendEntries archives entries for an adventure in one transaction.
func (s *Store) AppendEntries(ctx context.Context, adventureID string, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO archived_entries (id, adventure_id, seq, entry_type, created_at, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		sealed, err := crypto.Seal([]byte(e.Content), s.sealKey)
		if err != nil {
			return fmt.Errorf("seal entry %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, adventureID, e.Seq, string(e.Type), e.Timestamp.UnixMilli(), sealed); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// EntriesForAdventure returns the archived entries for an adventure in append
// order, with content unsealed.
func (s *Store) EntriesForAdventure(ctx context.Context, adventureID string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, entry_type, created_at, content
		FROM archived_entries WHERE adventure_id = ? ORDER BY seq
	`, adventureID)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var (
			e         store.Entry
			entryType string
			createdAt int64
			sealed    []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &entryType, &createdAt, &sealed); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		content, err := crypto.Open(sealed, s.sealKey)
		if err != nil {
			return nil, fmt.Errorf("unseal entry %s: %w", e.ID, err)
		}
		e.Type = store.EntryType(entryType)
		e.Timestamp = time.UnixMilli(createdAt).UTC()
		e.Content = string(content)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of archived entries for an adventure.
func (s *Store) Count(ctx context.Context, adventureID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_entries WHERE adventure_id = ?`, adventureID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}
