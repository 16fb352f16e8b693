package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a local SQLite database. Preferable to the
// flat file when downstream purge jobs need to query by retention deadline.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// WAL keeps appends durable without blocking chain verification reads.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: enable wal: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			seq                INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_id           TEXT NOT NULL UNIQUE,
			case_id            TEXT NOT NULL,
			retention_deadline TEXT NOT NULL,
			entry              TEXT NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts one entry with its canonical JSON form.
func (s *SQLiteStore) Append(e Entry) error {
	line, err := Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_entries (audit_id, case_id, retention_deadline, entry) VALUES (?, ?, ?, ?)`,
		e.AuditID, e.CaseID, e.RetentionDeadline.Format("2006-01-02T15:04:05Z07:00"), string(line),
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Iterate replays entries in append order.
func (s *SQLiteStore) Iterate(fn func(Entry) error) error {
	rows, err := s.db.Query(`SELECT entry FROM audit_entries ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("audit: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("audit: scan entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return fmt.Errorf("audit: decode entry: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PurgeExpired deletes entries whose retention deadline has passed. Intended
// for a scheduled job, not the triage path.
func (s *SQLiteStore) PurgeExpired(now string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM audit_entries WHERE retention_deadline < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("audit: purge expired: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
