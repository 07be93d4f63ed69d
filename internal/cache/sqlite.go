// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dbFile = "cache.db"

// SQLiteStore persists entries in a SQLite database so they survive across
// runs and can be shared by batches using the same schema.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates dir/cache.db and its schema.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_stage ON entries(stage)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	return value, true, nil
}

// Put implements Store. Existing keys are left untouched.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (key, stage, value, created_at) VALUES (?, ?, ?, ?)`,
		key, StageOf(key), value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Stats returns the number of entries per stage.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM entries GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scanning counts: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

// Clear deletes entries for stage, or all entries when stage is empty. It
// returns the number of entries removed.
func (s *SQLiteStore) Clear(ctx context.Context, stage string) (int64, error) {
	var res sql.Result
	var err error
	if stage == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM entries WHERE stage = ?`, stage)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing entries: %w", err)
	}
	return res.RowsAffected()
}
