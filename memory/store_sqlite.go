package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope TEXT NOT NULL,
	category TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_scope_category
	ON memory_entries (scope, category);`

const (
	defaultStoreDir = ".anther"
	defaultStoreDB  = "memory.db"
)

// SQLiteStore persists memory entries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultSQLitePath returns the default database path under the home
// directory.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("memory: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultStoreDir, defaultStoreDB), nil
}

// NewDefaultSQLiteStore creates a store at ~/.anther/memory.db.
func NewDefaultSQLiteStore() (*SQLiteStore, error) {
	path, err := DefaultSQLitePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("memory: create store dir: %w", err)
	}
	return NewSQLiteStore(path)
}

// NewSQLiteStore opens (or creates) a SQLite-backed memory store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("memory: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Remember(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("memory: sqlite store is nil")
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("memory: sqlite encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO memory_entries (scope, category, content, tags, created_at)
VALUES (?, ?, ?, ?, ?)`,
		string(entry.Scope),
		entry.Category,
		entry.Content,
		string(tags),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("memory: sqlite insert entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, scope Scope, category string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("memory: sqlite store is nil")
	}

	query := `
SELECT scope, category, content, tags, created_at
FROM memory_entries
WHERE scope = ?`
	args := []any{string(scope)}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return s.queryEntries(ctx, query, args...)
}

// Search filters in Go so matching stays case-insensitive for the full
// Unicode range, not just ASCII as SQLite's LIKE would give.
func (s *SQLiteStore) Search(ctx context.Context, query string, scope Scope) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("memory: sqlite store is nil")
	}

	sqlQuery := `
SELECT scope, category, content, tags, created_at
FROM memory_entries`
	var args []any
	if scope != ScopeAny {
		sqlQuery += ` WHERE scope = ?`
		args = append(args, string(scope))
	}
	sqlQuery += ` ORDER BY created_at DESC, id DESC`

	entries, err := s.queryEntries(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	matched := entries[:0]
	for _, entry := range entries {
		if entry.Matches(query) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *SQLiteStore) Forget(ctx context.Context, category, contentMatch string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, errors.New("memory: sqlite store is nil")
	}

	result, err := s.db.ExecContext(ctx, `
DELETE FROM memory_entries
WHERE category = ? AND content = ?`, category, contentMatch)
	if err != nil {
		return 0, fmt.Errorf("memory: sqlite delete entries: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("memory: sqlite rows affected: %w", err)
	}
	if removed == 0 {
		return 0, ErrNotFound
	}
	return int(removed), nil
}

func (s *SQLiteStore) Clear(ctx context.Context, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("memory: sqlite store is nil")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE scope = ?`, string(scope)); err != nil {
		return fmt.Errorf("memory: sqlite clear scope: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: sqlite query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			scope      string
			category   string
			content    string
			tagsRaw    string
			createdRaw string
		)
		if err := rows.Scan(&scope, &category, &content, &tagsRaw, &createdRaw); err != nil {
			return nil, fmt.Errorf("memory: sqlite scan entry: %w", err)
		}

		entry := Entry{
			Scope:    Scope(scope),
			Category: category,
			Content:  content,
		}
		if tagsRaw != "" {
			if err := json.Unmarshal([]byte(tagsRaw), &entry.Tags); err != nil {
				return nil, fmt.Errorf("memory: sqlite decode tags: %w", err)
			}
		}
		if createdRaw != "" {
			createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
			if err != nil {
				return nil, fmt.Errorf("memory: sqlite parse created_at: %w", err)
			}
			entry.CreatedAt = createdAt.UTC()
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: sqlite entry rows: %w", err)
	}
	return entries, nil
}

var _ Store = (*SQLiteStore)(nil)
