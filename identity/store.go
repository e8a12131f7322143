// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/classroom/lib/sqlitepool"
)

// MemoryStore keeps the id in memory.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

// Load returns the saved id.
func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

// Save replaces the saved id.
func (s *MemoryStore) Save(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

// FileStore keeps the id in a single file, written with mode 0600 via
// a rename so a crash never leaves a truncated id.
type FileStore struct {
	Path string
}

// Load returns the file contents, or "" if the file does not exist.
func (s FileStore) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: reading %s: %w", s.Path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes id, creating the parent directory if needed.
func (s FileStore) Save(_ context.Context, id string) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: creating %s: %w", dir, err)
	}
	temp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("identity: creating temp file: %w", err)
	}
	tempPath := temp.Name()
	defer os.Remove(tempPath)

	if err := temp.Chmod(0600); err != nil {
		temp.Close()
		return fmt.Errorf("identity: chmod %s: %w", tempPath, err)
	}
	if _, err := temp.WriteString(id + "\n"); err != nil {
		temp.Close()
		return fmt.Errorf("identity: writing %s: %w", tempPath, err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("identity: closing %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, s.Path); err != nil {
		return fmt.Errorf("identity: renaming into %s: %w", s.Path, err)
	}
	return nil
}

// Schema is the identity table, safe to run on every connection.
const Schema = `CREATE TABLE IF NOT EXISTS identity (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteStore keeps the id in the identity table of a pool opened
// with Schema.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// NewSQLiteStore wraps pool. The pool must have been opened with
// Schema (possibly concatenated with other schemas).
func NewSQLiteStore(pool *sqlitepool.Pool) *SQLiteStore {
	return &SQLiteStore{pool: pool}
}

// Load returns the saved device id, or "" if none.
func (s *SQLiteStore) Load(ctx context.Context) (string, error) {
	var id string
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM identity WHERE name = 'device'", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		return "", fmt.Errorf("identity: loading from sqlite: %w", err)
	}
	return id, nil
}

// Save upserts the device id.
func (s *SQLiteStore) Save(ctx context.Context, id string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO identity (name, value) VALUES ('device', ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
			&sqlitex.ExecOptions{Args: []any{id}})
	})
	if err != nil {
		return fmt.Errorf("identity: saving to sqlite: %w", err)
	}
	return nil
}
