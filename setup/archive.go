// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package setup

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/classroom/lib/sqlitepool"
)

// Archive persists the last known value of each classroom.
type Archive interface {
	// Load returns the saved value and whether one exists.
	Load(ctx context.Context, classroom string) (Value, bool, error)

	// Save stores value unless an archived value is newer.
	Save(ctx context.Context, classroom string, value Value) error
}

// Schema is the archive table, safe to run on every connection.
const Schema = `CREATE TABLE IF NOT EXISTS classroom_setup (
	classroom TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	timestamp INTEGER NOT NULL
);`

// SQLiteArchive is an Archive backed by a pool opened with Schema.
type SQLiteArchive struct {
	pool *sqlitepool.Pool
}

// NewSQLiteArchive wraps pool.
func NewSQLiteArchive(pool *sqlitepool.Pool) *SQLiteArchive {
	return &SQLiteArchive{pool: pool}
}

// Load returns the archived value of classroom.
func (a *SQLiteArchive) Load(ctx context.Context, classroom string) (Value, bool, error) {
	var (
		value Value
		found bool
	)
	err := a.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT data, timestamp FROM classroom_setup WHERE classroom = ?", &sqlitex.ExecOptions{
			Args: []any{classroom},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value.Data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value.Data)
				value.Timestamp = stmt.ColumnInt64(1)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return Value{}, false, fmt.Errorf("setup: loading %q: %w", classroom, err)
	}
	return value, found, nil
}

// Save upserts value, keeping an archived value with a later timestamp.
func (a *SQLiteArchive) Save(ctx context.Context, classroom string, value Value) error {
	err := a.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO classroom_setup (classroom, data, timestamp) VALUES (?, ?, ?)
			ON CONFLICT(classroom) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp
			WHERE excluded.timestamp >= classroom_setup.timestamp`,
			&sqlitex.ExecOptions{Args: []any{classroom, value.Data, value.Timestamp}})
	})
	if err != nil {
		return fmt.Errorf("setup: saving %q: %w", classroom, err)
	}
	return nil
}
