// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the small local SQLite databases a
// participant keeps on disk, currently the device identity.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection gets
// WAL journaling, synchronous=NORMAL and a busy timeout so that two
// browser-less participants started from the same profile directory
// wait for each other instead of failing with SQLITE_BUSY. An optional
// schema script runs on every new connection; it must be idempotent
// (CREATE TABLE IF NOT EXISTS).
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(stateDir, "identity.db"),
//	    Schema: identitySchema,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "SELECT ...", &sqlitex.ExecOptions{...})
//	})
package sqlitepool
