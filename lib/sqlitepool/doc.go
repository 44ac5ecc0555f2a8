// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool under the
// decision authority's trail store.
//
// It wraps zombiezen.com/go/sqlite with the pragmas Warden wants for
// an append-heavy audit database: WAL journal mode so console reads
// never block the ingest writer, NORMAL synchronous for process-crash
// durability, and a busy timeout so brief write contention waits
// instead of surfacing SQLITE_BUSY.
//
// Losing the very tail of the trail to a power failure is tolerable
// here: records are hash-chained, so a truncated tail shows up on the
// next verification pass, and the agent side treats trail logging as
// best-effort anyway.
//
// The pool is built on sqlitex.Pool and keeps its Take/Put shape.
// Connections are not safe for concurrent use; each goroutine takes
// its own and puts it back when done:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/warden/trail.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// The package is deliberately thin: it applies pragmas and hands out
// zombiezen types directly. Callers write SQL; there is no query
// builder and no ORM.
package sqlitepool
