// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens pools of zombiezen.com/go/sqlite connections
// with the pragmas the sqlite storage implementation relies on.
//
// Every connection runs in WAL mode, so readers in other processes
// never block the single writer, with synchronous=FULL so that a
// committed transaction is durable. A busy timeout makes a writer wait
// for a competing process instead of failing at once; when the timeout
// expires, [IsBusy] identifies the error so the storage layer can map
// it to a retryable repository error.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(dir, "repo.sqlite"),
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//
// The package exposes zombiezen's types directly. Callers write SQL,
// run it with sqlitex.Execute, and bound writes with
// sqlitex.ImmediateTransaction.
package sqlitepool
