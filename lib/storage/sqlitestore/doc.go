// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore is the "sqlite" storage implementation: one
// SQLite database per repository instance, opened through
// lib/sqlitepool.
//
// The descriptor's path names a directory that holds repo.sqlite and
// its WAL files. Optional descriptor keys:
//
//	pool_size     connections in the pool (default: sqlitepool's)
//	busy_timeout  wait for another writer, as a Go duration (default 5s)
//
// Every Apply runs in one IMMEDIATE transaction, so concurrent
// processes serialize on SQLite's write lock. A lock that is not
// released within the busy timeout surfaces as ErrDatabaseBusy.
package sqlitestore
