// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/repostore/lib/sqlitepool"
)

func TestPragmas(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{BusyTimeout: 1500 * time.Millisecond})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	pragmaText := func(name string) string {
		var value string
		err := sqlitex.Execute(conn, "PRAGMA "+name, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		return value
	}

	if got := pragmaText("journal_mode"); got != "wal" {
		t.Errorf("journal_mode = %q, want wal", got)
	}
	if got := pragmaText("synchronous"); got != "2" {
		t.Errorf("synchronous = %q, want 2 (FULL)", got)
	}
	if got := pragmaText("busy_timeout"); got != "1500" {
		t.Errorf("busy_timeout = %q, want 1500", got)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, `
				CREATE TABLE IF NOT EXISTS blobs (hid TEXT PRIMARY KEY, data BLOB);
			`, nil)
		},
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	insert := func() error {
		return sqlitex.Execute(conn, "INSERT INTO blobs (hid, data) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"ab12", []byte("hello")},
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first INSERT: %v", err)
	}
	err = insert()
	if err == nil {
		t.Fatal("duplicate primary key accepted")
	}
	if !sqlitepool.IsConstraint(err) {
		t.Errorf("IsConstraint(%v) = false", err)
	}
	if sqlitepool.IsBusy(err) {
		t.Errorf("IsBusy(%v) = true for a constraint error", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS generations (value INTEGER NOT NULL);`, nil)
		},
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := sqlitex.ExecuteScript(conn, `INSERT INTO generations (value) VALUES (0), (1), (2), (3), (4);`, nil); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	pool.Put(conn)

	const readers = 8
	var waitGroup sync.WaitGroup
	failures := make(chan error, readers)
	for range readers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			conn, err := pool.Take(context.Background())
			if err != nil {
				failures <- err
				return
			}
			defer pool.Put(conn)

			var sum int64
			err = sqlitex.Execute(conn, "SELECT value FROM generations", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sum += stmt.ColumnInt64(0)
					return nil
				},
			})
			if err != nil {
				failures <- err
				return
			}
			if sum != 10 {
				failures <- fmt.Errorf("sum = %d, want 10", sum)
			}
		}()
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsCancellation(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{PoolSize: 1})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take with a cancelled context succeeded on an exhausted pool")
	}
}

func TestCloseTwice(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	pool.Put(conn)

	if err := pool.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	// The cleanup registered by openTestPool closes a third time.
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestIsBusyNil(t *testing.T) {
	if sqlitepool.IsBusy(nil) || sqlitepool.IsConstraint(nil) {
		t.Error("nil error classified")
	}
	if sqlitepool.IsBusy(errors.New("plain")) {
		t.Error("plain error classified as busy")
	}
}

func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "test.sqlite")
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
