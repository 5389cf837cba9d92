// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/sqlitepool"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Name is the descriptor "storage" value selecting this implementation.
const Name = "sqlite"

// Descriptor keys specific to this implementation.
const (
	KeyPoolSize    = "pool_size"
	KeyBusyTimeout = "busy_timeout"
)

var capabilities = storage.Capabilities{
	Compression:  true,
	Delta:        true,
	MultiProcess: true,
	Persistent:   true,
}

// Driver is the sqlite storage driver.
type Driver struct{}

// New returns the driver.
func New() *Driver { return &Driver{} }

func (*Driver) Name() string { return Name }

func (*Driver) Query(q storage.Question) (storage.Answer, error) {
	return capabilities.Answer(q)
}

// Create makes the directory if needed, creates the database with its
// schema and identity, and opens it.
func (d *Driver) Create(ctx context.Context, descriptor storage.Descriptor, identity storage.Identity, options storage.Options) (storage.Instance, error) {
	directory, err := descriptor.RequirePath()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(directory, databaseFile)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("sqlite repository %s: %w", path, repoerr.ErrRepoAlreadyExists)
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite repository: %w", err)
	}

	store, err := openPool(descriptor, path, options)
	if err != nil {
		return nil, err
	}
	if err := store.initialize(ctx, identity); err != nil {
		store.Close()
		os.Remove(path)
		return nil, err
	}
	store.identity = identity
	store.logger.Info("sqlite repository created", "path", path, "repo_id", identity.RepoID)
	return store, nil
}

// Open opens an existing database and loads its identity.
func (d *Driver) Open(ctx context.Context, descriptor storage.Descriptor, options storage.Options) (storage.Instance, error) {
	directory, err := descriptor.RequirePath()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(directory, databaseFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("sqlite repository %s: %w", path, repoerr.ErrRepoNotFound)
	}

	store, err := openPool(descriptor, path, options)
	if err != nil {
		return nil, err
	}
	if err := store.loadIdentity(ctx); err != nil {
		store.Close()
		return nil, err
	}
	store.logger.Debug("sqlite repository opened", "path", path, "repo_id", store.identity.RepoID)
	return store, nil
}

// Delete removes the database and its WAL and shared-memory files. The
// directory itself is removed when nothing else is left in it.
func (d *Driver) Delete(ctx context.Context, descriptor storage.Descriptor) error {
	directory, err := descriptor.RequirePath()
	if err != nil {
		return err
	}
	path := filepath.Join(directory, databaseFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sqlite repository %s: %w", path, repoerr.ErrRepoNotFound)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting sqlite repository: %w", err)
		}
	}
	// Fails harmlessly when the directory holds other files.
	os.Remove(directory)
	return nil
}

func openPool(descriptor storage.Descriptor, path string, options storage.Options) (*Store, error) {
	poolSize, err := descriptor.Int(KeyPoolSize, 0)
	if err != nil {
		return nil, err
	}
	busyTimeout, err := descriptor.Duration(KeyBusyTimeout, sqlitepool.DefaultBusyTimeout)
	if err != nil {
		return nil, err
	}
	logger := options.LoggerOrDiscard().With("storage", Name)
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        path,
		PoolSize:    poolSize,
		BusyTimeout: busyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite repository: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// initialize creates the schema and writes the identity in one
// transaction.
func (s *Store) initialize(ctx context.Context, identity storage.Identity) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	meta := [][2]string{
		{metaSchemaVersion, schemaVersion},
		{metaRepoID, identity.RepoID},
		{metaAdminID, identity.AdminID},
		{metaHashMethod, identity.HashMethod},
	}
	for _, entry := range meta {
		err = sqlitex.Execute(conn, "INSERT INTO meta (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{entry[0], entry[1]},
		})
		if err != nil {
			return fmt.Errorf("writing %s: %w", entry[0], err)
		}
	}
	return nil
}

func (s *Store) loadIdentity(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	meta := make(map[string]string)
	err = sqlitex.Execute(conn, "SELECT key, value FROM meta", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			meta[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("reading repository identity from %s: %v: %w", s.pool.Path(), err, repoerr.ErrRepoNotFound)
	}
	if version := meta[metaSchemaVersion]; version != schemaVersion {
		return fmt.Errorf("%s has schema version %q, this build reads %q: %w",
			s.pool.Path(), version, schemaVersion, repoerr.ErrNotSupported)
	}
	s.identity = storage.Identity{
		RepoID:     meta[metaRepoID],
		AdminID:    meta[metaAdminID],
		HashMethod: meta[metaHashMethod],
	}
	return nil
}

// mapError translates SQLite lock contention into ErrDatabaseBusy so
// that the engine's retry loop recognizes it.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if sqlitepool.IsBusy(err) {
		return fmt.Errorf("%s: %v: %w", op, err, repoerr.ErrDatabaseBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}
