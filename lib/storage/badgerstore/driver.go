// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Name is the descriptor "storage" value selecting this implementation.
const Name = "badger"

// KeyInMemory is the descriptor key selecting a memory-only instance.
const KeyInMemory = "in_memory"

// manifestFile exists in every Badger directory.
const manifestFile = "MANIFEST"

var capabilities = storage.Capabilities{
	Compression: true,
	Delta:       true,
	Persistent:  true,
}

// Driver is the badger storage driver.
type Driver struct{}

// New returns the driver.
func New() *Driver { return &Driver{} }

func (*Driver) Name() string { return Name }

func (*Driver) Query(q storage.Question) (storage.Answer, error) {
	return capabilities.Answer(q)
}

func (d *Driver) Create(ctx context.Context, descriptor storage.Descriptor, identity storage.Identity, options storage.Options) (storage.Instance, error) {
	inMemory, err := descriptor.Bool(KeyInMemory)
	if err != nil {
		return nil, err
	}
	var directory string
	if !inMemory {
		directory, err = descriptor.RequirePath()
		if err != nil {
			return nil, err
		}
		if initialized(directory) {
			return nil, fmt.Errorf("badger repository %s: %w", directory, repoerr.ErrRepoAlreadyExists)
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("badger repository: %w", err)
		}
	}

	logger := options.LoggerOrDiscard().With("storage", Name)
	db, err := openDB(directory, inMemory, logger)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(identity)
	if err != nil {
		db.Close()
		return nil, err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey, data)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("writing repository identity: %w", err)
	}
	logger.Info("badger repository created", "path", directory, "in_memory", inMemory, "repo_id", identity.RepoID)
	return newStore(db, identity, logger), nil
}

func (d *Driver) Open(ctx context.Context, descriptor storage.Descriptor, options storage.Options) (storage.Instance, error) {
	inMemory, err := descriptor.Bool(KeyInMemory)
	if err != nil {
		return nil, err
	}
	if inMemory {
		return nil, fmt.Errorf("an in-memory badger repository cannot be reopened: %w", repoerr.ErrRepoNotFound)
	}
	directory, err := descriptor.RequirePath()
	if err != nil {
		return nil, err
	}
	if !initialized(directory) {
		return nil, fmt.Errorf("badger repository %s: %w", directory, repoerr.ErrRepoNotFound)
	}

	logger := options.LoggerOrDiscard().With("storage", Name)
	db, err := openDB(directory, false, logger)
	if err != nil {
		return nil, err
	}
	var identity storage.Identity
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey)
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &identity)
		})
	})
	if err != nil {
		db.Close()
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("badger repository %s has no identity: %w", directory, repoerr.ErrRepoNotFound)
		}
		return nil, fmt.Errorf("reading repository identity: %w", err)
	}
	logger.Debug("badger repository opened", "path", directory, "repo_id", identity.RepoID)
	return newStore(db, identity, logger), nil
}

// Delete removes the Badger directory.
func (d *Driver) Delete(ctx context.Context, descriptor storage.Descriptor) error {
	if inMemory, _ := descriptor.Bool(KeyInMemory); inMemory {
		return nil
	}
	directory, err := descriptor.RequirePath()
	if err != nil {
		return err
	}
	if !initialized(directory) {
		return fmt.Errorf("badger repository %s: %w", directory, repoerr.ErrRepoNotFound)
	}
	if err := os.RemoveAll(directory); err != nil {
		return fmt.Errorf("deleting badger repository: %w", err)
	}
	return nil
}

func initialized(directory string) bool {
	_, err := os.Stat(filepath.Join(directory, manifestFile))
	return !errors.Is(err, fs.ErrNotExist)
}

func openDB(directory string, inMemory bool, logger *slog.Logger) (*badger.DB, error) {
	options := badger.DefaultOptions(directory).
		WithInMemory(inMemory).
		WithLogger(badgerLogger{logger}).
		WithSyncWrites(!inMemory)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", directory, err)
	}
	return db, nil
}

// badgerLogger routes Badger's printf-style logging to slog. Badger's
// info level is chatty, so it maps to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
