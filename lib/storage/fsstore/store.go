// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Store is an open fs repository instance.
type Store struct {
	root     string
	identity storage.Identity
	logger   *slog.Logger

	// writeMu serializes writers within the process; the flock on the
	// lock file serializes them across processes.
	writeMu sync.Mutex

	cacheMu sync.Mutex
	cache   map[dagnode.Dagnum]*cachedState
}

var _ storage.Instance = (*Store)(nil)

func newStore(root string, identity storage.Identity, options storage.Options) *Store {
	return &Store{
		root:     root,
		identity: identity,
		logger:   options.LoggerOrDiscard().With("storage", Name),
		cache:    make(map[dagnode.Dagnum]*cachedState),
	}
}

func (s *Store) Identity() storage.Identity { return s.identity }

// Close drops cached state. There is nothing else to release.
func (s *Store) Close() error {
	s.cacheMu.Lock()
	s.cache = make(map[dagnode.Dagnum]*cachedState)
	s.cacheMu.Unlock()
	return nil
}

// lock acquires the in-process mutex and the exclusive flock. The
// returned function releases both.
func (s *Store) lock() (func(), error) {
	s.writeMu.Lock()
	file, err := os.OpenFile(filepath.Join(s.root, lockFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		s.writeMu.Unlock()
		return nil, fmt.Errorf("locking %s: %w", file.Name(), err)
	}
	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		s.writeMu.Unlock()
	}, nil
}

// writeFile writes data to path through a temporary file and a rename.
func (s *Store) writeFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	success = true
	return nil
}

// Apply checks the whole batch against the current state, then writes
// blob files followed by the changed dagnum state files.
func (s *Store) Apply(ctx context.Context, batch *storage.Batch) (storage.ApplyResult, error) {
	if err := batch.Validate(); err != nil {
		return storage.ApplyResult{}, err
	}
	if batch.Empty() {
		return storage.ApplyResult{}, nil
	}

	unlock, err := s.lock()
	if err != nil {
		return storage.ApplyResult{}, err
	}
	defer unlock()
	if err := ctx.Err(); err != nil {
		return storage.ApplyResult{}, err
	}

	result := storage.ApplyResult{Revisions: make([]int64, len(batch.Nodes))}

	var newBlobs []*storage.Blob
	staged := hid.NewSet()
	for i := range batch.Blobs {
		blob := &batch.Blobs[i]
		if staged.Has(blob.HID) {
			continue
		}
		staged.Add(blob.HID)
		present, err := s.blobExists(blob.HID)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		if !present {
			newBlobs = append(newBlobs, blob)
		}
	}

	// Working copies, read fresh under the lock.
	states := make(map[dagnode.Dagnum]*dagState)
	working := func(dagnum dagnode.Dagnum) (*dagState, error) {
		if state, ok := states[dagnum]; ok {
			return state, nil
		}
		state, _, err := s.readState(dagnum)
		if err != nil {
			return nil, err
		}
		states[dagnum] = state
		return state, nil
	}

	for i, node := range batch.Nodes {
		state, err := working(node.Dagnum)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		revision, err := state.insert(node)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		result.Revisions[i] = revision
	}
	for _, audit := range batch.Audits {
		state, err := working(audit.Dagnum)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		state.addAudit(audit)
	}

	for _, blob := range newBlobs {
		if err := s.writeBlob(blob); err != nil {
			return storage.ApplyResult{}, err
		}
	}
	result.BlobsStored = len(newBlobs)
	for dagnum, state := range states {
		if !state.dirty {
			continue
		}
		if err := s.writeState(dagnum, state); err != nil {
			return storage.ApplyResult{}, err
		}
	}

	s.logger.Debug("batch applied",
		"blobs", len(batch.Blobs),
		"blobs_stored", result.BlobsStored,
		"nodes", len(batch.Nodes),
		"audits", len(batch.Audits),
	)
	return result, nil
}
