// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Name is the descriptor "storage" value selecting this implementation.
const Name = "fs"

const (
	identityFile = "identity.json"
	lockFile     = "lock"
	tmpDir       = "tmp"
	blobsDir     = "blobs"
	dagsDir      = "dags"
)

var capabilities = storage.Capabilities{
	Compression:  true,
	Delta:        true,
	MultiProcess: true,
	Persistent:   true,
}

// Driver is the fs storage driver.
type Driver struct{}

// New returns the driver.
func New() *Driver { return &Driver{} }

func (*Driver) Name() string { return Name }

func (*Driver) Query(q storage.Question) (storage.Answer, error) {
	return capabilities.Answer(q)
}

func (d *Driver) Create(ctx context.Context, descriptor storage.Descriptor, identity storage.Identity, options storage.Options) (storage.Instance, error) {
	root, err := descriptor.RequirePath()
	if err != nil {
		return nil, err
	}
	if initialized(root) {
		return nil, fmt.Errorf("fs repository %s: %w", root, repoerr.ErrRepoAlreadyExists)
	}
	for _, dir := range []string{
		root,
		filepath.Join(root, tmpDir),
		filepath.Join(root, blobsDir),
		filepath.Join(root, dagsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating repository directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, lockFile), nil, 0o644); err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	store := newStore(root, identity, options)
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return nil, err
	}
	// The identity file goes last: its presence marks the repository
	// as initialized.
	if err := store.writeFile(filepath.Join(root, identityFile), append(data, '\n')); err != nil {
		return nil, err
	}
	store.logger.Info("fs repository created", "path", root, "repo_id", identity.RepoID)
	return store, nil
}

func (d *Driver) Open(ctx context.Context, descriptor storage.Descriptor, options storage.Options) (storage.Instance, error) {
	root, err := descriptor.RequirePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, identityFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("fs repository %s: %w", root, repoerr.ErrRepoNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading repository identity: %w", err)
	}
	var identity storage.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Join(root, identityFile), err)
	}
	store := newStore(root, identity, options)
	store.logger.Debug("fs repository opened", "path", root, "repo_id", identity.RepoID)
	return store, nil
}

// Delete removes the repository directory tree.
func (d *Driver) Delete(ctx context.Context, descriptor storage.Descriptor) error {
	root, err := descriptor.RequirePath()
	if err != nil {
		return err
	}
	if !initialized(root) {
		return fmt.Errorf("fs repository %s: %w", root, repoerr.ErrRepoNotFound)
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("deleting fs repository: %w", err)
	}
	return nil
}

func initialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, identityFile))
	return err == nil
}
