// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/clock"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

const (
	// DefaultBusyRetries is how many times a busy backend operation is
	// attempted before the error is returned.
	DefaultBusyRetries = 5

	// DefaultBusyBackoff is the wait before the first retry. Later
	// retries wait proportionally longer.
	DefaultBusyBackoff = 20 * time.Millisecond
)

// Options configure a repository handle. The zero value is usable.
type Options struct {
	// Logger receives engine messages. Nil discards them.
	Logger *slog.Logger

	// Clock stamps audits and paces busy retries. Nil means the real
	// clock.
	Clock clock.Clock

	// BusyRetries bounds attempts of operations that fail with a Busy
	// error. Zero means DefaultBusyRetries.
	BusyRetries int

	// BusyBackoff is the wait before the first retry. Zero means
	// DefaultBusyBackoff.
	BusyBackoff time.Duration

	// ChangesetEncoding is the encoding StoreChangeset requests for
	// changeset blobs. Incompressible payloads fall back to Full.
	ChangesetEncoding blobenc.Encoding
}

// CreateParams name the identity of a new repository. Empty RepoID
// and AdminID are allocated; empty HashMethod means hid.DefaultMethod.
type CreateParams struct {
	RepoID     string
	AdminID    string
	HashMethod string
}

// Repo is a handle bound to one repository instance. Alloc binds the
// storage implementation; Create or Open attaches the handle to
// on-disk state. A Repo is safe for concurrent reads. At most one
// transaction is open per handle.
type Repo struct {
	registry   *storage.Registry
	descriptor storage.Descriptor
	driver     storage.Driver

	logger      *slog.Logger
	clock       clock.Clock
	busyRetries int
	busyBackoff time.Duration
	changeset   blobenc.Encoding

	mu       sync.RWMutex
	instance storage.Instance
	method   *hid.Method
	tx       *Tx
	closed   bool
}

// Alloc binds a handle to the storage implementation the descriptor
// names. An unknown implementation fails here, before any state is
// touched.
func Alloc(registry *storage.Registry, descriptor storage.Descriptor, options Options) (*Repo, error) {
	driver, err := registry.Driver(descriptor)
	if err != nil {
		return nil, repoerr.E("alloc", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	retries := options.BusyRetries
	if retries <= 0 {
		retries = DefaultBusyRetries
	}
	backoff := options.BusyBackoff
	if backoff <= 0 {
		backoff = DefaultBusyBackoff
	}

	return &Repo{
		registry:    registry,
		descriptor:  descriptor.Clone(),
		driver:      driver,
		logger:      logger.With("storage", driver.Name()),
		clock:       clk,
		busyRetries: retries,
		busyBackoff: backoff,
		changeset:   options.ChangesetEncoding,
	}, nil
}

// Create initializes a new repository and attaches the handle to it.
func (r *Repo) Create(ctx context.Context, params CreateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnattached("create"); err != nil {
		return err
	}

	if params.HashMethod == "" {
		params.HashMethod = hid.DefaultMethod
	}
	method, err := hid.Lookup(params.HashMethod)
	if err != nil {
		return repoerr.E("create", err)
	}
	if params.RepoID == "" {
		params.RepoID = uuid.NewString()
	}
	if params.AdminID == "" {
		params.AdminID = uuid.NewString()
	}

	identity := storage.Identity{RepoID: params.RepoID, AdminID: params.AdminID, HashMethod: method.Name()}
	instance, err := r.driver.Create(ctx, r.descriptor, identity, storage.Options{Logger: r.logger})
	if err != nil {
		return repoerr.E("create", err)
	}
	r.instance = instance
	r.method = method
	r.logger = r.logger.With("repo_id", identity.RepoID)
	r.logger.Info("repository created", "admin_id", identity.AdminID, "hash_method", identity.HashMethod)
	return nil
}

// Open attaches the handle to existing state.
func (r *Repo) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnattached("open"); err != nil {
		return err
	}

	instance, err := r.driver.Open(ctx, r.descriptor, storage.Options{Logger: r.logger})
	if err != nil {
		return repoerr.E("open", err)
	}
	method, err := hid.Lookup(instance.Identity().HashMethod)
	if err != nil {
		instance.Close()
		return repoerr.E("open", err)
	}
	r.instance = instance
	r.method = method
	r.logger = r.logger.With("repo_id", instance.Identity().RepoID)
	r.logger.Debug("repository opened")
	return nil
}

func (r *Repo) checkUnattached(op string) error {
	if r.closed {
		return repoerr.E(op, repoerr.ErrHandleClosed)
	}
	if r.instance != nil {
		return repoerr.Errorf(op, "handle is already attached: %w", repoerr.ErrInvalidArgument)
	}
	return nil
}

// Close releases the instance. An open transaction is aborted. Close
// never deletes data; closing twice is a no-op.
func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.tx != nil {
		r.logger.Warn("closing repository with an open transaction; aborting it")
		r.tx.finish(txAborted)
		r.tx = nil
	}
	if r.instance == nil {
		return nil
	}
	err := r.instance.Close()
	r.instance = nil
	if err != nil {
		return repoerr.E("close", err)
	}
	return nil
}

// Delete removes the on-disk state of the repository the descriptor
// names. No handle may be open on it.
func Delete(ctx context.Context, registry *storage.Registry, descriptor storage.Descriptor) error {
	driver, err := registry.Driver(descriptor)
	if err != nil {
		return repoerr.E("delete", err)
	}
	return repoerr.E("delete", driver.Delete(ctx, descriptor))
}

// OpenRepo allocates a handle and opens it.
func OpenRepo(ctx context.Context, registry *storage.Registry, descriptor storage.Descriptor, options Options) (*Repo, error) {
	r, err := Alloc(registry, descriptor, options)
	if err != nil {
		return nil, err
	}
	if err := r.Open(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRepo allocates a handle and creates the repository.
func CreateRepo(ctx context.Context, registry *storage.Registry, descriptor storage.Descriptor, params CreateParams, options Options) (*Repo, error) {
	r, err := Alloc(registry, descriptor, options)
	if err != nil {
		return nil, err
	}
	if err := r.Create(ctx, params); err != nil {
		return nil, err
	}
	return r, nil
}

// backend returns the open instance and hash method.
func (r *Repo) backend(op string) (storage.Instance, *hid.Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.closed:
		return nil, nil, repoerr.E(op, repoerr.ErrHandleClosed)
	case r.instance == nil:
		return nil, nil, repoerr.E(op, repoerr.ErrNotOpen)
	}
	return r.instance, r.method, nil
}

func (r *Repo) identity() storage.Identity {
	instance, _, err := r.backend("identity")
	if err != nil {
		return storage.Identity{}
	}
	return instance.Identity()
}

// RepoID returns the repository id, "" when the handle is not open.
func (r *Repo) RepoID() string { return r.identity().RepoID }

// AdminID returns the administrative group id.
func (r *Repo) AdminID() string { return r.identity().AdminID }

// HashMethod returns the name of the repository's hash method.
func (r *Repo) HashMethod() string { return r.identity().HashMethod }

// Method returns the repository's hash method, nil when not open.
func (r *Repo) Method() *hid.Method {
	_, method, _ := r.backend("method")
	return method
}

// Descriptor returns a copy of the descriptor the handle was
// allocated with.
func (r *Repo) Descriptor() storage.Descriptor { return r.descriptor.Clone() }

// StorageName returns the bound storage implementation's name.
func (r *Repo) StorageName() string { return r.driver.Name() }

// Query answers a capability question: type 1 questions through the
// registry, type 2 questions through the bound implementation.
func (r *Repo) Query(q storage.Question) (storage.Answer, error) {
	var (
		answer storage.Answer
		err    error
	)
	if q.IsType1() {
		answer, err = r.registry.Query(q)
	} else {
		answer, err = r.driver.Query(q)
	}
	return answer, repoerr.E("query_implementation", err)
}

// retry runs fn until it succeeds or fails with a non-Busy error,
// sleeping on the handle's clock between attempts.
func (r *Repo) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return repoerr.Retry(ctx, r.busyRetries, func() error {
		if attempt > 0 {
			r.logger.Debug("backend busy, retrying", "op", op, "attempt", attempt+1)
			r.clock.Sleep(r.busyBackoff * time.Duration(attempt))
		}
		attempt++
		return fn()
	})
}

func validatePrefix(method *hid.Method, prefix string) error {
	if !method.ValidPrefix(prefix) {
		return fmt.Errorf("%q is not a valid %s id prefix: %w", prefix, method.Name(), repoerr.ErrInvalidArgument)
	}
	return nil
}
