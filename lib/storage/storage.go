// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"io"
	"log/slog"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
)

// Identity is the fixed identity of a repository instance, written at
// creation and never changed.
type Identity struct {
	// RepoID is shared by every instance (clone) of one logical
	// repository.
	RepoID string `json:"repo_id"`

	// AdminID is shared by every repository in one administrative
	// group; admin-scoped dagnums are keyed by it.
	AdminID string `json:"admin_id"`

	// HashMethod names the hid.Method every HID in the repository is
	// computed with.
	HashMethod string `json:"hash_method"`
}

// Options are passed to every driver call that produces an Instance.
type Options struct {
	// Logger receives backend messages. Nil discards them.
	Logger *slog.Logger
}

// LoggerOrDiscard returns the configured logger or a discarding one.
func (o Options) LoggerOrDiscard() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Driver is one storage implementation. A driver is stateless: it
// answers capability questions and creates, opens and deletes
// instances named by descriptors.
type Driver interface {
	// Name is the key a descriptor's "storage" value selects.
	Name() string

	// Query answers a type 2 capability question.
	Query(q Question) (Answer, error)

	// Create initializes new on-disk state for identity and opens it.
	// Creating over existing state fails.
	Create(ctx context.Context, descriptor Descriptor, identity Identity, options Options) (Instance, error)

	// Open attaches to existing on-disk state.
	Open(ctx context.Context, descriptor Descriptor, options Options) (Instance, error)

	// Delete removes the on-disk state. No instance may be open on it.
	Delete(ctx context.Context, descriptor Descriptor) error
}

// BlobInfo describes how a blob is stored.
type BlobInfo struct {
	HID        hid.HID          `json:"hid"`
	Encoding   blobenc.Encoding `json:"encoding"`
	Reference  hid.HID          `json:"reference,omitempty"`
	LenEncoded int64            `json:"len_encoded"`
	LenFull    int64            `json:"len_full"`
}

// Instance is an open repository instance.
//
// Reads are snapshots per call: a single call sees a consistent state,
// separate calls may see commits made in between. Apply is the only
// mutation. Instances are safe for concurrent use.
type Instance interface {
	// Identity returns the instance's identity record.
	Identity() Identity

	// Apply commits a batch atomically. See [Batch] for the rules.
	Apply(ctx context.Context, batch *Batch) (ApplyResult, error)

	// StatBlob returns a blob's stored form; ErrBlobNotFound if absent.
	StatBlob(ctx context.Context, id hid.HID) (BlobInfo, error)

	// OpenBlob returns a reader over a blob's stored bytes, exactly
	// LenEncoded of them.
	OpenBlob(ctx context.Context, id hid.HID) (BlobInfo, io.ReadCloser, error)

	// MissingBlobs returns the subset of ids not stored, in input order
	// without duplicates.
	MissingBlobs(ctx context.Context, ids []hid.HID) ([]hid.HID, error)

	// FindBlobsByPrefix returns every blob HID starting with prefix,
	// sorted. prefix is lowercase hex.
	FindBlobsByPrefix(ctx context.Context, prefix string) ([]hid.HID, error)

	// FetchDagnode returns a stored node; ErrDagnodeNotFound if absent.
	FetchDagnode(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error)

	// PresentDagnodes returns the subset of ids stored in dagnum.
	PresentDagnodes(ctx context.Context, dagnum dagnode.Dagnum, ids []hid.HID) (hid.Set, error)

	// Leaves returns the stored leaf set of dagnum, sorted.
	Leaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error)

	// Children returns the stored children of id, sorted. This reads
	// the edge index in reverse and is not meant for graph walks.
	Children(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]hid.HID, error)

	// DagnodesByGeneration returns the ids whose generation lies in
	// [minGeneration, maxGeneration], sorted by generation then id.
	DagnodesByGeneration(ctx context.Context, dagnum dagnode.Dagnum, minGeneration, maxGeneration int64) ([]hid.HID, error)

	// ChronoList returns up to count ids in revision order starting at
	// revision startRevision.
	ChronoList(ctx context.Context, dagnum dagnode.Dagnum, startRevision int64, count int) ([]hid.HID, error)

	// DagnodeByRevision returns the id with the given revision;
	// ErrDagnodeNotFound if none.
	DagnodeByRevision(ctx context.Context, dagnum dagnode.Dagnum, revision int64) (hid.HID, error)

	// FindDagnodesByPrefix returns every node id of dagnum starting
	// with prefix, sorted.
	FindDagnodesByPrefix(ctx context.Context, dagnum dagnode.Dagnum, prefix string) ([]hid.HID, error)

	// Dagnums returns every dagnum holding at least one node, sorted.
	Dagnums(ctx context.Context) ([]dagnode.Dagnum, error)

	// DagnodeCount returns the number of nodes in dagnum.
	DagnodeCount(ctx context.Context, dagnum dagnode.Dagnum) (int64, error)

	// Audits returns the audits of one node, oldest first.
	Audits(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]dagnode.Audit, error)

	// RecomputeLeaves derives the leaf set by scanning every node and
	// edge of dagnum, replaces the stored leaf set with it, and returns
	// it sorted. Expensive; for repair and verification only.
	RecomputeLeaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error)

	// Close releases the instance. On-disk state is kept.
	Close() error
}
