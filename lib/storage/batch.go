// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Blob is a blob to store: its metadata and its stored bytes.
type Blob struct {
	BlobInfo
	Data []byte
}

// Batch is everything one commit writes. An implementation applies a
// batch all or nothing, holding its write lock for the duration:
//
//  1. Blobs are stored unless a blob with the same HID exists; a
//     duplicate is silently skipped.
//  2. Nodes are inserted in order. A node whose id is already stored in
//     its dagnum fails the batch with ErrDagnodeAlreadyExists. Every
//     parent must be stored already or appear earlier in the batch,
//     otherwise the batch fails with ErrCannotCreateSparseDag.
//  3. Each inserted node gets the next revision number of its dagnum,
//     its edges are recorded, its parents leave the leaf set and the
//     node joins it.
//  4. Audits are stored; an identical audit already present is skipped.
//
// Node generations are computed by the caller and stored as given.
type Batch struct {
	Blobs  []Blob
	Nodes  []*dagnode.Dagnode
	Audits []dagnode.Audit
}

// ApplyResult reports what a batch did.
type ApplyResult struct {
	// Revisions holds the revision assigned to each node, parallel to
	// Batch.Nodes.
	Revisions []int64

	// BlobsStored counts the blobs that were new.
	BlobsStored int
}

// Empty reports whether the batch writes nothing.
func (b *Batch) Empty() bool {
	return len(b.Blobs) == 0 && len(b.Nodes) == 0 && len(b.Audits) == 0
}

// Validate checks what can be checked without storage: nodes are
// frozen and unique per dagnum, and blob lengths match their data.
// Implementations call it at the start of Apply.
func (b *Batch) Validate() error {
	for i := range b.Blobs {
		blob := &b.Blobs[i]
		if blob.HID.IsZero() {
			return fmt.Errorf("batch blob %d has no hid: %w", i, repoerr.ErrInvalidArgument)
		}
		if int64(len(blob.Data)) != blob.LenEncoded {
			return fmt.Errorf("batch blob %s: %d bytes, declared %d: %w",
				blob.HID.Short(), len(blob.Data), blob.LenEncoded, repoerr.ErrLengthMismatch)
		}
		if !blob.Encoding.Valid() {
			return fmt.Errorf("batch blob %s: encoding %s: %w", blob.HID.Short(), blob.Encoding, repoerr.ErrInvalidArgument)
		}
	}

	type key struct {
		dagnum dagnode.Dagnum
		id     hid.HID
	}
	seen := make(map[key]bool, len(b.Nodes))
	for _, node := range b.Nodes {
		if !node.Frozen() {
			return fmt.Errorf("batch node %s: %w", node.ID.Short(), repoerr.ErrNotFrozen)
		}
		k := key{node.Dagnum, node.ID}
		if seen[k] {
			return fmt.Errorf("batch inserts %s twice in dagnum %s: %w",
				node.ID.Short(), node.Dagnum, repoerr.ErrDagnodeAlreadyExists)
		}
		seen[k] = true
	}
	return nil
}

// SparseError builds the error for a node whose parent is missing.
func SparseError(node *dagnode.Dagnode, parent hid.HID) error {
	return fmt.Errorf("dagnode %s in dagnum %s: parent %s is not stored: %w",
		node.ID.Short(), node.Dagnum, parent.Short(), repoerr.ErrCannotCreateSparseDag)
}

// DuplicateError builds the error for a node that is already stored.
func DuplicateError(node *dagnode.Dagnode) error {
	return fmt.Errorf("dagnode %s in dagnum %s: %w", node.ID.Short(), node.Dagnum, repoerr.ErrDagnodeAlreadyExists)
}

// BlobNotFound builds the error for an absent blob.
func BlobNotFound(id hid.HID) error {
	return fmt.Errorf("blob %s: %w", id.Short(), repoerr.ErrBlobNotFound)
}

// DagnodeNotFound builds the error for an absent node.
func DagnodeNotFound(dagnum dagnode.Dagnum, id hid.HID) error {
	return fmt.Errorf("dagnode %s in dagnum %s: %w", id.Short(), dagnum, repoerr.ErrDagnodeNotFound)
}
