// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"sync"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// TxFlags modify transaction behavior.
type TxFlags uint8

const (
	// TxCloning marks a transaction that populates an empty repository
	// from another one. StoreDagfrag into an empty dagnum then commits
	// the whole fragment at once.
	TxCloning TxFlags = 1 << iota
)

type txState uint8

const (
	txOpen txState = iota
	txCommitted
	txAborted
)

// Tx stages blobs, at most one dagnode per dagnum, and audits. Nothing
// is visible to other handles until Commit, which applies everything
// in one backend commit. Reads through the owning Repo see the staged
// blobs while the transaction is open.
type Tx struct {
	repo  *Repo
	flags TxFlags

	mu      sync.Mutex
	state   txState
	blobs   []storage.Blob
	staged  map[hid.HID]int
	nodes   []*dagnode.Dagnode
	audits  []dagnode.Audit
	writers int
}

// CommitResult reports what a commit wrote.
type CommitResult struct {
	// Revisions maps each committed dagnode to its revision number.
	Revisions map[dagnode.Dagnum]int64

	// BlobsStored counts blobs that were new to the repository.
	BlobsStored int
}

// BeginTx opens a transaction. A handle holds at most one.
func (r *Repo) BeginTx(flags TxFlags) (*Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return nil, repoerr.E("begin_tx", repoerr.ErrHandleClosed)
	case r.instance == nil:
		return nil, repoerr.E("begin_tx", repoerr.ErrNotOpen)
	case r.tx != nil:
		return nil, repoerr.E("begin_tx", repoerr.ErrOnlyOneTx)
	}
	tx := &Tx{
		repo:   r,
		flags:  flags,
		staged: make(map[hid.HID]int),
	}
	r.tx = tx
	return tx, nil
}

// Cloning reports whether the transaction was opened with TxCloning.
func (t *Tx) Cloning() bool { return t.flags&TxCloning != 0 }

// check verifies the transaction is open and owned by r.
func (t *Tx) check(r *Repo, op string) error {
	if t == nil {
		return repoerr.Errorf(op, "nil transaction: %w", repoerr.ErrNotInTx)
	}
	if t.repo != r {
		return repoerr.Errorf(op, "transaction belongs to another handle: %w", repoerr.ErrNotInTx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return repoerr.E(op, repoerr.ErrNotInTx)
	}
	return nil
}

// finish moves the transaction to a final state. The caller holds
// repo.mu.
func (t *Tx) finish(state txState) {
	t.mu.Lock()
	t.state = state
	t.blobs, t.staged, t.nodes, t.audits = nil, nil, nil, nil
	t.mu.Unlock()
}

// stageBlob adds a blob unless one with the same HID is staged.
func (t *Tx) stageBlob(blob storage.Blob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.staged[blob.HID]; ok {
		return
	}
	t.staged[blob.HID] = len(t.blobs)
	t.blobs = append(t.blobs, blob)
}

// stagedBlob returns a blob staged in the transaction.
func (t *Tx) stagedBlob(id hid.HID) (storage.Blob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.staged[id]
	if !ok {
		return storage.Blob{}, false
	}
	return t.blobs[i], true
}

// stagedBlobIDs returns the HIDs of the staged blobs.
func (t *Tx) stagedBlobIDs() []hid.HID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]hid.HID, len(t.blobs))
	for i := range t.blobs {
		ids[i] = t.blobs[i].HID
	}
	return ids
}

// StoreDagnode stages a frozen node, with optional audits, for
// insertion at commit. A transaction inserts at most one node per
// dagnum.
func (t *Tx) StoreDagnode(node *dagnode.Dagnode, audits ...dagnode.Audit) error {
	const op = "store_dagnode"
	if err := t.check(t.repo, op); err != nil {
		return err
	}
	if !node.Frozen() {
		return repoerr.Errorf(op, "dagnode %s: %w", node.ID.Short(), repoerr.ErrNotFrozen)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, staged := range t.nodes {
		if staged.Dagnum == node.Dagnum {
			return repoerr.Errorf(op, "transaction already inserts %s into dagnum %s: %w",
				staged.ID.Short(), node.Dagnum, repoerr.ErrInvalidArgument)
		}
	}
	for _, audit := range audits {
		if audit.Dagnum != node.Dagnum || audit.Changeset != node.ID {
			return repoerr.Errorf(op, "audit for %s in %s does not describe dagnode %s: %w",
				audit.Changeset.Short(), audit.Dagnum, node.ID.Short(), repoerr.ErrInvalidArgument)
		}
	}
	t.nodes = append(t.nodes, node.Clone())
	t.audits = append(t.audits, audits...)
	return nil
}

// AddAudits stages audit records. Audits need not describe a node the
// transaction inserts; the node may already be stored.
func (t *Tx) AddAudits(audits ...dagnode.Audit) error {
	if err := t.check(t.repo, "add_audits"); err != nil {
		return err
	}
	t.mu.Lock()
	t.audits = append(t.audits, audits...)
	t.mu.Unlock()
	return nil
}

// Audit returns an audit of changeset by userID stamped with the
// handle's clock.
func (r *Repo) Audit(dagnum dagnode.Dagnum, changeset hid.HID, userID string) dagnode.Audit {
	return dagnode.NewAudit(dagnum, changeset, userID, r.clock.Now())
}

// Commit applies the transaction. See Repo.CommitTx.
func (t *Tx) Commit(ctx context.Context) (CommitResult, error) {
	return t.repo.CommitTx(ctx, t)
}

// Abort discards the transaction. See Repo.AbortTx.
func (t *Tx) Abort() error {
	return t.repo.AbortTx(t)
}

// CommitTx applies everything staged in tx in one backend commit: the
// blobs, each staged node with its generation, revision, edges and
// leaf update, and the audits. Busy backends are retried. Whether it
// succeeds or fails, the transaction is finished afterwards.
func (r *Repo) CommitTx(ctx context.Context, tx *Tx) (CommitResult, error) {
	const op = "commit_tx"
	if err := tx.check(r, op); err != nil {
		return CommitResult{}, err
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return CommitResult{}, err
	}

	tx.mu.Lock()
	if tx.writers > 0 {
		tx.mu.Unlock()
		return CommitResult{}, repoerr.Errorf(op, "%d blob writers are still open: %w", tx.writers, repoerr.ErrInvalidArgument)
	}
	batch := &storage.Batch{
		Blobs:  tx.blobs,
		Nodes:  make([]*dagnode.Dagnode, 0, len(tx.nodes)),
		Audits: tx.audits,
	}
	staged := tx.nodes
	tx.mu.Unlock()

	final := txAborted
	defer func() {
		r.mu.Lock()
		tx.finish(final)
		if r.tx == tx {
			r.tx = nil
		}
		r.mu.Unlock()
	}()

	for _, node := range staged {
		withGeneration, err := r.assignGeneration(ctx, instance, node, nil)
		if err != nil {
			return CommitResult{}, repoerr.E(op, err)
		}
		batch.Nodes = append(batch.Nodes, withGeneration)
	}

	var applied storage.ApplyResult
	if batch.Empty() {
		final = txCommitted
		return CommitResult{}, nil
	}
	err = r.retry(ctx, op, func() error {
		var err error
		applied, err = instance.Apply(ctx, batch)
		return err
	})
	if err != nil {
		r.logger.Debug("commit failed", "error", err)
		return CommitResult{}, repoerr.E(op, err)
	}

	final = txCommitted
	result := CommitResult{
		Revisions:   make(map[dagnode.Dagnum]int64, len(batch.Nodes)),
		BlobsStored: applied.BlobsStored,
	}
	for i, node := range batch.Nodes {
		result.Revisions[node.Dagnum] = applied.Revisions[i]
		r.logger.Debug("dagnode committed",
			"dagnum", node.Dagnum.String(),
			"hid", node.ID.Short(),
			"generation", node.Generation,
			"revision", applied.Revisions[i],
		)
	}
	return result, nil
}

// AbortTx discards tx. Nothing it staged becomes visible; fragment
// members StoreDagfrag already inserted stay.
func (r *Repo) AbortTx(tx *Tx) error {
	if err := tx.check(r, "abort_tx"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.finish(txAborted)
	if r.tx == tx {
		r.tx = nil
	}
	return nil
}

// openTx returns the handle's open transaction, if any.
func (r *Repo) openTx() *Tx {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tx
}

// assignGeneration returns a copy of node with its generation computed
// from its parents. known holds generations of nodes not yet stored
// that precede node in the same commit.
func (r *Repo) assignGeneration(ctx context.Context, instance storage.Instance, node *dagnode.Dagnode, known map[hid.HID]int64) (*dagnode.Dagnode, error) {
	generations := make([]int64, 0, len(node.Parents))
	for _, parent := range node.Parents {
		if generation, ok := known[parent]; ok {
			generations = append(generations, generation)
			continue
		}
		stored, err := instance.FetchDagnode(ctx, node.Dagnum, parent)
		if repoerr.Is(repoerr.NotFound, err) {
			return nil, storage.SparseError(node, parent)
		}
		if err != nil {
			return nil, err
		}
		generations = append(generations, stored.Generation)
	}
	withGeneration := node.Clone()
	withGeneration.Generation = dagnode.GenerationFrom(generations...)
	return withGeneration, nil
}

// StoreChangeset stores payload as a changeset blob and stages the
// dagnode it identifies, with parents, in dagnum. A non-empty userID
// adds an audit stamped with the handle's clock.
func (r *Repo) StoreChangeset(ctx context.Context, tx *Tx, dagnum dagnode.Dagnum, payload []byte, userID string, parents ...hid.HID) (*dagnode.Dagnode, error) {
	const op = "store_changeset"
	encoding := r.changeset
	if encoding.IsDelta() {
		return nil, repoerr.Errorf(op, "changesets cannot be stored as %s: %w", encoding, repoerr.ErrInvalidArgument)
	}
	id, err := r.StoreBytes(ctx, tx, payload, encoding)
	if err != nil {
		return nil, err
	}

	node := dagnode.New(dagnum, id)
	for _, parent := range parents {
		if err := node.AddParent(parent); err != nil {
			return nil, repoerr.E(op, err)
		}
	}
	if err := node.Freeze(); err != nil {
		return nil, repoerr.E(op, err)
	}

	var audits []dagnode.Audit
	if userID != "" {
		audits = append(audits, r.Audit(dagnum, id, userID))
	}
	if err := tx.StoreDagnode(node, audits...); err != nil {
		return nil, err
	}
	return node, nil
}
