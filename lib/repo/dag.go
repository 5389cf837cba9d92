// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"cmp"
	"context"
	"slices"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// FetchDagnode returns a stored node.
func (r *Repo) FetchDagnode(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error) {
	const op = "fetch_dagnode"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	node, err := instance.FetchDagnode(ctx, dagnum, id)
	if err != nil {
		return nil, repoerr.E(op, err)
	}
	return node, nil
}

// FetchDagnodes returns the stored nodes for ids, in input order. Any
// absent id fails the call.
func (r *Repo) FetchDagnodes(ctx context.Context, dagnum dagnode.Dagnum, ids []hid.HID) ([]*dagnode.Dagnode, error) {
	const op = "fetch_dagnodes"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	nodes := make([]*dagnode.Dagnode, 0, len(ids))
	for _, id := range ids {
		node, err := instance.FetchDagnode(ctx, dagnum, id)
		if err != nil {
			return nil, repoerr.E(op, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// FetchDagLeaves returns the nodes of dagnum that have no children,
// sorted. An empty dagnum has no leaves.
func (r *Repo) FetchDagLeaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error) {
	const op = "fetch_dag_leaves"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	leaves, err := instance.Leaves(ctx, dagnum)
	return leaves, repoerr.E(op, err)
}

// FetchDagnodeChildren returns the children of id, sorted. It reads an
// index in reverse and is meant for inspection, not for walking the
// graph.
func (r *Repo) FetchDagnodeChildren(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]hid.HID, error) {
	const op = "fetch_dagnode_children"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	if _, err := instance.FetchDagnode(ctx, dagnum, id); err != nil {
		return nil, repoerr.E(op, err)
	}
	children, err := instance.Children(ctx, dagnum, id)
	return children, repoerr.E(op, err)
}

// FetchDagnodeIDs returns the ids whose generation lies in
// [minGeneration, maxGeneration], ordered by generation then id.
func (r *Repo) FetchDagnodeIDs(ctx context.Context, dagnum dagnode.Dagnum, minGeneration, maxGeneration int64) ([]hid.HID, error) {
	const op = "fetch_dagnode_ids"
	if minGeneration < 0 || maxGeneration < minGeneration {
		return nil, repoerr.Errorf(op, "generation range [%d, %d]: %w", minGeneration, maxGeneration, repoerr.ErrInvalidArgument)
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	ids, err := instance.DagnodesByGeneration(ctx, dagnum, minGeneration, maxGeneration)
	return ids, repoerr.E(op, err)
}

// FetchChronoDagnodeList returns up to count ids in the order this
// instance inserted them, starting at revision startRevision.
func (r *Repo) FetchChronoDagnodeList(ctx context.Context, dagnum dagnode.Dagnum, startRevision int64, count int) ([]hid.HID, error) {
	const op = "fetch_chrono_dagnode_list"
	if startRevision < 1 || count < 0 {
		return nil, repoerr.Errorf(op, "start revision %d, count %d: %w", startRevision, count, repoerr.ErrInvalidArgument)
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids, err := instance.ChronoList(ctx, dagnum, startRevision, count)
	return ids, repoerr.E(op, err)
}

// FindNewDagnodesSince returns every node of dagnum that is neither one
// of since nor an ancestor of one, ordered by generation then id.
// Empty since returns the whole DAG. Every id in since must be stored.
//
// The walk starts at the leaves and descends by generation. A node
// reached from since is known, and so are its ancestors; the walk ends
// once everything left in the queue is known.
func (r *Repo) FindNewDagnodesSince(ctx context.Context, dagnum dagnode.Dagnum, since []hid.HID) ([]*dagnode.Dagnode, error) {
	const op = "find_new_dagnodes_since"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}

	var (
		queue   generationQueue
		known   = make(map[hid.HID]bool)
		unknown int
	)
	enqueue := func(id hid.HID, isKnown bool) error {
		if wasKnown, queued := known[id]; queued {
			if isKnown && !wasKnown {
				known[id] = true
				unknown--
			}
			return nil
		}
		node, err := instance.FetchDagnode(ctx, dagnum, id)
		if err != nil {
			return err
		}
		known[id] = isKnown
		if !isKnown {
			unknown++
		}
		queue.push(node)
		return nil
	}

	for _, id := range since {
		if err := enqueue(id, true); err != nil {
			return nil, repoerr.Errorf(op, "starting node %s: %w", id.Short(), err)
		}
	}
	leaves, err := instance.Leaves(ctx, dagnum)
	if err != nil {
		return nil, repoerr.E(op, err)
	}
	for _, id := range leaves {
		if err := enqueue(id, false); err != nil {
			return nil, repoerr.E(op, err)
		}
	}

	var found []*dagnode.Dagnode
	for unknown > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue.pop()
		isKnown := known[node.ID]
		if !isKnown {
			unknown--
			found = append(found, node)
		}
		for _, parent := range node.Parents {
			if err := enqueue(parent, isKnown); err != nil {
				return nil, repoerr.Errorf(op, "parent of %s: %w", node.ID.Short(), err)
			}
		}
	}

	slices.SortFunc(found, compareByGeneration)
	return found, nil
}

func compareByGeneration(a, b *dagnode.Dagnode) int {
	return cmp.Or(cmp.Compare(a.Generation, b.Generation), cmp.Compare(a.ID, b.ID))
}

// ListDagnums returns every dagnum that holds at least one node.
func (r *Repo) ListDagnums(ctx context.Context) ([]dagnode.Dagnum, error) {
	const op = "list_dagnums"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	dagnums, err := instance.Dagnums(ctx)
	return dagnums, repoerr.E(op, err)
}

// DagnodeCount returns the number of nodes in dagnum.
func (r *Repo) DagnodeCount(ctx context.Context, dagnum dagnode.Dagnum) (int64, error) {
	const op = "dagnode_count"
	instance, _, err := r.backend(op)
	if err != nil {
		return 0, err
	}
	count, err := instance.DagnodeCount(ctx, dagnum)
	return count, repoerr.E(op, err)
}

// ListAudits returns the audits recorded for a node, oldest first.
func (r *Repo) ListAudits(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]dagnode.Audit, error) {
	const op = "list_audits"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	audits, err := instance.Audits(ctx, dagnum, id)
	return audits, repoerr.E(op, err)
}

// RecomputeLeaves rebuilds the leaf set of dagnum from a full scan and
// reports whether the stored set differed. It is slow on large DAGs.
func (r *Repo) RecomputeLeaves(ctx context.Context, dagnum dagnode.Dagnum) (leaves []hid.HID, changed bool, err error) {
	const op = "recompute_leaves"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, false, err
	}
	stored, err := instance.Leaves(ctx, dagnum)
	if err != nil {
		return nil, false, repoerr.E(op, err)
	}
	err = r.retry(ctx, op, func() error {
		var err error
		leaves, err = instance.RecomputeLeaves(ctx, dagnum)
		return err
	})
	if err != nil {
		return nil, false, repoerr.E(op, err)
	}
	changed = !slices.Equal(stored, leaves)
	if changed {
		r.logger.Warn("leaf set repaired",
			"dagnum", dagnum.String(),
			"stored", len(stored),
			"computed", len(leaves),
		)
	}
	return leaves, changed, nil
}
