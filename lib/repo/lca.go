// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// MaxLCAInputs bounds the number of distinct nodes GetDagLCA accepts.
const MaxLCAInputs = 64

// LCAResult holds the minimal common ancestors of a set of nodes.
type LCAResult struct {
	Dagnum dagnode.Dagnum `json:"dagnum"`

	// Inputs are the distinct input ids, sorted.
	Inputs []hid.HID `json:"inputs"`

	// Ancestors are the common ancestors none of which is an ancestor
	// of another, sorted. Criss-cross merges leave more than one.
	Ancestors []hid.HID `json:"ancestors"`
}

// Single returns the only minimal common ancestor, or
// ErrDaglcaNotUnique.
func (l *LCAResult) Single() (hid.HID, error) {
	if len(l.Ancestors) != 1 {
		return "", fmt.Errorf("%d candidates %v: %w", len(l.Ancestors), l.Ancestors, repoerr.ErrDaglcaNotUnique)
	}
	return l.Ancestors[0], nil
}

type lcaMark struct {
	node  *dagnode.Dagnode
	bits  uint64
	stale bool
}

// GetDagLCA finds the minimal common ancestors of nodes in dagnum.
//
// Each input gets one bit. The walk pops nodes by descending
// generation, so a node's bits are complete when it is popped: they
// name the inputs it is an ancestor of. A node carrying every bit is a
// common ancestor; its own ancestors are marked stale, since they
// cannot be minimal. The walk ends when only stale nodes are queued.
// An input reached from another input fails with
// ErrDaglcaLeafIsAncestor.
func (r *Repo) GetDagLCA(ctx context.Context, dagnum dagnode.Dagnum, nodes []hid.HID) (*LCAResult, error) {
	const op = "get_dag_lca"
	inputs := hid.NewSet(nodes...).Sorted()
	if len(inputs) < 2 {
		return nil, repoerr.Errorf(op, "%d distinct nodes, need at least 2: %w", len(inputs), repoerr.ErrInvalidArgument)
	}
	if len(inputs) > MaxLCAInputs {
		return nil, repoerr.Errorf(op, "%d distinct nodes, at most %d: %w", len(inputs), MaxLCAInputs, repoerr.ErrInvalidArgument)
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}

	var (
		queue generationQueue
		marks = make(map[hid.HID]*lcaMark)
		live  int
	)
	inputBit := make(map[hid.HID]uint64, len(inputs))
	for i, id := range inputs {
		node, err := instance.FetchDagnode(ctx, dagnum, id)
		if err != nil {
			return nil, repoerr.E(op, err)
		}
		bit := uint64(1) << i
		inputBit[id] = bit
		marks[id] = &lcaMark{node: node, bits: bit}
		queue.push(node)
		live++
	}
	all := uint64(1)<<len(inputs) - 1

	// reach propagates bits, and staleness, from a popped node to one
	// parent.
	reach := func(parent hid.HID, bits uint64, stale bool) error {
		mark, ok := marks[parent]
		if !ok {
			node, err := instance.FetchDagnode(ctx, dagnum, parent)
			if err != nil {
				return err
			}
			mark = &lcaMark{node: node}
			marks[parent] = mark
			queue.push(node)
			live++
		}
		mark.bits |= bits
		if stale && !mark.stale {
			mark.stale = true
			live--
		}
		return nil
	}

	var ancestors []hid.HID
	for live > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue.pop()
		mark := marks[node.ID]
		if !mark.stale {
			live--
		}

		if bit, isInput := inputBit[node.ID]; isInput && mark.bits != bit {
			return nil, repoerr.Errorf(op, "%s is an ancestor of another input: %w", node.ID.Short(), repoerr.ErrDaglcaLeafIsAncestor)
		}

		stale := mark.stale
		if !stale && mark.bits == all {
			ancestors = append(ancestors, node.ID)
			stale = true
		}
		for _, parent := range node.Parents {
			if err := reach(parent, mark.bits, stale); err != nil {
				return nil, repoerr.Errorf(op, "parent of %s: %w", node.ID.Short(), err)
			}
		}
	}

	if len(ancestors) == 0 {
		return nil, repoerr.Errorf(op, "%d nodes in dagnum %s: %w", len(inputs), dagnum, repoerr.ErrDaglcaNoAncestor)
	}
	hid.Sort(ancestors)
	r.logger.Debug("common ancestors found", "dagnum", dagnum.String(), "inputs", len(inputs), "ancestors", len(ancestors))
	return &LCAResult{Dagnum: dagnum, Inputs: inputs, Ancestors: ancestors}, nil
}
