// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"container/heap"

	"github.com/bureau-foundation/repostore/lib/dagnode"
)

// generationQueue pops the node with the highest generation first, so
// every node leaves the queue after all of its queued descendants.
// Ties pop in descending id order.
type generationQueue []*dagnode.Dagnode

func (q generationQueue) Len() int { return len(q) }

func (q generationQueue) Less(i, j int) bool {
	if q[i].Generation != q[j].Generation {
		return q[i].Generation > q[j].Generation
	}
	return q[i].ID > q[j].ID
}

func (q generationQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *generationQueue) Push(x any) { *q = append(*q, x.(*dagnode.Dagnode)) }

func (q *generationQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return last
}

func (q *generationQueue) push(node *dagnode.Dagnode) { heap.Push(q, node) }

func (q *generationQueue) pop() *dagnode.Dagnode { return heap.Pop(q).(*dagnode.Dagnode) }
