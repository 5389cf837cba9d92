// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"slices"
	"testing"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

func nodeIDs(nodes []*dagnode.Dagnode) []hid.HID {
	ids := make([]hid.HID, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}

func TestRootAndChild(t *testing.T) {
	for _, storageName := range storageNames {
		t.Run(storageName, func(t *testing.T) {
			ctx := context.Background()
			r := newRepoOn(t, storageName, CreateParams{}, Options{})

			a := commit(t, r, testDagnum, "A")
			b := commit(t, r, testDagnum, "B", "A")
			if a.Generation != 0 || b.Generation != 1 {
				t.Errorf("generations A=%d B=%d, want 0 and 1", a.Generation, b.Generation)
			}
			if a.Revision != 1 || b.Revision != 2 {
				t.Errorf("revisions A=%d B=%d, want 1 and 2", a.Revision, b.Revision)
			}

			leaves, err := r.FetchDagLeaves(ctx, testDagnum)
			if err != nil {
				t.Fatalf("FetchDagLeaves: %v", err)
			}
			expectHIDs(t, "leaves", leaves, idsOf(r, "B"))

			children, err := r.FetchDagnodeChildren(ctx, testDagnum, a.ID)
			if err != nil {
				t.Fatalf("FetchDagnodeChildren: %v", err)
			}
			expectHIDs(t, "children of A", children, idsOf(r, "B"))

			other, err := r.FetchDagLeaves(ctx, dagnode.Branches)
			if err != nil {
				t.Fatalf("FetchDagLeaves(other dagnum): %v", err)
			}
			if len(other) != 0 {
				t.Errorf("untouched dagnum has leaves %v", other)
			}
		})
	}
}

func TestIndependentRootsHaveGenerationZero(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	commit(t, r, testDagnum, "A")
	commit(t, r, testDagnum, "B", "A")
	second := commit(t, r, testDagnum, "second root")
	if second.Generation != 0 {
		t.Errorf("second root generation = %d, want 0", second.Generation)
	}
	merge := commit(t, r, testDagnum, "merge", "B", "second root")
	if merge.Generation != 2 {
		t.Errorf("merge generation = %d, want 2", merge.Generation)
	}
	leaves, err := r.FetchDagLeaves(ctx, testDagnum)
	if err != nil {
		t.Fatalf("FetchDagLeaves: %v", err)
	}
	expectHIDs(t, "leaves", leaves, idsOf(r, "merge"))
}

func TestDuplicateDagnodeRejected(t *testing.T) {
	r := newRepo(t)
	commit(t, r, testDagnum, "A")
	tx := begin(t, r)
	if err := tx.StoreDagnode(frozenNode(t, r, testDagnum, "A")); err != nil {
		t.Fatalf("StoreDagnode: %v", err)
	}
	_, err := tx.Commit(context.Background())
	expectError(t, "duplicate", err, repoerr.ErrDagnodeAlreadyExists)
	expectKind(t, "duplicate", err, repoerr.Consistency)
}

func TestFetchDagnodeQueries(t *testing.T) {
	ctx := context.Background()
	r := newRepoOn(t, "fs", CreateParams{}, Options{})
	// A - B - D
	//  \- C -/
	commit(t, r, testDagnum, "A")
	commit(t, r, testDagnum, "B", "A")
	commit(t, r, testDagnum, "C", "A")
	commit(t, r, testDagnum, "D", "B", "C")

	ids, err := r.FetchDagnodeIDs(ctx, testDagnum, 1, 1)
	if err != nil {
		t.Fatalf("FetchDagnodeIDs: %v", err)
	}
	expectHIDs(t, "generation 1", ids, sortedIDsOf(r, "B", "C"))

	ids, err = r.FetchDagnodeIDs(ctx, testDagnum, 0, 10)
	if err != nil {
		t.Fatalf("FetchDagnodeIDs: %v", err)
	}
	if len(ids) != 4 || ids[0] != idOf(r, "A") || ids[3] != idOf(r, "D") {
		t.Errorf("all generations = %v", ids)
	}
	_, err = r.FetchDagnodeIDs(ctx, testDagnum, 3, 1)
	expectKind(t, "inverted range", err, repoerr.Invalid)

	chrono, err := r.FetchChronoDagnodeList(ctx, testDagnum, 2, 2)
	if err != nil {
		t.Fatalf("FetchChronoDagnodeList: %v", err)
	}
	expectHIDs(t, "revisions 2..3", chrono, idsOf(r, "B", "C"))
	chrono, err = r.FetchChronoDagnodeList(ctx, testDagnum, 4, 10)
	if err != nil {
		t.Fatalf("FetchChronoDagnodeList: %v", err)
	}
	expectHIDs(t, "revisions from 4", chrono, idsOf(r, "D"))
	_, err = r.FetchChronoDagnodeList(ctx, testDagnum, 0, 1)
	expectKind(t, "revision 0", err, repoerr.Invalid)

	nodes, err := r.FetchDagnodes(ctx, testDagnum, idsOf(r, "D", "A"))
	if err != nil {
		t.Fatalf("FetchDagnodes: %v", err)
	}
	expectHIDs(t, "FetchDagnodes", nodeIDs(nodes), idsOf(r, "D", "A"))
	if !slices.Equal(nodes[0].Parents, sortedIDsOf(r, "B", "C")) {
		t.Errorf("D parents = %v", nodes[0].Parents)
	}
	_, err = r.FetchDagnodes(ctx, testDagnum, idsOf(r, "A", "missing"))
	expectError(t, "FetchDagnodes with a missing id", err, repoerr.ErrDagnodeNotFound)

	_, err = r.FetchDagnodeChildren(ctx, testDagnum, idOf(r, "missing"))
	expectError(t, "children of a missing node", err, repoerr.ErrDagnodeNotFound)

	count, err := r.DagnodeCount(ctx, testDagnum)
	if err != nil || count != 4 {
		t.Errorf("DagnodeCount = %d, %v", count, err)
	}
	dagnums, err := r.ListDagnums(ctx)
	if err != nil {
		t.Fatalf("ListDagnums: %v", err)
	}
	if !slices.Equal(dagnums, []dagnode.Dagnum{testDagnum}) {
		t.Errorf("ListDagnums = %v", dagnums)
	}
}

func TestFindNewDagnodesSince(t *testing.T) {
	ctx := context.Background()
	r := newRepoOn(t, "badger", CreateParams{}, Options{})
	// A - B - C
	//  \- D
	commit(t, r, testDagnum, "A")
	commit(t, r, testDagnum, "B", "A")
	commit(t, r, testDagnum, "C", "B")
	commit(t, r, testDagnum, "D", "A")

	tests := []struct {
		name  string
		since []string
		want  []string
	}{
		{"everything", nil, []string{"A", "B", "D", "C"}},
		{"since B", []string{"B"}, []string{"D", "C"}},
		{"since both leaves", []string{"C", "D"}, nil},
		{"since root", []string{"A"}, []string{"B", "D", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := r.FindNewDagnodesSince(ctx, testDagnum, idsOf(r, tt.since...))
			if err != nil {
				t.Fatalf("FindNewDagnodesSince: %v", err)
			}
			got := nodeIDs(found)
			want := idsOf(r, tt.want...)
			if !sameMembers(got, want) {
				t.Errorf("new = %v, want %v", got, want)
			}
			for i := 1; i < len(found); i++ {
				if found[i-1].Generation > found[i].Generation {
					t.Errorf("result not ordered by generation: %v", got)
				}
			}
		})
	}

	_, err := r.FindNewDagnodesSince(ctx, testDagnum, idsOf(r, "unknown"))
	expectError(t, "unknown starting node", err, repoerr.ErrDagnodeNotFound)
}

func sameMembers(a, b []hid.HID) bool {
	return slices.Equal(hid.NewSet(a...).Sorted(), hid.NewSet(b...).Sorted()) && len(a) == len(b)
}

func TestRecomputeLeavesAgrees(t *testing.T) {
	ctx := context.Background()
	for _, storageName := range storageNames {
		t.Run(storageName, func(t *testing.T) {
			r := newRepoOn(t, storageName, CreateParams{}, Options{})
			commit(t, r, testDagnum, "A")
			commit(t, r, testDagnum, "B", "A")
			commit(t, r, testDagnum, "C", "A")

			leaves, changed, err := r.RecomputeLeaves(ctx, testDagnum)
			if err != nil {
				t.Fatalf("RecomputeLeaves: %v", err)
			}
			if changed {
				t.Error("incrementally maintained leaves differ from a full scan")
			}
			expectHIDs(t, "leaves", leaves, sortedIDsOf(r, "B", "C"))
		})
	}
}
