// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagfrag

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

const testDagnum dagnode.Dagnum = 5

func node(id string, generation int64, parents ...string) *dagnode.Dagnode {
	parentIDs := make([]hid.HID, len(parents))
	for i, parent := range parents {
		parentIDs[i] = hid.HID(parent)
	}
	return dagnode.Stored(testDagnum, hid.HID(id), parentIDs, generation, 0)
}

// presentIn answers presence queries from a fixed set.
func presentIn(ids ...string) PresenceFunc {
	set := hid.NewSet()
	for _, id := range ids {
		set.Add(hid.HID(id))
	}
	return func(_ context.Context, query []hid.HID) (hid.Set, error) {
		found := hid.NewSet()
		for _, id := range query {
			if set.Has(id) {
				found.Add(id)
			}
		}
		return found, nil
	}
}

func mustAdd(t *testing.T, f *Fragment, nodes ...*dagnode.Dagnode) {
	t.Helper()
	for _, n := range nodes {
		if err := f.Add(n); err != nil {
			t.Fatalf("Add(%s): %v", n.ID, err)
		}
	}
}

func TestCheckScenario(t *testing.T) {
	ctx := context.Background()

	// C with declared parent A, against an empty DAG.
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, node("c", 1, "a"))

	result, err := Check(ctx, fragment, presentIn())
	if err != nil {
		t.Fatal(err)
	}
	if result.Connected {
		t.Error("fragment {C} connected against an empty DAG")
	}
	if !slices.Equal(result.MissingFringe, []hid.HID{"a"}) {
		t.Errorf("MissingFringe = %v, want [a]", result.MissingFringe)
	}
	if len(result.WouldInsert) != 0 {
		t.Errorf("WouldInsert set for a disconnected fragment: %v", result.WouldInsert)
	}

	// Grow with A: connected, both members new.
	mustAdd(t, fragment, node("a", 0))
	result, err = Check(ctx, fragment, presentIn())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Connected || len(result.MissingFringe) != 0 {
		t.Errorf("grown fragment: %+v", result)
	}
	if !slices.Equal(result.WouldInsert, []hid.HID{"a", "c"}) {
		t.Errorf("WouldInsert = %v, want [a c]", result.WouldInsert)
	}
}

func TestCheckOverlapIsNotInserted(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, node("b", 1, "a"), node("c", 2, "b"), node("d", 2, "b", "x"))

	result, err := Check(context.Background(), fragment, presentIn("a", "b", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Connected {
		t.Fatalf("not connected: %+v", result)
	}
	if !slices.Equal(result.WouldInsert, []hid.HID{"c", "d"}) {
		t.Errorf("WouldInsert = %v, want [c d]", result.WouldInsert)
	}
}

func TestCheckPresenceError(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, node("a", 0))
	failing := func(context.Context, []hid.HID) (hid.Set, error) { return nil, repoerr.ErrDatabaseBusy }
	if _, err := Check(context.Background(), fragment, failing); !errors.Is(err, repoerr.ErrDatabaseBusy) {
		t.Errorf("err = %v", err)
	}
}

func TestAddRules(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, node("b", 1, "a"))

	// Same node again is fine.
	mustAdd(t, fragment, node("b", 1, "a"))
	if fragment.Len() != 1 {
		t.Errorf("Len = %d after duplicate add", fragment.Len())
	}

	if err := fragment.Add(node("b", 1, "z")); !errors.Is(err, repoerr.ErrMalformedFragment) {
		t.Errorf("conflicting parents: err = %v", err)
	}
	if err := fragment.Add(dagnode.New(testDagnum, "q")); !errors.Is(err, repoerr.ErrNotFrozen) {
		t.Errorf("unfrozen: err = %v", err)
	}
	other := dagnode.Stored(testDagnum+1, "r", nil, 0, 0)
	if err := fragment.Add(other); !errors.Is(err, repoerr.ErrInvalidArgument) {
		t.Errorf("wrong dagnum: err = %v", err)
	}
}

func TestAddDropsRevision(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, dagnode.Stored(testDagnum, "a", nil, 0, 17))
	member, ok := fragment.Member("a")
	if !ok {
		t.Fatal("member a missing")
	}
	if member.Revision != 0 {
		t.Errorf("member revision = %d, want 0", member.Revision)
	}
}

func TestHeadsAndOpenEdge(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment,
		node("b", 1, "a"),
		node("c", 1, "a"),
		node("d", 2, "b", "c"),
		node("e", 2, "c", "y"),
	)
	if got := fragment.Heads(); !slices.Equal(got, []hid.HID{"d", "e"}) {
		t.Errorf("Heads = %v", got)
	}
	if got := fragment.OpenEdge(); !slices.Equal(got, []hid.HID{"a", "y"}) {
		t.Errorf("OpenEdge = %v", got)
	}
}

func TestInsertionOrderParentsFirst(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	// Declared generations are deliberately wrong; ordering must follow edges.
	mustAdd(t, fragment,
		node("d", 0, "b", "c"),
		node("c", 5, "a"),
		node("b", 9, "a"),
		node("a", 3),
	)
	order, err := fragment.InsertionOrder()
	if err != nil {
		t.Fatal(err)
	}
	position := make(map[hid.HID]int)
	for i, n := range order {
		position[n.ID] = i
	}
	for _, n := range order {
		for _, parent := range n.Parents {
			if p, ok := position[parent]; ok && p > position[n.ID] {
				t.Errorf("%s ordered before its parent %s", n.ID, parent)
			}
		}
	}
	if order[0].ID != "a" || order[3].ID != "d" {
		t.Errorf("order = %v", ids(order))
	}
}

func TestInsertionOrderDetectsCycle(t *testing.T) {
	fragment := New("repo", "admin", testDagnum)
	mustAdd(t, fragment, node("a", 0, "b"), node("b", 0, "a"))
	if _, err := fragment.InsertionOrder(); !errors.Is(err, repoerr.ErrMalformedFragment) {
		t.Errorf("err = %v, want ErrMalformedFragment", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	fragment := New("repo-1", "admin-1", testDagnum)
	mustAdd(t, fragment, node("a", 0), node("b", 1, "a"), node("c", 2, "b"))

	data, err := fragment.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.RepoID != "repo-1" || decoded.AdminID != "admin-1" || decoded.Dagnum != testDagnum {
		t.Errorf("header = %q %q %v", decoded.RepoID, decoded.AdminID, decoded.Dagnum)
	}
	if !slices.Equal(decoded.IDs(), fragment.IDs()) {
		t.Errorf("IDs = %v, want %v", decoded.IDs(), fragment.IDs())
	}
	c, _ := decoded.Member("c")
	if c.Generation != 2 || !c.HasParent("b") || !c.Frozen() {
		t.Errorf("member c = %+v", c)
	}

	again, err := decoded.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Error("re-marshaled fragment differs")
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	tests := map[string][]byte{
		"garbage": []byte("not cbor at all"),
		"empty":   nil,
	}
	for name, data := range tests {
		if _, err := Unmarshal(data); !errors.Is(err, repoerr.ErrMalformedFragment) {
			t.Errorf("%s: err = %v, want ErrMalformedFragment", name, err)
		}
	}
}

func ids(nodes []*dagnode.Dagnode) []hid.HID {
	out := make([]hid.HID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestUnmarshalRejectsOtherVersions(t *testing.T) {
	data, err := codec.Marshal(wireFragment{Version: FormatVersion + 1, Dagnum: uint64(testDagnum)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, repoerr.ErrMalformedFragment) {
		t.Errorf("err = %v, want ErrMalformedFragment", err)
	}
}
