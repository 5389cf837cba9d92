// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagfrag

import (
	"fmt"
	"slices"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Fragment is a set of dagnodes from one dagnum, carried between
// repositories. Members keep their parent edges and generations; a
// member's parents may or may not be members themselves. The parents
// that are not members form the fragment's open edge, which the
// receiving repository must already hold for the fragment to connect.
//
// RepoID and AdminID name the repository the fragment was built from.
// A receiver uses them to refuse history from an unrelated repository.
type Fragment struct {
	RepoID  string
	AdminID string
	Dagnum  dagnode.Dagnum

	members map[hid.HID]*dagnode.Dagnode
}

// New returns an empty fragment.
func New(repoID, adminID string, dagnum dagnode.Dagnum) *Fragment {
	return &Fragment{
		RepoID:  repoID,
		AdminID: adminID,
		Dagnum:  dagnum,
		members: make(map[hid.HID]*dagnode.Dagnode),
	}
}

// Add makes node a member. The node must be frozen and belong to the
// fragment's dagnum. Adding a node that is already a member is a no-op
// when the parent lists agree and an error when they differ. The
// fragment keeps its own copy without the revision number, which is
// local to the repository instance that assigned it.
func (f *Fragment) Add(node *dagnode.Dagnode) error {
	if !node.Frozen() {
		return fmt.Errorf("add %s to fragment: %w", node.ID.Short(), repoerr.ErrNotFrozen)
	}
	if node.Dagnum != f.Dagnum {
		return fmt.Errorf("add %s to fragment of dagnum %s: node belongs to %s: %w",
			node.ID.Short(), f.Dagnum, node.Dagnum, repoerr.ErrInvalidArgument)
	}
	if existing, ok := f.members[node.ID]; ok {
		if !slices.Equal(existing.Parents, node.Parents) {
			return fmt.Errorf("fragment member %s added twice with different parents: %w",
				node.ID.Short(), repoerr.ErrMalformedFragment)
		}
		return nil
	}
	member := dagnode.Stored(node.Dagnum, node.ID, slices.Clone(node.Parents), node.Generation, 0)
	f.members[node.ID] = member
	return nil
}

// Len returns the number of members.
func (f *Fragment) Len() int { return len(f.members) }

// Contains reports whether id is a member.
func (f *Fragment) Contains(id hid.HID) bool {
	_, ok := f.members[id]
	return ok
}

// Member returns the member with the given id.
func (f *Fragment) Member(id hid.HID) (*dagnode.Dagnode, bool) {
	node, ok := f.members[id]
	return node, ok
}

// IDs returns the member ids, sorted.
func (f *Fragment) IDs() []hid.HID {
	ids := make([]hid.HID, 0, len(f.members))
	for id := range f.members {
		ids = append(ids, id)
	}
	hid.Sort(ids)
	return ids
}

// Members returns the members ordered by generation, then id.
func (f *Fragment) Members() []*dagnode.Dagnode {
	nodes := make([]*dagnode.Dagnode, 0, len(f.members))
	for _, node := range f.members {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, func(a, b *dagnode.Dagnode) int {
		if a.Generation != b.Generation {
			if a.Generation < b.Generation {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return nodes
}

// Heads returns the members that are not a parent of any other member,
// sorted.
func (f *Fragment) Heads() []hid.HID {
	parented := hid.NewSet()
	for _, node := range f.members {
		for _, parent := range node.Parents {
			parented.Add(parent)
		}
	}
	heads := hid.NewSet()
	for id := range f.members {
		if !parented.Has(id) {
			heads.Add(id)
		}
	}
	return heads.Sorted()
}

// OpenEdge returns the parents referenced by members that are not
// members themselves, sorted. A receiving repository must hold all of
// them for the fragment to connect.
func (f *Fragment) OpenEdge() []hid.HID {
	edge := hid.NewSet()
	for _, node := range f.members {
		for _, parent := range node.Parents {
			if !f.Contains(parent) {
				edge.Add(parent)
			}
		}
	}
	return edge.Sorted()
}

// InsertionOrder returns the members so that every member comes after
// all of its parents that are members. Ties are broken by id so the
// order is deterministic. A parent cycle among members, which no real
// DAG can produce, is reported as ErrMalformedFragment.
func (f *Fragment) InsertionOrder() ([]*dagnode.Dagnode, error) {
	pending := make(map[hid.HID]int, len(f.members))
	children := make(map[hid.HID][]hid.HID, len(f.members))
	for id, node := range f.members {
		for _, parent := range node.Parents {
			if f.Contains(parent) {
				pending[id]++
				children[parent] = append(children[parent], id)
			}
		}
	}

	var ready []hid.HID
	for id := range f.members {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	hid.Sort(ready)

	order := make([]*dagnode.Dagnode, 0, len(f.members))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, f.members[id])

		var released []hid.HID
		for _, child := range children[id] {
			pending[child]--
			if pending[child] == 0 {
				released = append(released, child)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			hid.Sort(ready)
		}
	}

	if len(order) != len(f.members) {
		return nil, fmt.Errorf("fragment for dagnum %s has a parent cycle: %w", f.Dagnum, repoerr.ErrMalformedFragment)
	}
	return order, nil
}
