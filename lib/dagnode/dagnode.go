// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagnode

import (
	"fmt"
	"slices"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Dagnode is a vertex of one DAG. Its ID is the HID of the changeset
// blob it stands for; Parents are the IDs of its parent vertices in the
// same dagnum.
//
// A node under construction is mutable. Freeze fixes it: parents are
// sorted and deduplicated, and every later mutation fails with
// ErrFrozen. Only frozen nodes can be stored, and every node read back
// from storage is frozen.
//
// Generation and Revision are assigned by the repository when the node
// is committed. Generation is 0 for a parentless node and 1 + the
// largest parent generation otherwise; Revision is the node's position
// in its dagnum's insertion order on this repository instance,
// starting at 1.
type Dagnode struct {
	Dagnum     Dagnum    `json:"dagnum"`
	ID         hid.HID   `json:"id"`
	Parents    []hid.HID `json:"parents,omitempty"`
	Generation int64     `json:"generation"`
	Revision   int64     `json:"revision,omitempty"`

	frozen bool
}

// New starts a node for the changeset identified by id.
func New(dagnum Dagnum, id hid.HID) *Dagnode {
	return &Dagnode{Dagnum: dagnum, ID: id}
}

// Stored returns a frozen node as read from storage.
func Stored(dagnum Dagnum, id hid.HID, parents []hid.HID, generation, revision int64) *Dagnode {
	node := &Dagnode{
		Dagnum:     dagnum,
		ID:         id,
		Parents:    parents,
		Generation: generation,
		Revision:   revision,
	}
	node.normalize()
	node.frozen = true
	return node
}

// AddParent records parent as a parent of n.
func (n *Dagnode) AddParent(parent hid.HID) error {
	if n.frozen {
		return fmt.Errorf("add parent %s to %s: %w", parent.Short(), n.ID.Short(), repoerr.ErrFrozen)
	}
	if parent.IsZero() {
		return fmt.Errorf("add parent to %s: empty parent id: %w", n.ID.Short(), repoerr.ErrInvalidArgument)
	}
	n.Parents = append(n.Parents, parent)
	return nil
}

// Freeze validates n and makes it immutable. A node may not list
// itself as a parent. Freezing a frozen node is a no-op.
func (n *Dagnode) Freeze() error {
	if n.frozen {
		return nil
	}
	if n.ID.IsZero() {
		return fmt.Errorf("freeze: dagnode has no id: %w", repoerr.ErrInvalidArgument)
	}
	n.normalize()
	if slices.Contains(n.Parents, n.ID) {
		return fmt.Errorf("freeze %s: node lists itself as a parent: %w", n.ID.Short(), repoerr.ErrInvalidArgument)
	}
	n.frozen = true
	return nil
}

// Frozen reports whether n has been frozen.
func (n *Dagnode) Frozen() bool { return n.frozen }

// Clone returns a deep copy of n, frozen if n is.
func (n *Dagnode) Clone() *Dagnode {
	clone := *n
	clone.Parents = slices.Clone(n.Parents)
	return &clone
}

// HasParent reports whether id is a parent of n.
func (n *Dagnode) HasParent(id hid.HID) bool {
	return slices.Contains(n.Parents, id)
}

// IsRoot reports whether n has no parents.
func (n *Dagnode) IsRoot() bool { return len(n.Parents) == 0 }

func (n *Dagnode) normalize() {
	if len(n.Parents) == 0 {
		n.Parents = nil
		return
	}
	hid.Sort(n.Parents)
	n.Parents = slices.Compact(n.Parents)
}

// wireDagnode is the CBOR form. Integer keys keep fragments small.
type wireDagnode struct {
	Dagnum     uint64    `cbor:"1,keyasint"`
	ID         hid.HID   `cbor:"2,keyasint"`
	Parents    []hid.HID `cbor:"3,keyasint,omitempty"`
	Generation int64     `cbor:"4,keyasint"`
	Revision   int64     `cbor:"5,keyasint,omitempty"`
}

// MarshalCBOR encodes n. Unfrozen nodes are not serializable.
func (n Dagnode) MarshalCBOR() ([]byte, error) {
	if !n.frozen {
		return nil, fmt.Errorf("marshal dagnode %s: %w", n.ID.Short(), repoerr.ErrNotFrozen)
	}
	return codec.Marshal(wireDagnode{
		Dagnum:     uint64(n.Dagnum),
		ID:         n.ID,
		Parents:    n.Parents,
		Generation: n.Generation,
		Revision:   n.Revision,
	})
}

// UnmarshalCBOR decodes a node and freezes it.
func (n *Dagnode) UnmarshalCBOR(data []byte) error {
	var wire wireDagnode
	if err := codec.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID.IsZero() || wire.Generation < 0 {
		return fmt.Errorf("dagnode record: missing id or negative generation: %w", repoerr.ErrMalformedFragment)
	}
	*n = *Stored(Dagnum(wire.Dagnum), wire.ID, wire.Parents, wire.Generation, wire.Revision)
	return nil
}

// GenerationFrom computes the generation of a node whose parents have
// the given generations.
func GenerationFrom(parentGenerations ...int64) int64 {
	if len(parentGenerations) == 0 {
		return 0
	}
	return slices.Max(parentGenerations) + 1
}
