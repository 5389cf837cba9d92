// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

type nodeEntry struct {
	ID         hid.HID   `cbor:"1,keyasint"`
	Parents    []hid.HID `cbor:"2,keyasint,omitempty"`
	Generation int64     `cbor:"3,keyasint"`
}

type auditEntry struct {
	ID        hid.HID `cbor:"1,keyasint"`
	UserID    string  `cbor:"2,keyasint"`
	Timestamp int64   `cbor:"3,keyasint"`
}

// dagState is the content of one dagnum's state file. Nodes are in
// revision order: Nodes[i] has revision i+1.
type dagState struct {
	Nodes  []nodeEntry  `cbor:"1,keyasint"`
	Leaves []hid.HID    `cbor:"2,keyasint"`
	Audits []auditEntry `cbor:"3,keyasint,omitempty"`

	index    map[hid.HID]int
	children map[hid.HID][]hid.HID
	dirty    bool
}

func (d *dagState) buildIndex() {
	d.index = make(map[hid.HID]int, len(d.Nodes))
	d.children = make(map[hid.HID][]hid.HID)
	for i, node := range d.Nodes {
		d.index[node.ID] = i
		for _, parent := range node.Parents {
			d.children[parent] = append(d.children[parent], node.ID)
		}
	}
	for parent := range d.children {
		hid.Sort(d.children[parent])
	}
}

func (d *dagState) has(id hid.HID) bool {
	_, ok := d.index[id]
	return ok
}

// insert appends node after checking for duplicates and missing
// parents, and updates the leaves. It returns the node's revision.
func (d *dagState) insert(node *dagnode.Dagnode) (int64, error) {
	if d.has(node.ID) {
		return 0, storage.DuplicateError(node)
	}
	for _, parent := range node.Parents {
		if !d.has(parent) {
			return 0, storage.SparseError(node, parent)
		}
	}
	d.Nodes = append(d.Nodes, nodeEntry{
		ID:         node.ID,
		Parents:    slices.Clone(node.Parents),
		Generation: node.Generation,
	})
	d.index[node.ID] = len(d.Nodes) - 1
	for _, parent := range node.Parents {
		d.children[parent] = append(d.children[parent], node.ID)
		hid.Sort(d.children[parent])
	}
	d.Leaves = slices.DeleteFunc(d.Leaves, node.HasParent)
	d.Leaves = append(d.Leaves, node.ID)
	hid.Sort(d.Leaves)
	d.dirty = true
	return int64(len(d.Nodes)), nil
}

func (d *dagState) addAudit(audit dagnode.Audit) {
	entry := auditEntry{ID: audit.Changeset, UserID: audit.UserID, Timestamp: audit.Timestamp}
	if slices.Contains(d.Audits, entry) {
		return
	}
	d.Audits = append(d.Audits, entry)
	d.dirty = true
}

func (d *dagState) node(dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, bool) {
	i, ok := d.index[id]
	if !ok {
		return nil, false
	}
	entry := d.Nodes[i]
	return dagnode.Stored(dagnum, entry.ID, entry.Parents, entry.Generation, int64(i)+1), true
}

// computeLeaves returns the nodes that are nobody's parent, sorted.
func (d *dagState) computeLeaves() []hid.HID {
	leaves := []hid.HID{}
	for _, node := range d.Nodes {
		if len(d.children[node.ID]) == 0 {
			leaves = append(leaves, node.ID)
		}
	}
	hid.Sort(leaves)
	return leaves
}

// cachedState is a parsed state file together with the file it was
// read from. A rename replaces the file, so os.SameFile detects
// changes made by any process.
type cachedState struct {
	info  fs.FileInfo
	state *dagState
}

func (s *Store) statePath(dagnum dagnode.Dagnum) string {
	return filepath.Join(s.root, dagsDir, dagnum.Hex()+".cbor")
}

// readState parses dagnum's state file. A missing file is an empty
// dagnum; the returned FileInfo is then nil.
func (s *Store) readState(dagnum dagnode.Dagnum) (*dagState, fs.FileInfo, error) {
	path := s.statePath(dagnum)
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		state := &dagState{}
		state.buildIndex()
		return state, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	var state dagState
	if err := codec.NewDecoder(file).Decode(&state); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	state.buildIndex()
	return &state, info, nil
}

// loadState returns a read-only view of dagnum's state, from the cache
// when the file has not been replaced since it was parsed.
func (s *Store) loadState(dagnum dagnode.Dagnum) (*dagState, error) {
	path := s.statePath(dagnum)
	current, err := os.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	s.cacheMu.Lock()
	cached, ok := s.cache[dagnum]
	s.cacheMu.Unlock()
	if ok && current != nil && os.SameFile(cached.info, current) &&
		cached.info.ModTime().Equal(current.ModTime()) && cached.info.Size() == current.Size() {
		return cached.state, nil
	}

	state, info, err := s.readState(dagnum)
	if err != nil {
		return nil, err
	}
	if info != nil {
		s.cacheMu.Lock()
		s.cache[dagnum] = &cachedState{info: info, state: state}
		s.cacheMu.Unlock()
	}
	return state, nil
}

func (s *Store) writeState(dagnum dagnode.Dagnum, state *dagState) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding dagnum %s state: %w", dagnum, err)
	}
	return s.writeFile(s.statePath(dagnum), data)
}

func (s *Store) FetchDagnode(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	node, ok := state.node(dagnum, id)
	if !ok {
		return nil, storage.DagnodeNotFound(dagnum, id)
	}
	return node, nil
}

func (s *Store) PresentDagnodes(ctx context.Context, dagnum dagnode.Dagnum, ids []hid.HID) (hid.Set, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	present := hid.NewSet()
	for _, id := range ids {
		if state.has(id) {
			present.Add(id)
		}
	}
	return present, nil
}

func (s *Store) Leaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	return slices.Clone(state.Leaves), nil
}

func (s *Store) Children(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	return slices.Clone(state.children[id]), nil
}

func (s *Store) DagnodesByGeneration(ctx context.Context, dagnum dagnode.Dagnum, minGeneration, maxGeneration int64) ([]hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	var matches []nodeEntry
	for _, node := range state.Nodes {
		if node.Generation >= minGeneration && node.Generation <= maxGeneration {
			matches = append(matches, node)
		}
	}
	slices.SortFunc(matches, func(a, b nodeEntry) int {
		if c := cmp.Compare(a.Generation, b.Generation); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	ids := make([]hid.HID, len(matches))
	for i, node := range matches {
		ids[i] = node.ID
	}
	return ids, nil
}

func (s *Store) ChronoList(ctx context.Context, dagnum dagnode.Dagnum, startRevision int64, count int) ([]hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	start := max(startRevision, 1) - 1
	var ids []hid.HID
	for i := start; i < int64(len(state.Nodes)) && len(ids) < count; i++ {
		ids = append(ids, state.Nodes[i].ID)
	}
	return ids, nil
}

func (s *Store) DagnodeByRevision(ctx context.Context, dagnum dagnode.Dagnum, revision int64) (hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return "", err
	}
	if revision < 1 || revision > int64(len(state.Nodes)) {
		return "", fmt.Errorf("revision %d in dagnum %s: %w", revision, dagnum, repoerr.ErrDagnodeNotFound)
	}
	return state.Nodes[revision-1].ID, nil
}

func (s *Store) FindDagnodesByPrefix(ctx context.Context, dagnum dagnode.Dagnum, prefix string) ([]hid.HID, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	var ids []hid.HID
	for _, node := range state.Nodes {
		if node.ID.HasPrefix(prefix) {
			ids = append(ids, node.ID)
		}
	}
	hid.Sort(ids)
	return ids, nil
}

// Dagnums lists the state files.
func (s *Store) Dagnums(ctx context.Context) ([]dagnode.Dagnum, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dagsDir))
	if err != nil {
		return nil, fmt.Errorf("listing dagnums: %w", err)
	}
	var dagnums []dagnode.Dagnum
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".cbor")
		if !ok || len(name) != 16 {
			continue
		}
		value, err := strconv.ParseUint(name, 16, 64)
		if err != nil {
			continue
		}
		dagnums = append(dagnums, dagnode.Dagnum(value))
	}
	slices.Sort(dagnums)
	return dagnums, nil
}

func (s *Store) DagnodeCount(ctx context.Context, dagnum dagnode.Dagnum) (int64, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return 0, err
	}
	return int64(len(state.Nodes)), nil
}

func (s *Store) Audits(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]dagnode.Audit, error) {
	state, err := s.loadState(dagnum)
	if err != nil {
		return nil, err
	}
	var audits []dagnode.Audit
	for _, entry := range state.Audits {
		if entry.ID != id {
			continue
		}
		audits = append(audits, dagnode.Audit{
			Changeset: id,
			Dagnum:    dagnum,
			UserID:    entry.UserID,
			Timestamp: entry.Timestamp,
		})
	}
	slices.SortStableFunc(audits, func(a, b dagnode.Audit) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return audits, nil
}

// RecomputeLeaves rewrites dagnum's leaves from its edges.
func (s *Store) RecomputeLeaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, info, err := s.readState(dagnum)
	if err != nil {
		return nil, err
	}
	leaves := state.computeLeaves()
	if info == nil {
		return leaves, nil
	}
	state.Leaves = leaves
	if err := s.writeState(dagnum, state); err != nil {
		return nil, err
	}
	return slices.Clone(leaves), nil
}
