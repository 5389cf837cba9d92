// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/repostore/lib/dagfrag"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// BuildDagfrag returns a fragment of dagnum holding heads and their
// ancestors up to generations below each head. Empty heads means the
// current leaves; generations 0 means all the way to the roots.
func (r *Repo) BuildDagfrag(ctx context.Context, dagnum dagnode.Dagnum, heads []hid.HID, generations int64) (*dagfrag.Fragment, error) {
	const op = "build_dagfrag"
	if generations < 0 {
		return nil, repoerr.Errorf(op, "generations %d: %w", generations, repoerr.ErrInvalidArgument)
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	identity := instance.Identity()
	frag := dagfrag.New(identity.RepoID, identity.AdminID, dagnum)

	if len(heads) == 0 {
		heads, err = instance.Leaves(ctx, dagnum)
		if err != nil {
			return nil, repoerr.E(op, err)
		}
	}

	// floor holds, per visited node, the lowest generation the walk may
	// still descend to through it.
	type step struct {
		node  *dagnode.Dagnode
		floor int64
	}
	floor := make(map[hid.HID]int64)
	var pending []step
	for _, id := range heads {
		node, err := instance.FetchDagnode(ctx, dagnum, id)
		if err != nil {
			return nil, repoerr.E(op, err)
		}
		lowest := int64(0)
		if generations > 0 {
			lowest = node.Generation - generations + 1
		}
		pending = append(pending, step{node, lowest})
	}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if previous, seen := floor[current.node.ID]; seen && previous <= current.floor {
			continue
		}
		floor[current.node.ID] = current.floor
		if err := frag.Add(current.node); err != nil {
			return nil, repoerr.E(op, err)
		}
		for _, parent := range current.node.Parents {
			if previous, seen := floor[parent]; seen && previous <= current.floor {
				continue
			}
			node, err := instance.FetchDagnode(ctx, dagnum, parent)
			if err != nil {
				return nil, repoerr.Errorf(op, "parent of %s: %w", current.node.ID.Short(), err)
			}
			if node.Generation >= current.floor {
				pending = append(pending, step{node, current.floor})
			}
		}
	}
	return frag, nil
}

// AddToDagfrag adds nodes of the fragment's dagnum, by id, to frag.
func (r *Repo) AddToDagfrag(ctx context.Context, frag *dagfrag.Fragment, ids ...hid.HID) error {
	const op = "add_to_dagfrag"
	instance, _, err := r.backend(op)
	if err != nil {
		return err
	}
	for _, id := range ids {
		node, err := instance.FetchDagnode(ctx, frag.Dagnum, id)
		if err != nil {
			return repoerr.E(op, err)
		}
		if err := frag.Add(node); err != nil {
			return repoerr.E(op, err)
		}
	}
	return nil
}

// checkOrigin refuses fragments built from another repository.
func (r *Repo) checkOrigin(frag *dagfrag.Fragment, identity storage.Identity) error {
	if frag.RepoID != "" && frag.RepoID != identity.RepoID {
		return fmt.Errorf("fragment from repository %s, this is %s: %w", frag.RepoID, identity.RepoID, repoerr.ErrRepoMismatch)
	}
	if frag.AdminID != "" && frag.Dagnum.IsAdminScoped() && frag.AdminID != identity.AdminID {
		return fmt.Errorf("admin-scoped fragment from admin group %s, this is %s: %w", frag.AdminID, identity.AdminID, repoerr.ErrRepoMismatch)
	}
	return nil
}

// CheckDagfrag reports whether frag connects to the stored DAG of its
// dagnum, which parents are missing if not, and which members would be
// new if it does.
func (r *Repo) CheckDagfrag(ctx context.Context, frag *dagfrag.Fragment) (dagfrag.CheckResult, error) {
	const op = "check_dagfrag"
	instance, _, err := r.backend(op)
	if err != nil {
		return dagfrag.CheckResult{}, err
	}
	if err := r.checkOrigin(frag, instance.Identity()); err != nil {
		return dagfrag.CheckResult{}, repoerr.E(op, err)
	}
	result, err := dagfrag.Check(ctx, frag, func(ctx context.Context, ids []hid.HID) (hid.Set, error) {
		return instance.PresentDagnodes(ctx, frag.Dagnum, ids)
	})
	return result, repoerr.E(op, err)
}

// StoreResult reports what StoreDagfrag inserted.
type StoreResult struct {
	Inserted       []hid.HID `json:"inserted"`
	AlreadyPresent []hid.HID `json:"already_present"`
}

// PartialInsertError is returned when StoreDagfrag fails after some
// members were inserted. Inserted stay in the repository; repeating
// the call with the same fragment skips them.
type PartialInsertError struct {
	Dagnum   dagnode.Dagnum
	Inserted []hid.HID
	Failed   hid.HID
	Err      error
}

func (e *PartialInsertError) Error() string {
	return fmt.Sprintf("dagnum %s: %d members inserted before %s failed: %v",
		e.Dagnum, len(e.Inserted), e.Failed.Short(), e.Err)
}

func (e *PartialInsertError) Unwrap() error { return e.Err }

// StoreDagfrag inserts the members of frag that the repository does
// not hold. A fragment that does not connect fails with
// ErrCannotCreateSparseDag before anything is written. Members are
// inserted parents first, each in its own commit, with generations
// recomputed locally. Members already present, including ones another
// writer inserts concurrently, are skipped.
//
// In a TxCloning transaction on an empty dagnum the whole fragment is
// one commit.
//
// Members are committed as they go, independent of tx; tx only has to
// be open.
func (r *Repo) StoreDagfrag(ctx context.Context, tx *Tx, frag *dagfrag.Fragment) (StoreResult, error) {
	const op = "store_dagfrag"
	if err := tx.check(r, op); err != nil {
		return StoreResult{}, err
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return StoreResult{}, err
	}

	check, err := r.CheckDagfrag(ctx, frag)
	if err != nil {
		return StoreResult{}, err
	}
	if !check.Connected {
		return StoreResult{}, repoerr.Errorf(op, "fragment for dagnum %s is missing parents %v: %w",
			frag.Dagnum, check.MissingFringe, repoerr.ErrCannotCreateSparseDag)
	}

	order, err := frag.InsertionOrder()
	if err != nil {
		return StoreResult{}, repoerr.E(op, err)
	}
	wanted := hid.NewSet(check.WouldInsert...)
	var result StoreResult
	members := make([]*dagnode.Dagnode, 0, len(wanted))
	for _, member := range order {
		if wanted.Has(member.ID) {
			members = append(members, member)
		} else {
			result.AlreadyPresent = append(result.AlreadyPresent, member.ID)
		}
	}
	if len(members) == 0 {
		return result, nil
	}

	if tx.Cloning() {
		count, err := instance.DagnodeCount(ctx, frag.Dagnum)
		if err != nil {
			return StoreResult{}, repoerr.E(op, err)
		}
		if count == 0 {
			return r.storeWhole(ctx, instance, frag.Dagnum, members, result)
		}
	}

	known := make(map[hid.HID]int64, len(members))
	for _, member := range members {
		node, err := r.assignGeneration(ctx, instance, member, known)
		if err == nil {
			err = r.retry(ctx, op, func() error {
				_, err := instance.Apply(ctx, &storage.Batch{Nodes: []*dagnode.Dagnode{node}})
				return err
			})
		}
		switch {
		case err == nil:
			result.Inserted = append(result.Inserted, node.ID)
		case errors.Is(err, repoerr.ErrDagnodeAlreadyExists):
			result.AlreadyPresent = append(result.AlreadyPresent, node.ID)
		default:
			r.logger.Warn("fragment partially inserted",
				"dagnum", frag.Dagnum.String(),
				"inserted", len(result.Inserted),
				"failed", member.ID.Short(),
				"error", err,
			)
			return result, repoerr.E(op, &PartialInsertError{
				Dagnum:   frag.Dagnum,
				Inserted: result.Inserted,
				Failed:   member.ID,
				Err:      err,
			})
		}
		known[node.ID] = node.Generation
	}

	r.logger.Info("fragment stored",
		"dagnum", frag.Dagnum.String(),
		"inserted", len(result.Inserted),
		"already_present", len(result.AlreadyPresent),
	)
	return result, nil
}

// storeWhole commits members, parents first, in one batch.
func (r *Repo) storeWhole(ctx context.Context, instance storage.Instance, dagnum dagnode.Dagnum, members []*dagnode.Dagnode, result StoreResult) (StoreResult, error) {
	const op = "store_dagfrag"
	known := make(map[hid.HID]int64, len(members))
	batch := &storage.Batch{Nodes: make([]*dagnode.Dagnode, 0, len(members))}
	for _, member := range members {
		node, err := r.assignGeneration(ctx, instance, member, known)
		if err != nil {
			return StoreResult{}, repoerr.E(op, err)
		}
		known[node.ID] = node.Generation
		batch.Nodes = append(batch.Nodes, node)
	}
	err := r.retry(ctx, op, func() error {
		_, err := instance.Apply(ctx, batch)
		return err
	})
	if err != nil {
		return StoreResult{}, repoerr.E(op, err)
	}
	for _, node := range batch.Nodes {
		result.Inserted = append(result.Inserted, node.ID)
	}
	r.logger.Info("fragment cloned", "dagnum", dagnum.String(), "inserted", len(result.Inserted))
	return result, nil
}
