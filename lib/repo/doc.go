// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo is the repository engine: a handle over one storage
// instance that stores content-addressed blobs, maintains DAGs of
// changesets, and moves history between repositories as fragments.
//
// A [Repo] is allocated against a storage registry and a descriptor,
// then attached with Create or Open:
//
//	r, err := repo.OpenRepo(ctx, drivers.NewRegistry(), descriptor, repo.Options{Logger: logger})
//	tx, err := r.BeginTx(0)
//	node, err := r.StoreChangeset(ctx, tx, dagnode.VersionControl, payload, "alice", parent)
//	_, err = tx.Commit(ctx)
//
// Writes go through a [Tx]. A transaction stages blobs, at most one
// dagnode per dagnum, and audits, and commits them in one backend
// commit; reads through the same handle see staged blobs. Fragments
// are the exception: [Repo.StoreDagfrag] commits members one at a time
// so a large history lands incrementally and a retry resumes where a
// failure stopped.
//
// Every error carries a [repoerr.Kind]. Busy errors from the backend
// are retried inside the handle on its clock before they surface.
package repo
