// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// maxListedCandidates caps how many matches an ambiguity error names.
const maxListedCandidates = 8

// HIDLookupDagnode resolves a user-supplied identifier to one node of
// dagnum. A decimal integer is tried as a revision number first; any
// other input, or an integer naming no revision, is matched as an id
// prefix.
func (r *Repo) HIDLookupDagnode(ctx context.Context, dagnum dagnode.Dagnum, prefix string) (hid.HID, error) {
	const op = "hid_lookup_dagnode"
	instance, method, err := r.backend(op)
	if err != nil {
		return "", err
	}

	if revision, err := strconv.ParseInt(prefix, 10, 64); err == nil && revision > 0 {
		id, err := instance.DagnodeByRevision(ctx, dagnum, revision)
		if err == nil {
			return id, nil
		}
		if !repoerr.Is(repoerr.NotFound, err) {
			return "", repoerr.E(op, err)
		}
	}

	prefix = strings.ToLower(prefix)
	if err := validatePrefix(method, prefix); err != nil {
		return "", repoerr.E(op, err)
	}
	matches, err := instance.FindDagnodesByPrefix(ctx, dagnum, prefix)
	if err != nil {
		return "", repoerr.E(op, err)
	}
	return unique(op, fmt.Sprintf("dagnode %q in dagnum %s", prefix, dagnum), matches)
}

// HIDLookupBlob resolves an id prefix to one blob.
func (r *Repo) HIDLookupBlob(ctx context.Context, prefix string) (hid.HID, error) {
	const op = "hid_lookup_blob"
	matches, err := r.FindBlobsByPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}
	return unique(op, fmt.Sprintf("blob %q", strings.ToLower(prefix)), matches)
}

func unique(op, what string, matches []hid.HID) (hid.HID, error) {
	switch len(matches) {
	case 0:
		return "", repoerr.Errorf(op, "%s: %w", what, repoerr.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	listed := matches
	if len(listed) > maxListedCandidates {
		listed = listed[:maxListedCandidates]
	}
	names := make([]string, len(listed))
	for i, id := range listed {
		names[i] = id.String()
	}
	more := ""
	if len(matches) > len(listed) {
		more = fmt.Sprintf(" and %d more", len(matches)-len(listed))
	}
	return "", repoerr.Errorf(op, "%s matches %s%s: %w", what, strings.Join(names, ", "), more, repoerr.ErrAmbiguousIDPrefix)
}

// FindDagnodesByPrefix returns every node id of dagnum starting with
// prefix, sorted. Ambiguity is not an error here.
func (r *Repo) FindDagnodesByPrefix(ctx context.Context, dagnum dagnode.Dagnum, prefix string) ([]hid.HID, error) {
	const op = "find_dagnodes_by_prefix"
	instance, method, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	if err := validatePrefix(method, prefix); err != nil {
		return nil, repoerr.E(op, err)
	}
	matches, err := instance.FindDagnodesByPrefix(ctx, dagnum, prefix)
	return matches, repoerr.E(op, err)
}

// FindBlobsByPrefix returns every blob id starting with prefix,
// sorted, including blobs staged in the open transaction.
func (r *Repo) FindBlobsByPrefix(ctx context.Context, prefix string) ([]hid.HID, error) {
	const op = "find_blobs_by_prefix"
	instance, method, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	if err := validatePrefix(method, prefix); err != nil {
		return nil, repoerr.E(op, err)
	}
	matches, err := instance.FindBlobsByPrefix(ctx, prefix)
	if err != nil {
		return nil, repoerr.E(op, err)
	}
	tx := r.openTx()
	if tx == nil {
		return matches, nil
	}
	set := hid.NewSet(matches...)
	for _, id := range tx.stagedBlobIDs() {
		if id.HasPrefix(prefix) {
			set.Add(id)
		}
	}
	return set.Sorted(), nil
}
