// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagfrag

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/repostore/lib/hid"
)

// PresenceFunc reports which of ids the target DAG already holds.
// Check calls it once per fragment, so an implementation backed by a
// remote store costs one round trip.
type PresenceFunc func(ctx context.Context, ids []hid.HID) (hid.Set, error)

// CheckResult describes how a fragment relates to a target DAG.
type CheckResult struct {
	// Connected is true when every parent of every member is either a
	// member or already in the target DAG.
	Connected bool `json:"connected"`

	// MissingFringe lists the parents found in neither, sorted. It is
	// empty exactly when Connected is true. A caller grows the fragment
	// with these nodes' ancestry and checks again.
	MissingFringe []hid.HID `json:"missing_fringe,omitempty"`

	// WouldInsert lists the members the target DAG does not hold yet,
	// sorted. Set only when Connected; these are the nodes whose
	// changeset blobs the caller still has to transfer.
	WouldInsert []hid.HID `json:"would_insert,omitempty"`
}

// Check compares f with the target DAG described by present.
func Check(ctx context.Context, f *Fragment, present PresenceFunc) (CheckResult, error) {
	edge := f.OpenEdge()
	ids := f.IDs()

	query := make([]hid.HID, 0, len(edge)+len(ids))
	query = append(query, edge...)
	query = append(query, ids...)

	found, err := present(ctx, query)
	if err != nil {
		return CheckResult{}, fmt.Errorf("checking fragment for dagnum %s: %w", f.Dagnum, err)
	}

	var result CheckResult
	for _, parent := range edge {
		if !found.Has(parent) {
			result.MissingFringe = append(result.MissingFringe, parent)
		}
	}
	result.Connected = len(result.MissingFringe) == 0
	if !result.Connected {
		return result, nil
	}
	for _, id := range ids {
		if !found.Has(id) {
			result.WouldInsert = append(result.WouldInsert, id)
		}
	}
	return result, nil
}
