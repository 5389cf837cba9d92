// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dagfrag implements DAG fragments: subgraphs of one dagnum
// that move history between repositories.
//
// A sender builds a fragment from its heads back some number of
// generations. The receiver runs [Check] against its own DAG before
// opening any transaction. If the fragment does not connect, the
// result's MissingFringe names the absent parents, and the sender grows
// the fragment with their ancestry until it does. Once connected,
// WouldInsert names exactly the members the receiver lacks, and so the
// changeset blobs still to transfer.
//
// Fragments serialize to versioned CBOR ([Fragment.Marshal],
// [Unmarshal]).
package dagfrag
