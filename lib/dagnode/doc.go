// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dagnode defines DAG namespaces ([Dagnum]), DAG vertices
// ([Dagnode]) and audit records ([Audit]).
//
// A repository holds any number of independent DAGs, one per dagnum,
// all sharing the repository's blob store. Vertices reference parents
// by HID value; there are no back-pointers, and children are derived by
// the storage layer when asked.
package dagnode
