// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repoerr defines the error taxonomy shared by the repository
// storage engine and its storage implementations.
//
// Every failure the engine reports belongs to one [Kind]:
//
//   - Integrity: corruption or protocol mismatch. Never retried.
//   - Consistency: the operation would break a repository invariant
//     (sparse DAG, duplicate dagnode, nested transaction). The caller
//     recovers by changing approach, e.g. growing a fragment.
//   - NotFound / Ambiguous: routine results of lookups and prefix
//     resolution.
//   - Busy: transient backend contention. The only kind [Retry] retries.
//   - Capability: unknown storage implementation or unsupported
//     feature, reported before a transaction is opened.
//   - Invalid / IO: caller misuse and system I/O failures.
//
// Named failures are package-level sentinels ([ErrBlobNotFound],
// [ErrCannotCreateSparseDag], ...). Code wraps them with fmt.Errorf and
// %w as usual; [KindOf] recovers the kind from any depth of wrapping,
// and errors.Is matches the sentinel itself.
package repoerr
