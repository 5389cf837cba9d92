// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the boundary between the repository engine
// and the storage implementations that hold blobs and DAGs on disk.
//
// A [Driver] is selected by name through a [Registry], using the
// "storage" key of a [Descriptor]. The driver creates, opens or deletes
// the [Instance] the rest of the descriptor names. The engine performs
// every mutation through [Instance.Apply], which commits one [Batch]
// atomically; everything else on an Instance is a read.
//
// Built-in implementations live in subpackages (sqlitestore,
// badgerstore, fsstore) and are registered together by
// lib/storage/drivers. lib/storage/storagetest holds the conformance
// suite they all pass.
package storage
