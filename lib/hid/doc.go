// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hid implements hash identifiers (HIDs) and the streaming
// hash engine that produces them.
//
// A repository picks one hash [Method] when it is created and every
// blob and dagnode in it is identified by the lowercase hex digest of
// its content under that method. Supported methods are SHA-1, SHA-2
// (256 and 512), SHA-3/256 and BLAKE2b/256 from golang.org/x/crypto,
// and BLAKE3/256 (the default, via github.com/zeebo/blake3).
//
// [Hasher] is the incremental form: Begin, Chunk any number of times,
// End. Chunk boundaries never affect the result.
package hid
