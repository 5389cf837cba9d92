// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobenc implements the stored representations of a blob.
//
// A blob is identified by the hash of its full content, but storage may
// hold it encoded: compressed with zlib, zstd or LZ4, or as a delta
// against a reference blob. Every encoded blob records both its encoded
// length and its full length, so a reader can size buffers and verify
// the decode without trusting the encoded stream.
//
// Delta encoding uses zstd with the reference blob's full content
// loaded as a raw dictionary. Content that repeats long runs of the
// reference encodes to back-references into it.
package blobenc
