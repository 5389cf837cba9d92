// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for everything the
// repository engine serializes: dagnodes, fragments, audit records,
// fragball record headers, and the fs backend's on-disk records.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. Decoding
// applies size limits because fragments arrive from other repositories.
//
//	data, err := codec.Marshal(fragment)
//	err = codec.Unmarshal(data, &fragment)
//
// Types that are only ever CBOR use `cbor` struct tags. Types that also
// appear in repotool's --json output use `json` tags, which
// fxamacker/cbor honors when no `cbor` tag is present. A field never
// carries both.
package codec
