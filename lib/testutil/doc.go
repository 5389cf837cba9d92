// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [UniqueID] and [Payload] generate identifiers and changeset bodies
// that never collide within a test process, so tests that share a
// repository never dedup each other's nodes by accident. [RandomBytes]
// produces incompressible blob content.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
