// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"testing"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the process.
//
//	name := testutil.UniqueID("changeset") // "changeset-1", "changeset-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// Payload returns changeset content that no other call in the process
// returns. Storing it always produces a fresh HID, which is what most
// DAG tests need for their nodes.
func Payload(label string) []byte {
	return []byte(UniqueID("payload:" + label))
}

// RandomBytes returns n bytes of random, incompressible data.
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("reading random bytes: %v", err)
	}
	return data
}
