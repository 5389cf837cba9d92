// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hid

import (
	"encoding/hex"
	"hash"
)

// hasherState tracks the lifecycle of a Hasher: open until End or
// Abort, then finished forever.
type hasherState uint8

const (
	hasherOpen hasherState = iota
	hasherEnded
	hasherAborted
)

// Hasher computes an HID incrementally. Feed it with Chunk (or Write)
// any number of times, then call End exactly once. The HID of a
// sequence of chunks always equals [Method.Sum] over their
// concatenation.
//
// Calling Chunk or End after End or Abort is a programming error and
// panics. A Hasher is not safe for concurrent use.
type Hasher struct {
	method *Method
	inner  hash.Hash
	state  hasherState
	length int64
}

// Begin starts an incremental hash.
func (m *Method) Begin() *Hasher {
	return &Hasher{method: m, inner: m.newHash()}
}

// Chunk adds data to the hash.
func (h *Hasher) Chunk(data []byte) {
	h.mustBeOpen("Chunk")
	h.inner.Write(data)
	h.length += int64(len(data))
}

// Write implements io.Writer so a Hasher can sit in an io.MultiWriter
// or io.TeeReader. It never returns an error.
func (h *Hasher) Write(data []byte) (int, error) {
	h.Chunk(data)
	return len(data), nil
}

// Len returns the number of bytes hashed so far.
func (h *Hasher) Len() int64 { return h.length }

// End finalizes the hash and returns the HID.
func (h *Hasher) End() HID {
	h.mustBeOpen("End")
	h.state = hasherEnded
	sum := h.inner.Sum(nil)
	h.inner = nil
	return HID(hex.EncodeToString(sum))
}

// Abort discards the hash. Aborting an already finished Hasher is a
// no-op so that deferred cleanup can call it unconditionally.
func (h *Hasher) Abort() {
	if h.state != hasherOpen {
		return
	}
	h.state = hasherAborted
	h.inner = nil
}

// Method returns the hash method this Hasher uses.
func (h *Hasher) Method() *Method { return h.method }

func (h *Hasher) mustBeOpen(operation string) {
	switch h.state {
	case hasherEnded:
		panic("hid: Hasher." + operation + " called after End")
	case hasherAborted:
		panic("hid: Hasher." + operation + " called after Abort")
	}
}
