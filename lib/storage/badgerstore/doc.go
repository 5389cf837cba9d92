// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package badgerstore is the "badger" storage implementation: a
// Badger key-value store per repository instance.
//
// The descriptor's path is Badger's directory. Setting the descriptor
// key in_memory to true keeps everything in memory instead; such an
// instance has no path and cannot be reopened.
//
// Badger holds an exclusive lock on its directory, so an instance is
// usable by one process at a time. Within the process, Apply calls are
// serialized and each runs in one Badger read-write transaction.
//
// Key layout (dagnums are 8 bytes big-endian, counters likewise):
//
//	m/identity                       identity JSON
//	bi/<hid>                         blob metadata, CBOR
//	bd/<hid>                         blob bytes
//	n/<dagnum><hid>                  node record, CBOR
//	r/<dagnum><revision>             hid at revision
//	g/<dagnum><generation><hid>      generation index
//	c/<dagnum><parent>\x00<child>    child edge
//	l/<dagnum><hid>                  leaf
//	a/<dagnum><hid>\x00<ms><user>    audit
//	q/<dagnum>                       last assigned revision
package badgerstore
