// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsstore is the "fs" storage implementation: plain files in a
// directory tree, readable with ordinary tools.
//
//	<path>/identity.json
//	<path>/lock                     flock(2) target for writers
//	<path>/tmp/                     staging for atomic renames
//	<path>/blobs/ab/cd/abcd...      one file per blob
//	<path>/dags/<dagnum hex>.cbor   one state file per dagnum
//
// A blob file is a 4-byte big-endian header length, the CBOR header
// and then the stored bytes. A dagnum state file holds the dagnum's
// nodes in revision order together with its leaves and audits.
//
// Writers take an exclusive flock on the lock file, so several
// processes may share a repository. Every file is replaced by rename,
// so readers never see a partially written file and take no lock.
// Apply checks a whole batch before it writes anything; the renames of
// one batch are not atomic as a group, so a crash during Apply can
// leave its blobs without its nodes. Blobs are renamed into place
// first for that reason.
//
// Each Apply rewrites the whole state file of every dagnum it touches,
// so inserting one node costs time proportional to the dagnum's size.
// Large DAGs belong on the sqlite or badger implementations.
package fsstore
