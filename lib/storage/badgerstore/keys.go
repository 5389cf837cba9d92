// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package badgerstore

import (
	"encoding/binary"
	"strings"

	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
)

var (
	identityKey    = []byte("m/identity")
	blobInfoPrefix = []byte("bi/")
	blobDataPrefix = []byte("bd/")
	nodePrefix     = []byte("n/")
	revisionPrefix = []byte("r/")
	genPrefix      = []byte("g/")
	childPrefix    = []byte("c/")
	leafPrefix     = []byte("l/")
	auditPrefix    = []byte("a/")
	counterPrefix  = []byte("q/")
)

// key concatenates a prefix and parts into a fresh slice.
func key(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	out = append(out, prefix...)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func uint64Bytes(value uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, value)
}

func dagnumBytes(dagnum dagnode.Dagnum) []byte { return uint64Bytes(uint64(dagnum)) }

func blobInfoKey(id hid.HID) []byte { return key(blobInfoPrefix, []byte(id)) }

func blobDataKey(id hid.HID) []byte { return key(blobDataPrefix, []byte(id)) }

func nodeKey(dagnum dagnode.Dagnum, id hid.HID) []byte {
	return key(nodePrefix, dagnumBytes(dagnum), []byte(id))
}

func revisionKey(dagnum dagnode.Dagnum, revision int64) []byte {
	return key(revisionPrefix, dagnumBytes(dagnum), uint64Bytes(uint64(revision)))
}

func generationKey(dagnum dagnode.Dagnum, generation int64, id hid.HID) []byte {
	return key(genPrefix, dagnumBytes(dagnum), uint64Bytes(uint64(generation)), []byte(id))
}

func childKeyPrefix(dagnum dagnode.Dagnum, parent hid.HID) []byte {
	return key(childPrefix, dagnumBytes(dagnum), []byte(parent), []byte{0})
}

func childKey(dagnum dagnode.Dagnum, parent, child hid.HID) []byte {
	return key(childKeyPrefix(dagnum, parent), []byte(child))
}

func leafKey(dagnum dagnode.Dagnum, id hid.HID) []byte {
	return key(leafPrefix, dagnumBytes(dagnum), []byte(id))
}

func auditKeyPrefix(dagnum dagnode.Dagnum, id hid.HID) []byte {
	return key(auditPrefix, dagnumBytes(dagnum), []byte(id), []byte{0})
}

func auditKey(audit dagnode.Audit) []byte {
	return key(auditKeyPrefix(audit.Dagnum, audit.Changeset),
		uint64Bytes(uint64(audit.Timestamp)), []byte(audit.UserID))
}

func counterKey(dagnum dagnode.Dagnum) []byte { return key(counterPrefix, dagnumBytes(dagnum)) }

// hidPrefixKey returns the key prefix selecting HIDs that begin with
// a hex prefix, under base.
func hidPrefixKey(base []byte, prefix string) []byte {
	return key(base, []byte(strings.ToLower(prefix)))
}
