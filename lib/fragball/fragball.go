// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragball

import (
	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
)

// Magic opens every fragball.
const Magic = "FRAGBALL"

// Version is the format version this package writes and reads.
const Version = 1

// MaxBodySize bounds a record's CBOR body. Blob bytes are not part of
// the body and are not bounded by it.
const MaxBodySize = 64 << 20

// Kind identifies a record.
type Kind uint8

const (
	KindEnd    Kind = 0
	KindFrag   Kind = 1
	KindBlob   Kind = 2
	KindAudits Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindEnd:
		return "end"
	case KindFrag:
		return "frag"
	case KindBlob:
		return "blob"
	case KindAudits:
		return "audits"
	default:
		return "unknown"
	}
}

// BlobHeader describes the blob bytes that follow it.
type BlobHeader struct {
	HID        hid.HID          `cbor:"1,keyasint"`
	Encoding   blobenc.Encoding `cbor:"2,keyasint"`
	Reference  hid.HID          `cbor:"3,keyasint,omitempty"`
	LenEncoded int64            `cbor:"4,keyasint"`
	LenFull    int64            `cbor:"5,keyasint"`
}

type auditsBody struct {
	Dagnum uint64          `cbor:"1,keyasint"`
	Audits []dagnode.Audit `cbor:"2,keyasint"`
}
