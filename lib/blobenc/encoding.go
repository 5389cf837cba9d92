// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobenc

import (
	"fmt"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Encoding identifies how a blob's bytes are represented in storage.
// The values are persisted by every storage implementation and carried
// in fragball blob records, so they are protocol constants.
type Encoding uint8

const (
	// Full is the raw content, unencoded.
	Full Encoding = 0

	// Zlib is zlib (RFC 1950) compressed content.
	Zlib Encoding = 1

	// Zstd is a single zstd frame.
	Zstd Encoding = 2

	// LZ4 is one LZ4 block. Decoding needs the full length, which every
	// blob record carries.
	LZ4 Encoding = 3

	// Delta is a zstd frame compressed with the reference blob's full
	// content as a raw dictionary. Decoding needs the reference.
	Delta Encoding = 4
)

// String returns the encoding's name as used in CLI flags and logs.
func (e Encoding) String() string {
	switch e {
	case Full:
		return "full"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case Delta:
		return "delta"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

// ParseEncoding parses an encoding name.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "full", "none", "":
		return Full, nil
	case "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	case "delta":
		return Delta, nil
	default:
		return 0, fmt.Errorf("unknown blob encoding %q: %w", name, repoerr.ErrInvalidArgument)
	}
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool { return e <= Delta }

// IsCompressed reports whether e is a self-contained compression
// (decodable without a reference blob).
func (e Encoding) IsCompressed() bool {
	return e == Zlib || e == Zstd || e == LZ4
}

// IsDelta reports whether decoding e needs a reference blob.
func (e Encoding) IsDelta() bool { return e == Delta }
