// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobenc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// deltaDictionaryID is the zstd dictionary ID written into delta
// frames. The reference blob is always the dictionary, so one fixed ID
// is enough; it only has to be non-zero and match on both sides.
const deltaDictionaryID = 0x64656c74 // "delt"

// zstdEncoder and zstdDecoder serve the plain zstd encoding. Both are
// safe for concurrent use. Delta encoding builds a per-reference
// encoder instead, because the dictionary is part of encoder state.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobenc: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobenc: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned by Encode when the encoded form would
// not be smaller than the input. Callers fall back to Full.
var errIncompressible = errors.New("blobenc: data is incompressible")

// IsIncompressible reports whether err means the data did not shrink.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// Encode encodes full content. reference is the full content of the
// reference blob and is only used (and required) for Delta.
//
// For the compressing encodings, Encode returns an error satisfying
// [IsIncompressible] when the result would not be smaller than the
// input; the caller should store the blob as Full instead.
func Encode(encoding Encoding, full, reference []byte) ([]byte, error) {
	switch encoding {
	case Full:
		return full, nil
	case Zlib:
		return encodeZlib(full)
	case Zstd:
		encoded := zstdEncoder.EncodeAll(full, nil)
		if len(encoded) >= len(full) {
			return nil, errIncompressible
		}
		return encoded, nil
	case LZ4:
		return encodeLZ4(full)
	case Delta:
		return encodeDelta(full, reference)
	default:
		return nil, fmt.Errorf("encode: encoding %d: %w", encoding, repoerr.ErrInvalidArgument)
	}
}

// EncodeWithFallback encodes full and falls back to Full when the data
// is incompressible. It returns the bytes and the encoding actually
// used.
func EncodeWithFallback(encoding Encoding, full, reference []byte) ([]byte, Encoding, error) {
	if encoding == Full {
		return full, Full, nil
	}
	encoded, err := Encode(encoding, full, reference)
	if err != nil {
		if IsIncompressible(err) {
			return full, Full, nil
		}
		return nil, 0, err
	}
	return encoded, encoding, nil
}

// Decode reverses Encode. lenFull is the length of the decoded content
// and is verified: a mismatch is an integrity error.
func Decode(encoding Encoding, encoded, reference []byte, lenFull int64) ([]byte, error) {
	var (
		full []byte
		err  error
	)
	switch encoding {
	case Full:
		full = encoded
	case Zlib:
		full, err = decodeStream(encoding, encoded, reference, lenFull)
	case Zstd:
		full, err = zstdDecoder.DecodeAll(encoded, make([]byte, 0, lenFull))
	case LZ4:
		full = make([]byte, lenFull)
		var read int
		read, err = lz4.UncompressBlock(encoded, full)
		full = full[:max(read, 0)]
	case Delta:
		full, err = decodeStream(encoding, encoded, reference, lenFull)
	default:
		return nil, fmt.Errorf("decode: encoding %d: %w", encoding, repoerr.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", encoding, err, repoerr.ErrBlobNotVerified)
	}
	if int64(len(full)) != lenFull {
		return nil, fmt.Errorf("decode %s: got %d bytes, expected %d: %w",
			encoding, len(full), lenFull, repoerr.ErrLengthMismatch)
	}
	return full, nil
}

func decodeStream(encoding Encoding, encoded, reference []byte, lenFull int64) ([]byte, error) {
	reader, err := NewReader(encoding, bytes.NewReader(encoded), reference, lenFull)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// NewReader returns a reader that decodes the encoded stream r into
// full content. Zlib, Zstd and Delta decode incrementally; LZ4 blocks
// are read whole first because the block format is not streamable.
// The returned reader does not verify lenFull; callers that need the
// guarantee count the bytes they read.
func NewReader(encoding Encoding, r io.Reader, reference []byte, lenFull int64) (io.ReadCloser, error) {
	switch encoding {
	case Full:
		return io.NopCloser(r), nil
	case Zlib:
		reader, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib header: %v: %w", err, repoerr.ErrBlobNotVerified)
		}
		return reader, nil
	case Zstd:
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case Delta:
		if len(reference) == 0 {
			decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, fmt.Errorf("delta reader: %w", err)
			}
			return decoder.IOReadCloser(), nil
		}
		decoder, err := zstd.NewReader(r,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderDictRaw(deltaDictionaryID, reference),
		)
		if err != nil {
			return nil, fmt.Errorf("delta reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case LZ4:
		encoded, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		full, err := Decode(LZ4, encoded, nil, lenFull)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(full)), nil
	default:
		return nil, fmt.Errorf("reader: encoding %d: %w", encoding, repoerr.ErrInvalidArgument)
	}
}

func encodeZlib(full []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := zlib.NewWriter(&buffer)
	if _, err := writer.Write(full); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if buffer.Len() >= len(full) {
		return nil, errIncompressible
	}
	return buffer.Bytes(), nil
}

func encodeLZ4(full []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(full)))
	written, err := lz4.CompressBlock(full, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(full) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

// encodeDelta compresses full using reference as zstd history. Content
// that shares long runs with the reference costs a few bytes per run.
// Unlike the plain compressions, a delta is kept even when it is not
// smaller: the caller asked for a delta explicitly. An empty reference
// has no history to offer, so the frame carries no dictionary.
func encodeDelta(full, reference []byte) ([]byte, error) {
	if len(reference) == 0 {
		return zstdEncoder.EncodeAll(full, nil), nil
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderDictRaw(deltaDictionaryID, reference),
	)
	if err != nil {
		return nil, fmt.Errorf("delta encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(full, nil), nil
}

// Select probes data and picks a compression: zstd when it shrinks the
// probe by at least 1.5x, LZ4 between 1.1x and 1.5x, Full below that.
func Select(data []byte) Encoding {
	if len(data) == 0 {
		return Full
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return Zstd
	case ratio >= 1.1:
		return LZ4
	default:
		return Full
	}
}
