// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobenc

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

func TestEncodingString(t *testing.T) {
	tests := []struct {
		encoding Encoding
		want     string
	}{
		{Full, "full"},
		{Zlib, "zlib"},
		{Zstd, "zstd"},
		{LZ4, "lz4"},
		{Delta, "delta"},
		{Encoding(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.encoding.String(); got != tt.want {
			t.Errorf("Encoding(%d).String() = %q, want %q", tt.encoding, got, tt.want)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	for _, name := range []string{"full", "zlib", "zstd", "lz4", "delta"} {
		encoding, err := ParseEncoding(name)
		if err != nil {
			t.Fatalf("ParseEncoding(%q): %v", name, err)
		}
		if encoding.String() != name {
			t.Errorf("ParseEncoding(%q).String() = %q", name, encoding.String())
		}
	}
	if encoding, err := ParseEncoding("none"); err != nil || encoding != Full {
		t.Errorf("ParseEncoding(none) = %v, %v", encoding, err)
	}
	if _, err := ParseEncoding("gzip"); !errors.Is(err, repoerr.ErrInvalidArgument) {
		t.Errorf("ParseEncoding(gzip) err = %v", err)
	}
}

func compressible() []byte {
	return []byte(strings.Repeat("content addressed storage keeps every version\n", 200))
}

func TestCompressionRoundTrip(t *testing.T) {
	data := compressible()
	for _, encoding := range []Encoding{Zlib, Zstd, LZ4} {
		t.Run(encoding.String(), func(t *testing.T) {
			encoded, err := Encode(encoding, data, nil)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(encoded) >= len(data) {
				t.Fatalf("encoded %d bytes from %d, expected shrink", len(encoded), len(data))
			}
			decoded, err := Decode(encoding, encoded, nil, int64(len(data)))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(decoded, data) {
				t.Error("round trip changed content")
			}

			reader, err := NewReader(encoding, bytes.NewReader(encoded), nil, int64(len(data)))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer reader.Close()
			streamed, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("streaming read: %v", err)
			}
			if !bytes.Equal(streamed, data) {
				t.Error("streaming decode changed content")
			}
		})
	}
}

func TestIncompressibleFallsBack(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	for _, encoding := range []Encoding{Zlib, Zstd, LZ4} {
		_, err := Encode(encoding, data, nil)
		if !IsIncompressible(err) {
			t.Errorf("%s: err = %v, want incompressible", encoding, err)
		}
		out, used, err := EncodeWithFallback(encoding, data, nil)
		if err != nil {
			t.Fatalf("%s: EncodeWithFallback: %v", encoding, err)
		}
		if used != Full || !bytes.Equal(out, data) {
			t.Errorf("%s: fallback used %s", encoding, used)
		}
	}
}

func TestDeltaAgainstReference(t *testing.T) {
	reference := make([]byte, 64*1024)
	if _, err := rand.Read(reference); err != nil {
		t.Fatal(err)
	}
	// A small edit of random content: only the delta can exploit it.
	target := append([]byte("prefix edit "), reference...)
	target = append(target, []byte(" suffix edit")...)

	encoded, err := Encode(Delta, target, reference)
	if err != nil {
		t.Fatalf("Encode(delta): %v", err)
	}
	if len(encoded) > len(target)/10 {
		t.Errorf("delta is %d bytes for %d bytes of mostly shared content", len(encoded), len(target))
	}

	decoded, err := Decode(Delta, encoded, reference, int64(len(target)))
	if err != nil {
		t.Fatalf("Decode(delta): %v", err)
	}
	if !bytes.Equal(decoded, target) {
		t.Error("delta round trip changed content")
	}
}

func TestDeltaAgainstEmptyReference(t *testing.T) {
	target := []byte("hello")
	encoded, err := Encode(Delta, target, []byte{})
	if err != nil {
		t.Fatalf("Encode(delta): %v", err)
	}
	decoded, err := Decode(Delta, encoded, nil, int64(len(target)))
	if err != nil {
		t.Fatalf("Decode(delta): %v", err)
	}
	if !bytes.Equal(decoded, target) {
		t.Errorf("decoded %q, want %q", decoded, target)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	data := compressible()
	encoded, err := Encode(Zstd, data, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(Zstd, encoded, nil, int64(len(data))+1)
	if !errors.Is(err, repoerr.ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}
	if _, err := Decode(Full, data, nil, 3); !errors.Is(err, repoerr.ErrLengthMismatch) {
		t.Errorf("full: err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodeCorruptData(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for _, encoding := range []Encoding{Zlib, Zstd, LZ4} {
		_, err := Decode(encoding, garbage, nil, 100)
		if err == nil {
			t.Errorf("%s: decoding garbage succeeded", encoding)
			continue
		}
		if repoerr.KindOf(err) != repoerr.Integrity {
			t.Errorf("%s: kind = %v, want integrity", encoding, repoerr.KindOf(err))
		}
	}
}

func TestSelect(t *testing.T) {
	if got := Select(nil); got != Full {
		t.Errorf("Select(empty) = %s", got)
	}
	if got := Select(compressible()); got != Zstd {
		t.Errorf("Select(repetitive) = %s, want zstd", got)
	}
	random := make([]byte, 8192)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	if got := Select(random); got != Full {
		t.Errorf("Select(random) = %s, want full", got)
	}
}
