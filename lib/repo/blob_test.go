// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/testutil"
)

func begin(t *testing.T, r *Repo) *Tx {
	t.Helper()
	tx, err := r.BeginTx(0)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	return tx
}

func commitTx(t *testing.T, tx *Tx) CommitResult {
	t.Helper()
	result, err := tx.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return result
}

func storeBytes(t *testing.T, r *Repo, tx *Tx, data []byte, encoding blobenc.Encoding) hid.HID {
	t.Helper()
	id, err := r.StoreBytes(context.Background(), tx, data, encoding)
	if err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	return id
}

func fetchBytes(t *testing.T, r *Repo, id hid.HID) []byte {
	t.Helper()
	data, err := r.FetchBytes(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchBytes(%s): %v", id.Short(), err)
	}
	return data
}

func TestStoreHelloDeduplicates(t *testing.T) {
	for _, storageName := range storageNames {
		t.Run(storageName, func(t *testing.T) {
			ctx := context.Background()
			r := newRepoOn(t, storageName, CreateParams{}, Options{})
			hello := []byte("hello")

			tx := begin(t, r)
			first := storeBytes(t, r, tx, hello, blobenc.Full)
			second := storeBytes(t, r, tx, hello, blobenc.Full)
			if first != second {
				t.Fatalf("same content stored as %s and %s", first, second)
			}
			if want := r.Method().Sum(hello); first != want {
				t.Fatalf("HID = %s, want %s", first, want)
			}
			if result := commitTx(t, tx); result.BlobsStored != 1 {
				t.Errorf("BlobsStored = %d, want 1", result.BlobsStored)
			}

			tx = begin(t, r)
			if again := storeBytes(t, r, tx, hello, blobenc.Zstd); again != first {
				t.Errorf("stored content returned %s, want %s", again, first)
			}
			if result := commitTx(t, tx); result.BlobsStored != 0 {
				t.Errorf("dedup commit stored %d blobs", result.BlobsStored)
			}

			if got := fetchBytes(t, r, first); !bytes.Equal(got, hello) {
				t.Errorf("FetchBytes = %q", got)
			}
			absent := r.Method().Sum([]byte("absent"))
			missing, err := r.QueryBlobExistence(ctx, []hid.HID{first, absent})
			if err != nil {
				t.Fatalf("QueryBlobExistence: %v", err)
			}
			expectHIDs(t, "missing", missing, []hid.HID{absent})
		})
	}
}

func TestStreamEncodedBlobs(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	full := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200))
	want := r.Method().Sum(full)

	for _, encoding := range []blobenc.Encoding{blobenc.Full, blobenc.Zlib, blobenc.Zstd, blobenc.LZ4} {
		t.Run(encoding.String(), func(t *testing.T) {
			encoded, err := blobenc.Encode(encoding, full, nil)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			tx := begin(t, r)
			writer, err := r.StoreBegin(ctx, tx, StoreParams{
				Encoding:   encoding,
				LenFull:    int64(len(full)),
				LenEncoded: int64(len(encoded)),
			})
			if err != nil {
				t.Fatalf("StoreBegin: %v", err)
			}
			third := len(encoded) / 3
			for _, piece := range [][]byte{encoded[:third], encoded[third : 2*third], encoded[2*third:]} {
				if n, err := writer.Chunk(piece); err != nil || n != len(piece) {
					t.Fatalf("Chunk: %d, %v", n, err)
				}
			}
			id, err := r.StoreEnd(ctx, tx, writer)
			if err != nil {
				t.Fatalf("StoreEnd: %v", err)
			}
			if id != want {
				t.Fatalf("HID = %s, want %s", id, want)
			}
			commitTx(t, tx)
		})
	}

	// The first encoding stored wins; every later store deduplicated.
	reader, err := r.FetchBegin(ctx, want, false)
	if err != nil {
		t.Fatalf("FetchBegin: %v", err)
	}
	if reader.Info().Encoding != blobenc.Full || reader.Info().LenFull != int64(len(full)) {
		t.Errorf("Info = %+v", reader.Info())
	}
	reader.Abort()
}

func TestFetchRawAndConverted(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	full := []byte(strings.Repeat("abcdefgh", 4096))

	tx := begin(t, r)
	id := storeBytes(t, r, tx, full, blobenc.Zstd)
	commitTx(t, tx)

	raw, err := r.FetchBegin(ctx, id, false)
	if err != nil {
		t.Fatalf("FetchBegin(raw): %v", err)
	}
	info := raw.Info()
	if info.Encoding != blobenc.Zstd || info.LenEncoded >= info.LenFull {
		t.Fatalf("Info = %+v, want a shrunken zstd blob", info)
	}
	encoded, err := io.ReadAll(raw)
	if err != nil {
		t.Fatalf("reading raw: %v", err)
	}
	if err := raw.End(); err != nil {
		t.Fatalf("End(raw): %v", err)
	}
	decoded, err := blobenc.Decode(info.Encoding, encoded, nil, info.LenFull)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, full) {
		t.Error("raw bytes do not decode to the content")
	}

	converted, err := r.FetchBegin(ctx, id, true)
	if err != nil {
		t.Fatalf("FetchBegin(convert): %v", err)
	}
	if converted.Encoding() != blobenc.Full {
		t.Errorf("converted Encoding = %s", converted.Encoding())
	}
	var got []byte
	buf := make([]byte, 1000)
	for {
		n, done, err := converted.Chunk(buf)
		if err != nil {
			t.Fatalf("Chunk: %v", err)
		}
		got = append(got, buf[:n]...)
		if done {
			break
		}
	}
	if err := converted.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Errorf("converted content differs: %d bytes, want %d", len(got), len(full))
	}
}

func TestEndBeforeDoneFails(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tx := begin(t, r)
	id := storeBytes(t, r, tx, testutil.RandomBytes(t, 4096), blobenc.Full)
	commitTx(t, tx)

	reader, err := r.FetchBegin(ctx, id, true)
	if err != nil {
		t.Fatalf("FetchBegin: %v", err)
	}
	if _, _, err := reader.Chunk(make([]byte, 10)); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	expectKind(t, "End before done", reader.End(), repoerr.Invalid)
}

func TestStoreDelta(t *testing.T) {
	ctx := context.Background()
	r := newRepoOn(t, "fs", CreateParams{}, Options{})
	base := []byte(strings.Repeat("line of a file that barely changes\n", 300))
	edited := append(slices.Clone(base), []byte("one more line\n")...)

	tx := begin(t, r)
	reference := storeBytes(t, r, tx, base, blobenc.Full)
	// The reference is only staged; the delta resolves it inside the
	// transaction.
	delta, err := r.StoreDelta(ctx, tx, edited, reference)
	if err != nil {
		t.Fatalf("StoreDelta: %v", err)
	}
	if got := fetchBytes(t, r, delta); !bytes.Equal(got, edited) {
		t.Fatal("staged delta does not read back")
	}
	commitTx(t, tx)

	info, err := r.StatBlob(ctx, delta)
	if err != nil {
		t.Fatalf("StatBlob: %v", err)
	}
	if info.Encoding != blobenc.Delta || info.Reference != reference {
		t.Errorf("Info = %+v, want a delta against %s", info, reference.Short())
	}
	if info.LenEncoded >= int64(len(edited))/10 {
		t.Errorf("delta is %d bytes for a %d byte edit", info.LenEncoded, len(edited))
	}
	if got := fetchBytes(t, r, delta); !bytes.Equal(got, edited) {
		t.Error("committed delta does not read back")
	}
}

func TestDeltaAgainstEmptyBlob(t *testing.T) {
	for _, storageName := range storageNames {
		t.Run(storageName, func(t *testing.T) {
			ctx := context.Background()
			r := newRepoOn(t, storageName, CreateParams{}, Options{})

			tx := begin(t, r)
			empty := storeBytes(t, r, tx, []byte{}, blobenc.Full)
			delta, err := r.StoreDelta(ctx, tx, []byte("hello"), empty)
			if err != nil {
				t.Fatalf("StoreDelta against the empty blob: %v", err)
			}
			commitTx(t, tx)

			if got := fetchBytes(t, r, empty); len(got) != 0 {
				t.Errorf("empty blob reads back %q", got)
			}
			if got := fetchBytes(t, r, delta); string(got) != "hello" {
				t.Errorf("delta reads back %q, want hello", got)
			}
			info, err := r.StatBlob(ctx, delta)
			if err != nil {
				t.Fatalf("StatBlob: %v", err)
			}
			if info.Encoding != blobenc.Delta || info.Reference != empty {
				t.Errorf("Info = %+v, want a delta against the empty blob", info)
			}
		})
	}
}

func TestStreamedDeltaIsHashed(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	base := []byte(strings.Repeat("0123456789", 500))
	edited := []byte(strings.Repeat("0123456789", 499) + "abcdefghij")

	tx := begin(t, r)
	reference := storeBytes(t, r, tx, base, blobenc.Full)
	encoded, err := blobenc.Encode(blobenc.Delta, edited, base)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	writer, err := r.StoreBegin(ctx, tx, StoreParams{
		Encoding:   blobenc.Delta,
		Reference:  reference,
		LenFull:    int64(len(edited)),
		LenEncoded: int64(len(encoded)),
	})
	if err != nil {
		t.Fatalf("StoreBegin: %v", err)
	}
	if _, err := writer.Write(encoded); err != nil {
		t.Fatalf("Write: %v", err)
	}
	id, err := writer.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if want := r.Method().Sum(edited); id != want {
		t.Errorf("HID = %s, want %s", id, want)
	}
	tx.Abort()
}

func TestStoreParamsValidation(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tx := begin(t, r)
	defer tx.Abort()
	someHID := r.Method().Sum([]byte("x"))

	tests := []struct {
		name   string
		params StoreParams
	}{
		{"full length disagreement", StoreParams{Encoding: blobenc.Full, LenFull: 3, LenEncoded: 4}},
		{"negative length", StoreParams{Encoding: blobenc.Zstd, LenFull: -1, LenEncoded: 4}},
		{"delta without reference", StoreParams{Encoding: blobenc.Delta, LenFull: 3, LenEncoded: 4}},
		{"reference on zstd", StoreParams{Encoding: blobenc.Zstd, Reference: someHID, LenFull: 3, LenEncoded: 4}},
		{"malformed known hid", StoreParams{Encoding: blobenc.Full, LenFull: 1, LenEncoded: 1, KnownHID: "xyz"}},
		{"unknown encoding", StoreParams{Encoding: blobenc.Encoding(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.StoreBegin(ctx, tx, tt.params); err == nil {
				t.Fatal("StoreBegin accepted invalid parameters")
			}
		})
	}
}

func TestStoreLengthMismatch(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tx := begin(t, r)
	defer tx.Abort()

	writer, err := r.StoreBegin(ctx, tx, StoreParams{Encoding: blobenc.Full, LenFull: 5, LenEncoded: 5})
	if err != nil {
		t.Fatalf("StoreBegin: %v", err)
	}
	if _, err := writer.Chunk([]byte("abcdef")); !repoerr.Is(repoerr.Integrity, err) {
		t.Fatalf("overlong Chunk: got %v, want an integrity error", err)
	}
	if _, err := writer.Chunk([]byte("abc")); err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	_, err = writer.End(ctx)
	expectError(t, "short End", err, repoerr.ErrLengthMismatch)
}

func TestKnownHIDIsTrustedOnStoreAndCaughtOnFetch(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	content := []byte("actual content")
	claimed := r.Method().Sum([]byte("something else"))

	tx := begin(t, r)
	writer, err := r.StoreBegin(ctx, tx, StoreParams{
		Encoding:   blobenc.Full,
		LenFull:    int64(len(content)),
		LenEncoded: int64(len(content)),
		KnownHID:   claimed,
	})
	if err != nil {
		t.Fatalf("StoreBegin: %v", err)
	}
	writer.Chunk(content)
	id, err := writer.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if id != claimed {
		t.Fatalf("HID = %s, want the supplied %s", id, claimed)
	}
	commitTx(t, tx)

	_, err = r.FetchBytes(ctx, claimed)
	expectError(t, "FetchBytes", err, repoerr.ErrBlobNotVerified)
	expectKind(t, "FetchBytes", err, repoerr.Integrity)
}

func TestFetchUnknownBlob(t *testing.T) {
	r := newRepo(t)
	_, err := r.FetchBegin(context.Background(), r.Method().Sum([]byte("nothing")), true)
	expectError(t, "FetchBegin", err, repoerr.ErrBlobNotFound)
	expectKind(t, "FetchBegin", err, repoerr.NotFound)
}

func TestStagedBlobsAreVisibleUntilAbort(t *testing.T) {
	ctx := context.Background()
	r := newRepoOn(t, "badger", CreateParams{}, Options{})
	content := []byte("staged only")

	tx := begin(t, r)
	id := storeBytes(t, r, tx, content, blobenc.Full)
	if got := fetchBytes(t, r, id); !bytes.Equal(got, content) {
		t.Fatalf("staged FetchBytes = %q", got)
	}
	missing, err := r.QueryBlobExistence(ctx, []hid.HID{id})
	if err != nil {
		t.Fatalf("QueryBlobExistence: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("staged blob reported missing")
	}
	found, err := r.FindBlobsByPrefix(ctx, id.String()[:6])
	if err != nil {
		t.Fatalf("FindBlobsByPrefix: %v", err)
	}
	if !slices.Contains(found, id) {
		t.Errorf("FindBlobsByPrefix = %v, missing the staged blob", found)
	}

	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	_, err = r.FetchBytes(ctx, id)
	expectError(t, "FetchBytes after abort", err, repoerr.ErrBlobNotFound)
}

func TestCommitWithOpenWriterFails(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	tx := begin(t, r)
	writer, err := r.StoreBegin(ctx, tx, StoreParams{Encoding: blobenc.Full, LenFull: 1, LenEncoded: 1})
	if err != nil {
		t.Fatalf("StoreBegin: %v", err)
	}
	_, err = tx.Commit(ctx)
	expectKind(t, "Commit with an open writer", err, repoerr.Invalid)

	// The transaction stays open; finishing the writer unblocks it.
	if err := writer.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	commitTx(t, tx)
}
