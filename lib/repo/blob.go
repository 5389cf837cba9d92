// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// StoreParams describe a blob about to be streamed into a transaction.
type StoreParams struct {
	// Encoding is the form of the bytes the caller will write.
	Encoding blobenc.Encoding

	// Reference is the blob a Delta is encoded against. Required for
	// Delta, rejected otherwise.
	Reference hid.HID

	// LenFull is the length of the decoded content.
	LenFull int64

	// LenEncoded is the number of bytes the caller will write. For Full
	// it must equal LenFull.
	LenEncoded int64

	// KnownHID, when set, is trusted as the blob's HID and the content
	// is not hashed.
	KnownHID hid.HID
}

// BlobWriter receives one blob's bytes. It is not safe for concurrent
// use. Finish it with End or Abort.
type BlobWriter struct {
	repo   *Repo
	tx     *Tx
	params StoreParams
	hasher *hid.Hasher
	data   []byte
	done   bool
}

// StoreBegin starts streaming a blob into tx.
func (r *Repo) StoreBegin(ctx context.Context, tx *Tx, params StoreParams) (*BlobWriter, error) {
	const op = "store_begin"
	if err := tx.check(r, op); err != nil {
		return nil, err
	}
	_, method, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	if err := validateStoreParams(method, params); err != nil {
		return nil, repoerr.E(op, err)
	}

	writer := &BlobWriter{
		repo:   r,
		tx:     tx,
		params: params,
		data:   make([]byte, 0, params.LenEncoded),
	}
	if params.KnownHID.IsZero() && params.Encoding == blobenc.Full {
		writer.hasher = method.Begin()
	}
	tx.mu.Lock()
	tx.writers++
	tx.mu.Unlock()
	return writer, nil
}

func validateStoreParams(method *hid.Method, params StoreParams) error {
	switch {
	case !params.Encoding.Valid():
		return fmt.Errorf("encoding %s: %w", params.Encoding, repoerr.ErrInvalidArgument)
	case params.LenFull < 0 || params.LenEncoded < 0:
		return fmt.Errorf("negative blob length: %w", repoerr.ErrInvalidArgument)
	case params.Encoding == blobenc.Full && params.LenFull != params.LenEncoded:
		return fmt.Errorf("full blob declares %d encoded and %d full bytes: %w",
			params.LenEncoded, params.LenFull, repoerr.ErrLengthMismatch)
	case params.Encoding.IsDelta() && params.Reference.IsZero():
		return fmt.Errorf("delta blob without a reference: %w", repoerr.ErrInvalidArgument)
	case !params.Encoding.IsDelta() && !params.Reference.IsZero():
		return fmt.Errorf("%s blob with a reference: %w", params.Encoding, repoerr.ErrInvalidArgument)
	case !params.Reference.IsZero() && !method.Valid(params.Reference):
		return fmt.Errorf("reference %q is not a %s hid: %w", params.Reference, method.Name(), repoerr.ErrInvalidArgument)
	case !params.KnownHID.IsZero() && !method.Valid(params.KnownHID):
		return fmt.Errorf("known hid %q is not a %s hid: %w", params.KnownHID, method.Name(), repoerr.ErrInvalidArgument)
	}
	return nil
}

// Chunk appends data to the blob and returns the number of bytes
// accepted. Writing past the declared encoded length fails.
func (w *BlobWriter) Chunk(data []byte) (int, error) {
	const op = "store_chunk"
	if w.done {
		return 0, repoerr.Errorf(op, "blob writer is finished: %w", repoerr.ErrInvalidArgument)
	}
	if int64(len(w.data)+len(data)) > w.params.LenEncoded {
		return 0, repoerr.Errorf(op, "%d bytes exceed the declared %d: %w",
			len(w.data)+len(data), w.params.LenEncoded, repoerr.ErrLengthMismatch)
	}
	w.data = append(w.data, data...)
	if w.hasher != nil {
		w.hasher.Chunk(data)
	}
	return len(data), nil
}

// Write implements io.Writer over Chunk.
func (w *BlobWriter) Write(data []byte) (int, error) { return w.Chunk(data) }

// End finishes the blob and stages it. See Repo.StoreEnd.
func (w *BlobWriter) End(ctx context.Context) (hid.HID, error) {
	return w.repo.StoreEnd(ctx, w.tx, w)
}

// Abort discards the blob. See Repo.StoreAbort.
func (w *BlobWriter) Abort() error {
	return w.repo.StoreAbort(w.tx, w)
}

func (w *BlobWriter) release() {
	if w.done {
		return
	}
	w.done = true
	if w.hasher != nil {
		w.hasher.Abort()
	}
	w.tx.mu.Lock()
	w.tx.writers--
	w.tx.mu.Unlock()
}

// StoreEnd finishes w and returns the blob's HID. The HID is the
// supplied KnownHID, or the hash of the full content: hashed as it
// streamed for Full blobs, decoded and hashed here otherwise. When a
// blob with that HID is already stored or staged nothing new is
// staged and the same HID is returned.
func (r *Repo) StoreEnd(ctx context.Context, tx *Tx, w *BlobWriter) (hid.HID, error) {
	const op = "store_end"
	if w.tx != tx || w.repo != r {
		return "", repoerr.Errorf(op, "blob writer belongs to another transaction: %w", repoerr.ErrInvalidArgument)
	}
	if w.done {
		return "", repoerr.Errorf(op, "blob writer is finished: %w", repoerr.ErrInvalidArgument)
	}
	if err := tx.check(r, op); err != nil {
		w.release()
		return "", err
	}
	instance, method, err := r.backend(op)
	if err != nil {
		w.release()
		return "", err
	}

	id, err := w.finish(ctx, method)
	if err != nil {
		return "", repoerr.E(op, err)
	}

	if _, ok := tx.stagedBlob(id); ok {
		return id, nil
	}
	_, err = instance.StatBlob(ctx, id)
	switch {
	case err == nil:
		r.logger.Debug("blob already stored", "hid", id.Short())
		return id, nil
	case !errors.Is(err, repoerr.ErrBlobNotFound):
		return "", repoerr.E(op, err)
	}

	tx.stageBlob(storage.Blob{
		BlobInfo: storage.BlobInfo{
			HID:        id,
			Encoding:   w.params.Encoding,
			Reference:  w.params.Reference,
			LenEncoded: w.params.LenEncoded,
			LenFull:    w.params.LenFull,
		},
		Data: w.data,
	})
	return id, nil
}

// finish checks lengths and derives the HID. It releases w.
func (w *BlobWriter) finish(ctx context.Context, method *hid.Method) (hid.HID, error) {
	defer w.release()
	if int64(len(w.data)) != w.params.LenEncoded {
		return "", fmt.Errorf("received %d bytes, declared %d: %w",
			len(w.data), w.params.LenEncoded, repoerr.ErrLengthMismatch)
	}

	var reference []byte
	if w.params.Encoding.IsDelta() {
		var err error
		reference, err = w.repo.FetchBytes(ctx, w.params.Reference)
		if err != nil {
			return "", fmt.Errorf("delta reference %s: %w", w.params.Reference.Short(), err)
		}
	}

	switch {
	case !w.params.KnownHID.IsZero():
		return w.params.KnownHID, nil
	case w.hasher != nil:
		id := w.hasher.End()
		w.hasher = nil
		return id, nil
	}
	full, err := blobenc.Decode(w.params.Encoding, w.data, reference, w.params.LenFull)
	if err != nil {
		return "", err
	}
	return method.Sum(full), nil
}

// StoreAbort discards w. Nothing it received is staged.
func (r *Repo) StoreAbort(tx *Tx, w *BlobWriter) error {
	if w.tx != tx || w.repo != r {
		return repoerr.Errorf("store_abort", "blob writer belongs to another transaction: %w", repoerr.ErrInvalidArgument)
	}
	w.release()
	w.data = nil
	return nil
}

// StoreBytes stores data, encoded with encoding when that shrinks it,
// and returns its HID. Delta is not accepted here; use StoreBegin with
// a reference.
func (r *Repo) StoreBytes(ctx context.Context, tx *Tx, data []byte, encoding blobenc.Encoding) (hid.HID, error) {
	const op = "store_bytes"
	if encoding.IsDelta() {
		return "", repoerr.Errorf(op, "delta needs a reference: %w", repoerr.ErrInvalidArgument)
	}
	encoded, used, err := blobenc.EncodeWithFallback(encoding, data, nil)
	if err != nil {
		return "", repoerr.E(op, err)
	}
	_, method, err := r.backend(op)
	if err != nil {
		return "", err
	}

	// Hashing here saves decoding the blob again in StoreEnd.
	writer, err := r.StoreBegin(ctx, tx, StoreParams{
		Encoding:   used,
		LenFull:    int64(len(data)),
		LenEncoded: int64(len(encoded)),
		KnownHID:   method.Sum(data),
	})
	if err != nil {
		return "", err
	}
	if _, err := writer.Chunk(encoded); err != nil {
		writer.Abort()
		return "", err
	}
	return r.StoreEnd(ctx, tx, writer)
}

// StoreDelta stores data as a delta against reference and returns its
// HID.
func (r *Repo) StoreDelta(ctx context.Context, tx *Tx, data []byte, reference hid.HID) (hid.HID, error) {
	const op = "store_delta"
	referenceFull, err := r.FetchBytes(ctx, reference)
	if err != nil {
		return "", err
	}
	encoded, err := blobenc.Encode(blobenc.Delta, data, referenceFull)
	if err != nil {
		return "", repoerr.E(op, err)
	}
	_, method, err := r.backend(op)
	if err != nil {
		return "", err
	}
	writer, err := r.StoreBegin(ctx, tx, StoreParams{
		Encoding:   blobenc.Delta,
		Reference:  reference,
		LenFull:    int64(len(data)),
		LenEncoded: int64(len(encoded)),
		KnownHID:   method.Sum(data),
	})
	if err != nil {
		return "", err
	}
	if _, err := writer.Chunk(encoded); err != nil {
		writer.Abort()
		return "", err
	}
	return r.StoreEnd(ctx, tx, writer)
}

// BlobReader streams one blob's bytes. It is not safe for concurrent
// use. Finish it with End or Abort.
type BlobReader struct {
	info    storage.BlobInfo
	id      hid.HID
	stream  io.Reader
	closer  io.Closer
	hasher  *hid.Hasher
	full    bool
	want    int64
	count   int64
	done    bool
	closed  bool
	readErr error
}

// Info returns how the blob is stored.
func (b *BlobReader) Info() storage.BlobInfo { return b.info }

// Encoding is the encoding of the bytes Chunk returns: the stored
// encoding, or Full when converting.
func (b *BlobReader) Encoding() blobenc.Encoding {
	if b.full {
		return blobenc.Full
	}
	return b.info.Encoding
}

// FetchBegin opens a blob for reading. With convertToFull the stored
// form is decoded on the fly, the content is hashed, and a mismatch
// with the HID or the declared length fails the read at its end.
// Without it the stored bytes are returned as they are. Blobs staged
// in the handle's open transaction are visible.
func (r *Repo) FetchBegin(ctx context.Context, id hid.HID, convertToFull bool) (*BlobReader, error) {
	const op = "fetch_begin"
	instance, method, err := r.backend(op)
	if err != nil {
		return nil, err
	}

	var (
		info storage.BlobInfo
		raw  io.ReadCloser
	)
	if staged, ok := r.stagedBlob(id); ok {
		info = staged.BlobInfo
		raw = io.NopCloser(bytes.NewReader(staged.Data))
	} else {
		info, raw, err = instance.OpenBlob(ctx, id)
		if err != nil {
			return nil, repoerr.E(op, err)
		}
	}

	reader := &BlobReader{info: info, id: id, stream: raw, closer: raw}
	reader.full = convertToFull || info.Encoding == blobenc.Full
	if !reader.full {
		reader.want = info.LenEncoded
		return reader, nil
	}
	reader.want = info.LenFull
	reader.hasher = method.Begin()

	if info.Encoding != blobenc.Full {
		var reference []byte
		if info.Encoding.IsDelta() {
			reference, err = r.FetchBytes(ctx, info.Reference)
			if err != nil {
				raw.Close()
				return nil, repoerr.Errorf(op, "delta reference of %s: %w", id.Short(), err)
			}
		}
		decoder, err := blobenc.NewReader(info.Encoding, raw, reference, info.LenFull)
		if err != nil {
			raw.Close()
			return nil, repoerr.E(op, err)
		}
		reader.stream = decoder
		reader.closer = closerFunc(func() error {
			return errors.Join(decoder.Close(), raw.Close())
		})
	}
	return reader, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (r *Repo) stagedBlob(id hid.HID) (storage.Blob, bool) {
	tx := r.openTx()
	if tx == nil {
		return storage.Blob{}, false
	}
	return tx.stagedBlob(id)
}

// Chunk reads up to len(buf) bytes. done is true once the blob has
// been read completely and, for full content, verified.
func (b *BlobReader) Chunk(buf []byte) (n int, done bool, err error) {
	const op = "fetch_chunk"
	if b.closed {
		return 0, false, repoerr.Errorf(op, "blob reader is closed: %w", repoerr.ErrInvalidArgument)
	}
	if b.readErr != nil {
		return 0, false, b.readErr
	}
	if b.done {
		return 0, true, nil
	}

	n, err = b.stream.Read(buf)
	if n > 0 {
		b.count += int64(n)
		if b.count > b.want {
			b.readErr = repoerr.Errorf(op, "blob %s is longer than its declared %d bytes: %w",
				b.id.Short(), b.want, repoerr.ErrLengthMismatch)
			return 0, false, b.readErr
		}
		if b.hasher != nil {
			b.hasher.Chunk(buf[:n])
		}
	}
	switch {
	case err == io.EOF:
		if verifyErr := b.verify(); verifyErr != nil {
			b.readErr = repoerr.E(op, verifyErr)
			return 0, false, b.readErr
		}
		b.done = true
		return n, true, nil
	case err != nil:
		b.readErr = repoerr.Errorf(op, "reading blob %s: %v: %w", b.id.Short(), err, repoerr.ErrBlobNotVerified)
		return 0, false, b.readErr
	}
	return n, false, nil
}

func (b *BlobReader) verify() error {
	if b.count != b.want {
		return fmt.Errorf("blob %s: read %d bytes, declared %d: %w",
			b.id.Short(), b.count, b.want, repoerr.ErrLengthMismatch)
	}
	if b.hasher == nil {
		return nil
	}
	got := b.hasher.End()
	b.hasher = nil
	if got != b.id {
		return fmt.Errorf("blob %s hashes to %s: %w", b.id.Short(), got.Short(), repoerr.ErrBlobNotVerified)
	}
	return nil
}

// Read implements io.Reader over Chunk. It returns io.EOF only after
// the content has been verified.
func (b *BlobReader) Read(p []byte) (int, error) {
	for {
		n, done, err := b.Chunk(p)
		if err != nil {
			return n, err
		}
		if n > 0 || len(p) == 0 {
			return n, nil
		}
		if done {
			return 0, io.EOF
		}
	}
}

// End closes a reader that has been read to the end. Ending a reader
// before it is done fails; use Abort to stop early.
func (b *BlobReader) End() error {
	if b.closed {
		return nil
	}
	if !b.done {
		b.Abort()
		return repoerr.Errorf("fetch_end", "blob %s was not read to the end: %w", b.id.Short(), repoerr.ErrInvalidArgument)
	}
	b.closed = true
	return repoerr.E("fetch_end", b.closer.Close())
}

// Abort closes the reader without finishing it.
func (b *BlobReader) Abort() {
	if b.closed {
		return
	}
	b.closed = true
	if b.hasher != nil {
		b.hasher.Abort()
		b.hasher = nil
	}
	b.closer.Close()
}

// FetchBytes returns a blob's full content, verified.
func (r *Repo) FetchBytes(ctx context.Context, id hid.HID) ([]byte, error) {
	reader, err := r.FetchBegin(ctx, id, true)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, reader.info.LenFull)
	buf := make([]byte, 32*1024)
	for {
		n, done, err := reader.Chunk(buf)
		if err != nil {
			reader.Abort()
			return nil, err
		}
		data = append(data, buf[:n]...)
		if done {
			break
		}
	}
	if err := reader.End(); err != nil {
		return nil, err
	}
	return data, nil
}

// StatBlob returns how a blob is stored, including blobs staged in the
// open transaction.
func (r *Repo) StatBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, error) {
	const op = "stat_blob"
	instance, _, err := r.backend(op)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	if staged, ok := r.stagedBlob(id); ok {
		return staged.BlobInfo, nil
	}
	info, err := instance.StatBlob(ctx, id)
	return info, repoerr.E(op, err)
}

// QueryBlobExistence returns the subset of ids that are neither stored
// nor staged in the open transaction, in input order.
func (r *Repo) QueryBlobExistence(ctx context.Context, ids []hid.HID) ([]hid.HID, error) {
	const op = "query_blob_existence"
	instance, _, err := r.backend(op)
	if err != nil {
		return nil, err
	}
	missing, err := instance.MissingBlobs(ctx, ids)
	if err != nil {
		return nil, repoerr.E(op, err)
	}
	if tx := r.openTx(); tx != nil {
		staged := hid.NewSet(tx.stagedBlobIDs()...)
		missing = slices.DeleteFunc(missing, staged.Has)
	}
	return missing, nil
}
