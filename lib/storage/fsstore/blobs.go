// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// maxHeaderSize bounds the CBOR header of a blob file.
const maxHeaderSize = 4096

type blobHeader struct {
	Encoding   blobenc.Encoding `cbor:"1,keyasint"`
	Reference  hid.HID          `cbor:"2,keyasint,omitempty"`
	LenEncoded int64            `cbor:"3,keyasint"`
	LenFull    int64            `cbor:"4,keyasint"`
}

// blobPath returns the sharded path of a blob file:
// blobs/a3/f9/a3f9b2c1e7d4...
func (s *Store) blobPath(id hid.HID) string {
	name := string(id)
	if len(name) < 4 {
		return filepath.Join(s.root, blobsDir, name)
	}
	return filepath.Join(s.root, blobsDir, name[:2], name[2:4], name)
}

func (s *Store) blobExists(id hid.HID) (bool, error) {
	_, err := os.Stat(s.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", id.Short(), err)
	}
	return true, nil
}

func (s *Store) writeBlob(blob *storage.Blob) error {
	header, err := codec.Marshal(blobHeader{
		Encoding:   blob.Encoding,
		Reference:  blob.Reference,
		LenEncoded: blob.LenEncoded,
		LenFull:    blob.LenFull,
	})
	if err != nil {
		return err
	}
	data := make([]byte, 0, 4+len(header)+len(blob.Data))
	data = binary.BigEndian.AppendUint32(data, uint32(len(header)))
	data = append(data, header...)
	data = append(data, blob.Data...)
	return s.writeFile(s.blobPath(blob.HID), data)
}

// openBlobFile opens a blob file and reads its header, leaving the file
// positioned at the stored bytes.
func (s *Store) openBlobFile(id hid.HID) (storage.BlobInfo, *os.File, error) {
	file, err := os.Open(s.blobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return storage.BlobInfo{}, nil, storage.BlobNotFound(id)
	}
	if err != nil {
		return storage.BlobInfo{}, nil, fmt.Errorf("opening blob %s: %w", id.Short(), err)
	}
	info, err := readBlobHeader(file, id)
	if err != nil {
		file.Close()
		return storage.BlobInfo{}, nil, err
	}
	return info, file, nil
}

func readBlobHeader(r io.Reader, id hid.HID) (storage.BlobInfo, error) {
	var sizeBytes [4]byte
	if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
		return storage.BlobInfo{}, fmt.Errorf("blob %s header: %v: %w", id.Short(), err, repoerr.ErrBlobNotVerified)
	}
	size := binary.BigEndian.Uint32(sizeBytes[:])
	if size > maxHeaderSize {
		return storage.BlobInfo{}, fmt.Errorf("blob %s header claims %d bytes: %w", id.Short(), size, repoerr.ErrBlobNotVerified)
	}
	headerBytes := make([]byte, size)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return storage.BlobInfo{}, fmt.Errorf("blob %s header: %v: %w", id.Short(), err, repoerr.ErrBlobNotVerified)
	}
	var header blobHeader
	if err := codec.Unmarshal(headerBytes, &header); err != nil {
		return storage.BlobInfo{}, fmt.Errorf("blob %s header: %v: %w", id.Short(), err, repoerr.ErrBlobNotVerified)
	}
	return storage.BlobInfo{
		HID:        id,
		Encoding:   header.Encoding,
		Reference:  header.Reference,
		LenEncoded: header.LenEncoded,
		LenFull:    header.LenFull,
	}, nil
}

func (s *Store) StatBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, error) {
	info, file, err := s.openBlobFile(id)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	file.Close()
	return info, nil
}

// OpenBlob streams the stored bytes straight from the blob file.
func (s *Store) OpenBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, io.ReadCloser, error) {
	info, file, err := s.openBlobFile(id)
	if err != nil {
		return storage.BlobInfo{}, nil, err
	}
	return info, file, nil
}

func (s *Store) MissingBlobs(ctx context.Context, ids []hid.HID) ([]hid.HID, error) {
	var missing []hid.HID
	seen := hid.NewSet()
	for _, id := range ids {
		if seen.Has(id) {
			continue
		}
		seen.Add(id)
		present, err := s.blobExists(id)
		if err != nil {
			return nil, err
		}
		if !present {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// FindBlobsByPrefix walks the narrowest shard directory the prefix
// determines.
func (s *Store) FindBlobsByPrefix(ctx context.Context, prefix string) ([]hid.HID, error) {
	prefix = strings.ToLower(prefix)
	dir := filepath.Join(s.root, blobsDir)
	if len(prefix) >= 2 {
		dir = filepath.Join(dir, prefix[:2])
	}
	if len(prefix) >= 4 {
		dir = filepath.Join(dir, prefix[2:4])
	}

	var ids []hid.HID
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if name := entry.Name(); strings.HasPrefix(name, prefix) {
			ids = append(ids, hid.HID(name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching blobs for %q: %w", prefix, err)
	}
	hid.Sort(ids)
	return ids, nil
}
