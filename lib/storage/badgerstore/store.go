// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// nodeRecord is the value under a node key.
type nodeRecord struct {
	Generation int64     `cbor:"1,keyasint"`
	Revision   int64     `cbor:"2,keyasint"`
	Parents    []hid.HID `cbor:"3,keyasint,omitempty"`
}

// blobRecord is the value under a blob metadata key.
type blobRecord struct {
	Encoding   blobenc.Encoding `cbor:"1,keyasint"`
	Reference  hid.HID          `cbor:"2,keyasint,omitempty"`
	LenEncoded int64            `cbor:"3,keyasint"`
	LenFull    int64            `cbor:"4,keyasint"`
}

// Store is an open badger repository instance.
type Store struct {
	db       *badger.DB
	identity storage.Identity
	logger   *slog.Logger

	// applyMu serializes Apply so that revision counters never
	// conflict between goroutines of this process.
	applyMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ storage.Instance = (*Store)(nil)

func newStore(db *badger.DB, identity storage.Identity, logger *slog.Logger) *Store {
	return &Store{db: db, identity: identity, logger: logger}
}

func (s *Store) Identity() storage.Identity { return s.identity }

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if err := s.db.Close(); err != nil {
			s.closeErr = fmt.Errorf("closing badger: %w", err)
		}
	})
	return s.closeErr
}

// mapError translates Badger transaction conflicts into
// ErrDatabaseBusy.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%s: %v: %w", op, err, repoerr.ErrDatabaseBusy)
	case repoerr.KindOf(err) != repoerr.Other:
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// has reports whether key is present in txn.
func has(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn for every item under prefix, starting at start (which
// must itself begin with prefix). Item keys are only valid inside fn.
func scan(txn *badger.Txn, prefix, start []byte, values bool, fn func(item *badger.Item) (bool, error)) error {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = values
	options.Prefix = prefix
	iterator := txn.NewIterator(options)
	defer iterator.Close()
	for iterator.Seek(start); iterator.ValidForPrefix(prefix); iterator.Next() {
		more, err := fn(iterator.Item())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

// scanHIDs collects the HIDs that follow skip bytes in each key under
// prefix.
func scanHIDs(txn *badger.Txn, prefix []byte, skip int) ([]hid.HID, error) {
	var ids []hid.HID
	err := scan(txn, prefix, prefix, false, func(item *badger.Item) (bool, error) {
		ids = append(ids, hid.HID(item.Key()[skip:]))
		return true, nil
	})
	return ids, err
}

// Apply commits a batch in one Badger transaction.
func (s *Store) Apply(ctx context.Context, batch *storage.Batch) (storage.ApplyResult, error) {
	if err := batch.Validate(); err != nil {
		return storage.ApplyResult{}, err
	}
	if batch.Empty() {
		return storage.ApplyResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return storage.ApplyResult{}, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	var result storage.ApplyResult
	err := s.db.Update(func(txn *badger.Txn) error {
		result = storage.ApplyResult{Revisions: make([]int64, len(batch.Nodes))}
		for i := range batch.Blobs {
			stored, err := putBlob(txn, &batch.Blobs[i])
			if err != nil {
				return err
			}
			if stored {
				result.BlobsStored++
			}
		}
		for i, node := range batch.Nodes {
			revision, err := putNode(txn, node)
			if err != nil {
				return err
			}
			result.Revisions[i] = revision
		}
		for _, audit := range batch.Audits {
			if err := txn.Set(auditKey(audit), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storage.ApplyResult{}, mapError("apply", err)
	}
	s.logger.Debug("batch applied",
		"blobs", len(batch.Blobs),
		"blobs_stored", result.BlobsStored,
		"nodes", len(batch.Nodes),
		"audits", len(batch.Audits),
	)
	return result, nil
}

func putBlob(txn *badger.Txn, blob *storage.Blob) (bool, error) {
	infoKey := blobInfoKey(blob.HID)
	present, err := has(txn, infoKey)
	if err != nil || present {
		return false, err
	}
	record, err := codec.Marshal(blobRecord{
		Encoding:   blob.Encoding,
		Reference:  blob.Reference,
		LenEncoded: blob.LenEncoded,
		LenFull:    blob.LenFull,
	})
	if err != nil {
		return false, err
	}
	if err := txn.Set(infoKey, record); err != nil {
		return false, err
	}
	if err := txn.Set(blobDataKey(blob.HID), blob.Data); err != nil {
		return false, err
	}
	return true, nil
}

func putNode(txn *badger.Txn, node *dagnode.Dagnode) (int64, error) {
	duplicate, err := has(txn, nodeKey(node.Dagnum, node.ID))
	if err != nil {
		return 0, err
	}
	if duplicate {
		return 0, storage.DuplicateError(node)
	}
	for _, parent := range node.Parents {
		present, err := has(txn, nodeKey(node.Dagnum, parent))
		if err != nil {
			return 0, err
		}
		if !present {
			return 0, storage.SparseError(node, parent)
		}
	}

	revision, err := lastRevision(txn, node.Dagnum)
	if err != nil {
		return 0, err
	}
	revision++

	record, err := codec.Marshal(nodeRecord{
		Generation: node.Generation,
		Revision:   revision,
		Parents:    node.Parents,
	})
	if err != nil {
		return 0, err
	}
	writes := []struct {
		key, value []byte
	}{
		{counterKey(node.Dagnum), uint64Bytes(uint64(revision))},
		{nodeKey(node.Dagnum, node.ID), record},
		{revisionKey(node.Dagnum, revision), []byte(node.ID)},
		{generationKey(node.Dagnum, node.Generation, node.ID), nil},
		{leafKey(node.Dagnum, node.ID), nil},
	}
	for _, parent := range node.Parents {
		writes = append(writes, struct{ key, value []byte }{childKey(node.Dagnum, parent, node.ID), nil})
	}
	for _, write := range writes {
		if err := txn.Set(write.key, write.value); err != nil {
			return 0, err
		}
	}
	for _, parent := range node.Parents {
		if err := txn.Delete(leafKey(node.Dagnum, parent)); err != nil {
			return 0, err
		}
	}
	return revision, nil
}

// lastRevision returns the highest revision assigned in dagnum, 0 when
// the dagnum is empty.
func lastRevision(txn *badger.Txn, dagnum dagnode.Dagnum) (int64, error) {
	item, err := txn.Get(counterKey(dagnum))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var revision int64
	err = item.Value(func(value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("revision counter for dagnum %s has %d bytes", dagnum, len(value))
		}
		revision = int64(binary.BigEndian.Uint64(value))
		return nil
	})
	return revision, err
}

func (s *Store) view(op string, fn func(txn *badger.Txn) error) error {
	return mapError(op, s.db.View(fn))
}

func readBlobInfo(txn *badger.Txn, id hid.HID) (storage.BlobInfo, error) {
	item, err := txn.Get(blobInfoKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.BlobInfo{}, storage.BlobNotFound(id)
	}
	if err != nil {
		return storage.BlobInfo{}, err
	}
	var record blobRecord
	err = item.Value(func(value []byte) error {
		return codec.Unmarshal(value, &record)
	})
	if err != nil {
		return storage.BlobInfo{}, fmt.Errorf("blob %s metadata: %w", id.Short(), err)
	}
	return storage.BlobInfo{
		HID:        id,
		Encoding:   record.Encoding,
		Reference:  record.Reference,
		LenEncoded: record.LenEncoded,
		LenFull:    record.LenFull,
	}, nil
}

func (s *Store) StatBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, error) {
	var info storage.BlobInfo
	err := s.view("stat blob", func(txn *badger.Txn) (err error) {
		info, err = readBlobInfo(txn, id)
		return err
	})
	return info, err
}

func (s *Store) OpenBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, io.ReadCloser, error) {
	var (
		info storage.BlobInfo
		data []byte
	)
	err := s.view("open blob", func(txn *badger.Txn) error {
		var err error
		info, err = readBlobInfo(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(blobDataKey(id))
		if err != nil {
			return fmt.Errorf("blob %s data: %w", id.Short(), err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return storage.BlobInfo{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) MissingBlobs(ctx context.Context, ids []hid.HID) ([]hid.HID, error) {
	var missing []hid.HID
	seen := hid.NewSet()
	err := s.view("missing blobs", func(txn *badger.Txn) error {
		for _, id := range ids {
			if seen.Has(id) {
				continue
			}
			seen.Add(id)
			present, err := has(txn, blobInfoKey(id))
			if err != nil {
				return err
			}
			if !present {
				missing = append(missing, id)
			}
		}
		return nil
	})
	return missing, err
}

func (s *Store) FindBlobsByPrefix(ctx context.Context, prefix string) ([]hid.HID, error) {
	var ids []hid.HID
	err := s.view("find blobs", func(txn *badger.Txn) (err error) {
		ids, err = scanHIDs(txn, hidPrefixKey(blobInfoPrefix, prefix), len(blobInfoPrefix))
		return err
	})
	return ids, err
}

func readNode(txn *badger.Txn, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error) {
	item, err := txn.Get(nodeKey(dagnum, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.DagnodeNotFound(dagnum, id)
	}
	if err != nil {
		return nil, err
	}
	var record nodeRecord
	err = item.Value(func(value []byte) error {
		return codec.Unmarshal(value, &record)
	})
	if err != nil {
		return nil, fmt.Errorf("dagnode %s record: %w", id.Short(), err)
	}
	return dagnode.Stored(dagnum, id, record.Parents, record.Generation, record.Revision), nil
}

func (s *Store) FetchDagnode(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error) {
	var node *dagnode.Dagnode
	err := s.view("fetch dagnode", func(txn *badger.Txn) (err error) {
		node, err = readNode(txn, dagnum, id)
		return err
	})
	return node, err
}

func (s *Store) PresentDagnodes(ctx context.Context, dagnum dagnode.Dagnum, ids []hid.HID) (hid.Set, error) {
	present := hid.NewSet()
	err := s.view("present dagnodes", func(txn *badger.Txn) error {
		for _, id := range ids {
			found, err := has(txn, nodeKey(dagnum, id))
			if err != nil {
				return err
			}
			if found {
				present.Add(id)
			}
		}
		return nil
	})
	return present, err
}

func (s *Store) Leaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error) {
	prefix := key(leafPrefix, dagnumBytes(dagnum))
	var ids []hid.HID
	err := s.view("leaves", func(txn *badger.Txn) (err error) {
		ids, err = scanHIDs(txn, prefix, len(prefix))
		return err
	})
	return ids, err
}

func (s *Store) Children(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]hid.HID, error) {
	prefix := childKeyPrefix(dagnum, id)
	var ids []hid.HID
	err := s.view("children", func(txn *badger.Txn) (err error) {
		ids, err = scanHIDs(txn, prefix, len(prefix))
		return err
	})
	return ids, err
}

func (s *Store) DagnodesByGeneration(ctx context.Context, dagnum dagnode.Dagnum, minGeneration, maxGeneration int64) ([]hid.HID, error) {
	prefix := key(genPrefix, dagnumBytes(dagnum))
	start := key(prefix, uint64Bytes(uint64(max(minGeneration, 0))))
	var ids []hid.HID
	err := s.view("dagnodes by generation", func(txn *badger.Txn) error {
		return scan(txn, prefix, start, false, func(item *badger.Item) (bool, error) {
			k := item.Key()
			generation := int64(binary.BigEndian.Uint64(k[len(prefix):]))
			if generation > maxGeneration {
				return false, nil
			}
			ids = append(ids, hid.HID(k[len(prefix)+8:]))
			return true, nil
		})
	})
	return ids, err
}

func (s *Store) ChronoList(ctx context.Context, dagnum dagnode.Dagnum, startRevision int64, count int) ([]hid.HID, error) {
	if count <= 0 {
		return nil, nil
	}
	prefix := key(revisionPrefix, dagnumBytes(dagnum))
	start := revisionKey(dagnum, max(startRevision, 0))
	var ids []hid.HID
	err := s.view("chrono list", func(txn *badger.Txn) error {
		return scan(txn, prefix, start, true, func(item *badger.Item) (bool, error) {
			value, err := item.ValueCopy(nil)
			if err != nil {
				return false, err
			}
			ids = append(ids, hid.HID(value))
			return len(ids) < count, nil
		})
	})
	return ids, err
}

func (s *Store) DagnodeByRevision(ctx context.Context, dagnum dagnode.Dagnum, revision int64) (hid.HID, error) {
	var id hid.HID
	err := s.view("dagnode by revision", func(txn *badger.Txn) error {
		item, err := txn.Get(revisionKey(dagnum, revision))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("revision %d in dagnum %s: %w", revision, dagnum, repoerr.ErrDagnodeNotFound)
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		id = hid.HID(value)
		return err
	})
	return id, err
}

func (s *Store) FindDagnodesByPrefix(ctx context.Context, dagnum dagnode.Dagnum, prefix string) ([]hid.HID, error) {
	base := key(nodePrefix, dagnumBytes(dagnum))
	var ids []hid.HID
	err := s.view("find dagnodes", func(txn *badger.Txn) (err error) {
		ids, err = scanHIDs(txn, hidPrefixKey(base, prefix), len(base))
		return err
	})
	return ids, err
}

func (s *Store) Dagnums(ctx context.Context) ([]dagnode.Dagnum, error) {
	var dagnums []dagnode.Dagnum
	err := s.view("dagnums", func(txn *badger.Txn) error {
		return scan(txn, counterPrefix, counterPrefix, false, func(item *badger.Item) (bool, error) {
			dagnums = append(dagnums, dagnode.Dagnum(binary.BigEndian.Uint64(item.Key()[len(counterPrefix):])))
			return true, nil
		})
	})
	return dagnums, err
}

// DagnodeCount reads the revision counter: revisions are dense from 1.
func (s *Store) DagnodeCount(ctx context.Context, dagnum dagnode.Dagnum) (int64, error) {
	var count int64
	err := s.view("dagnode count", func(txn *badger.Txn) (err error) {
		count, err = lastRevision(txn, dagnum)
		return err
	})
	return count, err
}

func (s *Store) Audits(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]dagnode.Audit, error) {
	prefix := auditKeyPrefix(dagnum, id)
	var audits []dagnode.Audit
	err := s.view("audits", func(txn *badger.Txn) error {
		return scan(txn, prefix, prefix, false, func(item *badger.Item) (bool, error) {
			suffix := item.Key()[len(prefix):]
			audits = append(audits, dagnode.Audit{
				Changeset: id,
				Dagnum:    dagnum,
				UserID:    string(suffix[8:]),
				Timestamp: int64(binary.BigEndian.Uint64(suffix)),
			})
			return true, nil
		})
	})
	return audits, err
}

// RecomputeLeaves rebuilds dagnum's leaf keys from its nodes and child
// edges. A read-write transaction allows one iterator at a time, so
// each scan completes before the next starts.
func (s *Store) RecomputeLeaves(ctx context.Context, dagnum dagnode.Dagnum) ([]hid.HID, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	dagnumKey := dagnumBytes(dagnum)
	nodesPrefix := key(nodePrefix, dagnumKey)
	edgesPrefix := key(childPrefix, dagnumKey)
	leavesPrefix := key(leafPrefix, dagnumKey)

	var leaves []hid.HID
	err := s.db.Update(func(txn *badger.Txn) error {
		nodes, err := scanHIDs(txn, nodesPrefix, len(nodesPrefix))
		if err != nil {
			return err
		}
		parents := hid.NewSet()
		err = scan(txn, edgesPrefix, edgesPrefix, false, func(item *badger.Item) (bool, error) {
			rest := item.Key()[len(edgesPrefix):]
			if separator := bytes.IndexByte(rest, 0); separator >= 0 {
				parents.Add(hid.HID(rest[:separator]))
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		stale, err := scanHIDs(txn, leavesPrefix, len(leavesPrefix))
		if err != nil {
			return err
		}
		for _, id := range stale {
			if err := txn.Delete(leafKey(dagnum, id)); err != nil {
				return err
			}
		}
		leaves = leaves[:0]
		for _, id := range nodes {
			if parents.Has(id) {
				continue
			}
			if err := txn.Set(leafKey(dagnum, id), nil); err != nil {
				return err
			}
			leaves = append(leaves, id)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("recompute leaves", err)
	}
	return leaves, nil
}
