// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/sqlitepool"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Store is an open sqlite repository instance.
type Store struct {
	pool     *sqlitepool.Pool
	logger   *slog.Logger
	identity storage.Identity
}

var _ storage.Instance = (*Store)(nil)

func (s *Store) Identity() storage.Identity { return s.identity }

// Close closes the connection pool.
func (s *Store) Close() error { return s.pool.Close() }

// read borrows a connection for fn.
func (s *Store) read(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return mapError(op, fn(conn))
}

// collectHIDs runs a query whose first column is a HID.
func collectHIDs(conn *sqlite.Conn, query string, args ...any) ([]hid.HID, error) {
	var ids []hid.HID
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, hid.HID(stmt.ColumnText(0)))
			return nil
		},
	})
	return ids, err
}

// exists reports whether a query returns at least one row.
func exists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	found := false
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

// prefixRange returns bounds selecting HIDs that start with prefix.
// '~' sorts after every hex digit.
func prefixRange(prefix string) (string, string) {
	lower := strings.ToLower(prefix)
	return lower, lower + "~"
}

// Apply commits a batch in one IMMEDIATE transaction.
func (s *Store) Apply(ctx context.Context, batch *storage.Batch) (result storage.ApplyResult, err error) {
	if err := batch.Validate(); err != nil {
		return storage.ApplyResult{}, err
	}
	if batch.Empty() {
		return storage.ApplyResult{}, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return storage.ApplyResult{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return storage.ApplyResult{}, mapError("begin transaction", err)
	}
	defer endTransaction(&err)

	for i := range batch.Blobs {
		blob := &batch.Blobs[i]
		var reference any
		if !blob.Reference.IsZero() {
			reference = string(blob.Reference)
		}
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO blobs
			(hid, encoding, reference, len_encoded, len_full, data)
			VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{string(blob.HID), int(blob.Encoding), reference, blob.LenEncoded, blob.LenFull, blob.Data},
		})
		if err != nil {
			return storage.ApplyResult{}, mapError("store blob", err)
		}
		result.BlobsStored += conn.Changes()
	}

	result.Revisions = make([]int64, len(batch.Nodes))
	for i, node := range batch.Nodes {
		var revision int64
		revision, err = insertNode(conn, node)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		result.Revisions[i] = revision
	}

	for _, audit := range batch.Audits {
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO audits
			(dagnum, hid, user_id, timestamp) VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{int64(audit.Dagnum), string(audit.Changeset), audit.UserID, audit.Timestamp},
		})
		if err != nil {
			return storage.ApplyResult{}, mapError("store audit", err)
		}
	}

	s.logger.Debug("batch applied",
		"blobs", len(batch.Blobs),
		"blobs_stored", result.BlobsStored,
		"nodes", len(batch.Nodes),
		"audits", len(batch.Audits),
	)
	return result, nil
}

// insertNode checks and stores one node inside the open transaction.
func insertNode(conn *sqlite.Conn, node *dagnode.Dagnode) (int64, error) {
	dagnum := int64(node.Dagnum)
	id := string(node.ID)

	duplicate, err := exists(conn, "SELECT 1 FROM dagnodes WHERE dagnum = ? AND hid = ?", dagnum, id)
	if err != nil {
		return 0, mapError("check dagnode", err)
	}
	if duplicate {
		return 0, storage.DuplicateError(node)
	}
	for _, parent := range node.Parents {
		present, err := exists(conn, "SELECT 1 FROM dagnodes WHERE dagnum = ? AND hid = ?", dagnum, string(parent))
		if err != nil {
			return 0, mapError("check parent", err)
		}
		if !present {
			return 0, storage.SparseError(node, parent)
		}
	}

	var revision int64
	err = sqlitex.Execute(conn, "SELECT COALESCE(MAX(revision), 0) + 1 FROM dagnodes WHERE dagnum = ?", &sqlitex.ExecOptions{
		Args: []any{dagnum},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			revision = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, mapError("next revision", err)
	}

	err = sqlitex.Execute(conn, "INSERT INTO dagnodes (dagnum, hid, generation, revision) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{dagnum, id, node.Generation, revision},
	})
	if err != nil {
		return 0, mapError("insert dagnode", err)
	}
	for _, parent := range node.Parents {
		err = sqlitex.Execute(conn, "INSERT INTO edges (dagnum, child, parent) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{dagnum, id, string(parent)},
		})
		if err != nil {
			return 0, mapError("insert edge", err)
		}
		err = sqlitex.Execute(conn, "DELETE FROM leaves WHERE dagnum = ? AND hid = ?", &sqlitex.ExecOptions{
			Args: []any{dagnum, string(parent)},
		})
		if err != nil {
			return 0, mapError("update leaves", err)
		}
	}
	err = sqlitex.Execute(conn, "INSERT INTO leaves (dagnum, hid) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{dagnum, id},
	})
	if err != nil {
		return 0, mapError("update leaves", err)
	}
	return revision, nil
}

func scanBlobInfo(stmt *sqlite.Stmt) storage.BlobInfo {
	// Columns: hid(0), encoding(1), reference(2), len_encoded(3), len_full(4)
	info := storage.BlobInfo{
		HID:        hid.HID(stmt.ColumnText(0)),
		Encoding:   blobenc.Encoding(stmt.ColumnInt(1)),
		LenEncoded: stmt.ColumnInt64(3),
		LenFull:    stmt.ColumnInt64(4),
	}
	if !stmt.ColumnIsNull(2) {
		info.Reference = hid.HID(stmt.ColumnText(2))
	}
	return info
}

func (s *Store) StatBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, error) {
	var (
		info  storage.BlobInfo
		found bool
	)
	err := s.read(ctx, "stat blob", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT hid, encoding, reference, len_encoded, len_full FROM blobs WHERE hid = ?", &sqlitex.ExecOptions{
			Args: []any{string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info, found = scanBlobInfo(stmt), true
				return nil
			},
		})
	})
	if err != nil {
		return storage.BlobInfo{}, err
	}
	if !found {
		return storage.BlobInfo{}, storage.BlobNotFound(id)
	}
	return info, nil
}

// OpenBlob reads the stored bytes into memory; the connection is back
// in the pool before the caller reads.
func (s *Store) OpenBlob(ctx context.Context, id hid.HID) (storage.BlobInfo, io.ReadCloser, error) {
	var (
		info  storage.BlobInfo
		data  []byte
		found bool
	)
	err := s.read(ctx, "open blob", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT hid, encoding, reference, len_encoded, len_full, data FROM blobs WHERE hid = ?", &sqlitex.ExecOptions{
			Args: []any{string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info, found = scanBlobInfo(stmt), true
				data = make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, data)
				return nil
			},
		})
	})
	if err != nil {
		return storage.BlobInfo{}, nil, err
	}
	if !found {
		return storage.BlobInfo{}, nil, storage.BlobNotFound(id)
	}
	return info, io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) MissingBlobs(ctx context.Context, ids []hid.HID) ([]hid.HID, error) {
	var missing []hid.HID
	seen := hid.NewSet()
	err := s.read(ctx, "missing blobs", func(conn *sqlite.Conn) error {
		for _, id := range ids {
			if seen.Has(id) {
				continue
			}
			seen.Add(id)
			present, err := exists(conn, "SELECT 1 FROM blobs WHERE hid = ?", string(id))
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
	lower, upper := prefixRange(prefix)
	var ids []hid.HID
	err := s.read(ctx, "find blobs", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, "SELECT hid FROM blobs WHERE hid >= ? AND hid < ? ORDER BY hid", lower, upper)
		return err
	})
	return ids, err
}

func (s *Store) FetchDagnode(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) (*dagnode.Dagnode, error) {
	var (
		generation, revision int64
		parents              []hid.HID
		found                bool
	)
	err := s.read(ctx, "fetch dagnode", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT generation, revision FROM dagnodes WHERE dagnum = ? AND hid = ?", &sqlitex.ExecOptions{
			Args: []any{int64(dagnum), string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				generation, revision, found = stmt.ColumnInt64(0), stmt.ColumnInt64(1), true
				return nil
			},
		})
		if err != nil || !found {
			return err
		}
		parents, err = collectHIDs(conn, "SELECT parent FROM edges WHERE dagnum = ? AND child = ? ORDER BY parent", int64(dagnum), string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.DagnodeNotFound(dagnum, id)
	}
	return dagnode.Stored(dagnum, id, parents, generation, revision), nil
}

func (s *Store) PresentDagnodes(ctx context.Context, dagnum dagnode.Dagnum, ids []hid.HID) (hid.Set, error) {
	present := hid.NewSet()
	err := s.read(ctx, "present dagnodes", func(conn *sqlite.Conn) error {
		for _, id := range ids {
			found, err := exists(conn, "SELECT 1 FROM dagnodes WHERE dagnum = ? AND hid = ?", int64(dagnum), string(id))
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
	var ids []hid.HID
	err := s.read(ctx, "leaves", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, "SELECT hid FROM leaves WHERE dagnum = ? ORDER BY hid", int64(dagnum))
		return err
	})
	return ids, err
}

func (s *Store) Children(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]hid.HID, error) {
	var ids []hid.HID
	err := s.read(ctx, "children", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, "SELECT child FROM edges WHERE dagnum = ? AND parent = ? ORDER BY child", int64(dagnum), string(id))
		return err
	})
	return ids, err
}

func (s *Store) DagnodesByGeneration(ctx context.Context, dagnum dagnode.Dagnum, minGeneration, maxGeneration int64) ([]hid.HID, error) {
	var ids []hid.HID
	err := s.read(ctx, "dagnodes by generation", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, `SELECT hid FROM dagnodes
			WHERE dagnum = ? AND generation >= ? AND generation <= ?
			ORDER BY generation, hid`, int64(dagnum), minGeneration, maxGeneration)
		return err
	})
	return ids, err
}

func (s *Store) ChronoList(ctx context.Context, dagnum dagnode.Dagnum, startRevision int64, count int) ([]hid.HID, error) {
	var ids []hid.HID
	err := s.read(ctx, "chrono list", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, `SELECT hid FROM dagnodes
			WHERE dagnum = ? AND revision >= ?
			ORDER BY revision LIMIT ?`, int64(dagnum), startRevision, count)
		return err
	})
	return ids, err
}

func (s *Store) DagnodeByRevision(ctx context.Context, dagnum dagnode.Dagnum, revision int64) (hid.HID, error) {
	var ids []hid.HID
	err := s.read(ctx, "dagnode by revision", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, "SELECT hid FROM dagnodes WHERE dagnum = ? AND revision = ?", int64(dagnum), revision)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("revision %d in dagnum %s: %w", revision, dagnum, repoerr.ErrDagnodeNotFound)
	}
	return ids[0], nil
}

func (s *Store) FindDagnodesByPrefix(ctx context.Context, dagnum dagnode.Dagnum, prefix string) ([]hid.HID, error) {
	lower, upper := prefixRange(prefix)
	var ids []hid.HID
	err := s.read(ctx, "find dagnodes", func(conn *sqlite.Conn) (err error) {
		ids, err = collectHIDs(conn, `SELECT hid FROM dagnodes
			WHERE dagnum = ? AND hid >= ? AND hid < ? ORDER BY hid`, int64(dagnum), lower, upper)
		return err
	})
	return ids, err
}

func (s *Store) Dagnums(ctx context.Context) ([]dagnode.Dagnum, error) {
	var dagnums []dagnode.Dagnum
	err := s.read(ctx, "dagnums", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT DISTINCT dagnum FROM dagnodes", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				dagnums = append(dagnums, dagnode.Dagnum(uint64(stmt.ColumnInt64(0))))
				return nil
			},
		})
	})
	slices.Sort(dagnums)
	return dagnums, err
}

func (s *Store) DagnodeCount(ctx context.Context, dagnum dagnode.Dagnum) (int64, error) {
	var count int64
	err := s.read(ctx, "dagnode count", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM dagnodes WHERE dagnum = ?", &sqlitex.ExecOptions{
			Args: []any{int64(dagnum)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	return count, err
}

func (s *Store) Audits(ctx context.Context, dagnum dagnode.Dagnum, id hid.HID) ([]dagnode.Audit, error) {
	var audits []dagnode.Audit
	err := s.read(ctx, "audits", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT user_id, timestamp FROM audits
			WHERE dagnum = ? AND hid = ? ORDER BY timestamp, user_id`, &sqlitex.ExecOptions{
			Args: []any{int64(dagnum), string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				audits = append(audits, dagnode.Audit{
					Changeset: id,
					Dagnum:    dagnum,
					UserID:    stmt.ColumnText(0),
					Timestamp: stmt.ColumnInt64(1),
				})
				return nil
			},
		})
	})
	return audits, err
}

// RecomputeLeaves rebuilds the leaf table for dagnum from the edges:
// every node that is nobody's parent.
func (s *Store) RecomputeLeaves(ctx context.Context, dagnum dagnode.Dagnum) (leaves []hid.HID, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, mapError("begin transaction", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "DELETE FROM leaves WHERE dagnum = ?", &sqlitex.ExecOptions{
		Args: []any{int64(dagnum)},
	})
	if err != nil {
		return nil, mapError("recompute leaves", err)
	}
	err = sqlitex.Execute(conn, `INSERT INTO leaves (dagnum, hid)
		SELECT d.dagnum, d.hid FROM dagnodes d
		WHERE d.dagnum = ? AND NOT EXISTS (
			SELECT 1 FROM edges e WHERE e.dagnum = d.dagnum AND e.parent = d.hid
		)`, &sqlitex.ExecOptions{
		Args: []any{int64(dagnum)},
	})
	if err != nil {
		return nil, mapError("recompute leaves", err)
	}
	leaves, err = collectHIDs(conn, "SELECT hid FROM leaves WHERE dagnum = ? ORDER BY hid", int64(dagnum))
	if err != nil {
		return nil, mapError("recompute leaves", err)
	}
	return leaves, nil
}
