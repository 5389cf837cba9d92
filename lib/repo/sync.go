// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/repostore/lib/dagfrag"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/fragball"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// ExportResult reports what ExportFragball wrote.
type ExportResult struct {
	Dagnodes     int `json:"dagnodes"`
	Blobs        int `json:"blobs"`
	MissingBlobs int `json:"missing_blobs"`
	Audits       int `json:"audits"`
}

// ExportFragball writes the nodes of dagnum that are new since the
// given nodes as a fragball: one fragment, then the changeset blobs in
// their stored form with delta references ahead of the deltas, then
// the audits. Empty since exports the whole DAG. Nodes whose changeset
// blob this repository does not hold are exported without it.
func (r *Repo) ExportFragball(ctx context.Context, w io.Writer, dagnum dagnode.Dagnum, since []hid.HID) (ExportResult, error) {
	const op = "export_fragball"
	var result ExportResult
	nodes, err := r.FindNewDagnodesSince(ctx, dagnum, since)
	if err != nil {
		return result, err
	}
	instance, _, err := r.backend(op)
	if err != nil {
		return result, err
	}

	writer, err := fragball.NewWriter(w)
	if err != nil {
		return result, repoerr.E(op, err)
	}
	if len(nodes) > 0 {
		identity := instance.Identity()
		frag := dagfrag.New(identity.RepoID, identity.AdminID, dagnum)
		for _, node := range nodes {
			if err := frag.Add(node); err != nil {
				return result, repoerr.E(op, err)
			}
		}
		if err := writer.WriteFrag(frag); err != nil {
			return result, repoerr.E(op, err)
		}
		result.Dagnodes = len(nodes)
	}

	order, missing, err := r.blobExportOrder(ctx, nodes)
	if err != nil {
		return result, repoerr.E(op, err)
	}
	result.MissingBlobs = missing
	for _, id := range order {
		if err := r.exportBlob(ctx, writer, id); err != nil {
			return result, repoerr.E(op, err)
		}
		result.Blobs++
	}

	var audits []dagnode.Audit
	for _, node := range nodes {
		nodeAudits, err := instance.Audits(ctx, dagnum, node.ID)
		if err != nil {
			return result, repoerr.E(op, err)
		}
		audits = append(audits, nodeAudits...)
	}
	if len(audits) > 0 {
		if err := writer.WriteAudits(dagnum, audits); err != nil {
			return result, repoerr.E(op, err)
		}
		result.Audits = len(audits)
	}

	if err := writer.Close(); err != nil {
		return result, repoerr.E(op, err)
	}
	r.logger.Info("fragball exported",
		"dagnum", dagnum.String(),
		"dagnodes", result.Dagnodes,
		"blobs", result.Blobs,
		"missing_blobs", result.MissingBlobs,
	)
	return result, nil
}

// blobExportOrder lists the changeset blobs of nodes and the delta
// references they need, references first. Absent changeset blobs are
// counted, not listed.
func (r *Repo) blobExportOrder(ctx context.Context, nodes []*dagnode.Dagnode) ([]hid.HID, int, error) {
	var (
		order   []hid.HID
		visited = hid.NewSet()
		missing int
	)
	var visit func(id hid.HID) error
	visit = func(id hid.HID) error {
		if visited.Has(id) {
			return nil
		}
		visited.Add(id)
		info, err := r.StatBlob(ctx, id)
		if err != nil {
			return err
		}
		if info.Encoding.IsDelta() {
			if err := visit(info.Reference); err != nil {
				return fmt.Errorf("delta reference of %s: %w", id.Short(), err)
			}
		}
		order = append(order, id)
		return nil
	}
	for _, node := range nodes {
		err := visit(node.ID)
		if errors.Is(err, repoerr.ErrBlobNotFound) {
			missing++
			continue
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return order, missing, nil
}

func (r *Repo) exportBlob(ctx context.Context, writer *fragball.Writer, id hid.HID) error {
	reader, err := r.FetchBegin(ctx, id, false)
	if err != nil {
		return err
	}
	info := reader.Info()
	err = writer.WriteBlob(fragball.BlobHeader{
		HID:        info.HID,
		Encoding:   info.Encoding,
		Reference:  info.Reference,
		LenEncoded: info.LenEncoded,
		LenFull:    info.LenFull,
	}, reader)
	if err != nil {
		reader.Abort()
		return err
	}
	// Every byte has been written; reading on to the end verifies the
	// content when it is stored in full.
	probe := make([]byte, 1)
	for {
		_, done, err := reader.Chunk(probe)
		if err != nil {
			reader.Abort()
			return err
		}
		if done {
			break
		}
	}
	return reader.End()
}

// SyncResult reports what ApplyFragball did.
type SyncResult struct {
	Fragments      int `json:"fragments"`
	BlobsReceived  int `json:"blobs_received"`
	BlobsStored    int `json:"blobs_stored"`
	Inserted       int `json:"inserted"`
	AlreadyPresent int `json:"already_present"`
	Audits         int `json:"audits"`
}

// ApplyFragball materializes a fragball. Every fragment is checked
// before any transaction opens, and a fragment that does not connect
// fails the call with ErrCannotCreateSparseDag. The blobs are then
// verified against their HIDs and committed in one transaction, after
// which the fragments are stored and the audits committed in a second.
// flags apply to the second transaction, so TxCloning populates empty
// dagnums in one commit each.
func (r *Repo) ApplyFragball(ctx context.Context, source io.Reader, flags TxFlags) (SyncResult, error) {
	const op = "apply_fragball"
	var result SyncResult
	reader, err := fragball.NewReader(source)
	if err != nil {
		return result, repoerr.E(op, err)
	}

	// Fragments lead the stream; merge those of the same dagnum.
	var (
		frags  []*dagfrag.Fragment
		byNum  = make(map[dagnode.Dagnum]*dagfrag.Fragment)
		record *fragball.Record
	)
	for {
		record, err = reader.Next()
		if err == io.EOF {
			record = nil
			break
		}
		if err != nil {
			return result, repoerr.E(op, err)
		}
		if record.Kind != fragball.KindFrag {
			break
		}
		result.Fragments++
		existing, ok := byNum[record.Frag.Dagnum]
		if !ok {
			byNum[record.Frag.Dagnum] = record.Frag
			frags = append(frags, record.Frag)
			continue
		}
		for _, member := range record.Frag.Members() {
			if err := existing.Add(member); err != nil {
				return result, repoerr.E(op, err)
			}
		}
	}

	for _, frag := range frags {
		check, err := r.CheckDagfrag(ctx, frag)
		if err != nil {
			return result, err
		}
		if !check.Connected {
			return result, repoerr.Errorf(op, "fragment for dagnum %s is missing parents %v: %w",
				frag.Dagnum, check.MissingFringe, repoerr.ErrCannotCreateSparseDag)
		}
	}

	blobTx, err := r.BeginTx(0)
	if err != nil {
		return result, err
	}
	var audits []dagnode.Audit
	for record != nil {
		switch record.Kind {
		case fragball.KindBlob:
			if err := r.receiveBlob(ctx, blobTx, record); err != nil {
				blobTx.Abort()
				return result, repoerr.E(op, err)
			}
			result.BlobsReceived++
		case fragball.KindAudits:
			audits = append(audits, record.Audits...)
		case fragball.KindFrag:
			blobTx.Abort()
			return result, repoerr.Errorf(op, "fragment record after blob records: %w", repoerr.ErrMalformedFragball)
		}
		record, err = reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			blobTx.Abort()
			return result, repoerr.E(op, err)
		}
	}
	committed, err := blobTx.Commit(ctx)
	if err != nil {
		return result, err
	}
	result.BlobsStored = committed.BlobsStored

	dagTx, err := r.BeginTx(flags)
	if err != nil {
		return result, err
	}
	for _, frag := range frags {
		stored, err := r.StoreDagfrag(ctx, dagTx, frag)
		result.Inserted += len(stored.Inserted)
		result.AlreadyPresent += len(stored.AlreadyPresent)
		if err != nil {
			dagTx.Abort()
			return result, err
		}
	}
	if err := dagTx.AddAudits(audits...); err != nil {
		dagTx.Abort()
		return result, err
	}
	if _, err := dagTx.Commit(ctx); err != nil {
		return result, err
	}
	result.Audits = len(audits)

	r.logger.Info("fragball applied",
		"fragments", result.Fragments,
		"blobs_received", result.BlobsReceived,
		"blobs_stored", result.BlobsStored,
		"inserted", result.Inserted,
	)
	return result, nil
}

// receiveBlob stages one blob record, hashing its content rather than
// trusting the sender's HID.
func (r *Repo) receiveBlob(ctx context.Context, tx *Tx, record *fragball.Record) error {
	header := record.Blob
	writer, err := r.StoreBegin(ctx, tx, StoreParams{
		Encoding:   header.Encoding,
		Reference:  header.Reference,
		LenFull:    header.LenFull,
		LenEncoded: header.LenEncoded,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(writer, record.Body); err != nil {
		writer.Abort()
		return fmt.Errorf("blob %s: %w", header.HID.Short(), err)
	}
	id, err := writer.End(ctx)
	if err != nil {
		return err
	}
	if id != header.HID {
		return fmt.Errorf("blob sent as %s hashes to %s: %w", header.HID.Short(), id.Short(), repoerr.ErrBlobNotVerified)
	}
	return nil
}
