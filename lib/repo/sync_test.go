// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/fragball"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// commitAs stores a changeset with an audit by user.
func commitAs(t *testing.T, r *Repo, dagnum dagnode.Dagnum, user, label string, parents ...string) {
	t.Helper()
	ctx := context.Background()
	tx := begin(t, r)
	if _, err := r.StoreChangeset(ctx, tx, dagnum, []byte(label), user, idsOf(r, parents...)...); err != nil {
		t.Fatalf("StoreChangeset: %v", err)
	}
	commitTx(t, tx)
}

func export(t *testing.T, r *Repo, dagnum dagnode.Dagnum, since []hid.HID) ([]byte, ExportResult) {
	t.Helper()
	var buffer bytes.Buffer
	result, err := r.ExportFragball(context.Background(), &buffer, dagnum, since)
	if err != nil {
		t.Fatalf("ExportFragball: %v", err)
	}
	return buffer.Bytes(), result
}

func TestFragballRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newRepoOn(t, "badger", CreateParams{}, Options{ChangesetEncoding: blobenc.Zlib})
	commitAs(t, source, dagnode.VersionControl, "alice", "A")
	commitAs(t, source, dagnode.VersionControl, "bob", "B", "A")
	commitAs(t, source, dagnode.VersionControl, "alice", "C", "A")

	// A delta whose reference is a changeset blob.
	tx := begin(t, source)
	base := []byte(strings.Repeat("shared content ", 400))
	reference := storeBytes(t, source, tx, base, blobenc.Full)
	delta, err := source.StoreDelta(ctx, tx, append([]byte("prefix "), base...), reference)
	if err != nil {
		t.Fatalf("StoreDelta: %v", err)
	}
	node := dagnode.New(dagnode.VersionControl, delta)
	node.AddParent(idOf(source, "B"))
	node.AddParent(idOf(source, "C"))
	if err := node.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if err := tx.StoreDagnode(node, source.Audit(dagnode.VersionControl, delta, "carol")); err != nil {
		t.Fatalf("StoreDagnode: %v", err)
	}
	commitTx(t, tx)

	data, exported := export(t, source, dagnode.VersionControl, nil)
	if exported.Dagnodes != 4 || exported.Blobs != 5 || exported.Audits != 4 || exported.MissingBlobs != 0 {
		t.Errorf("export = %+v", exported)
	}

	summaries, err := fragball.ScanFrags(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ScanFrags: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Members != 4 || summaries[0].Dagnum != dagnode.VersionControl {
		t.Fatalf("summaries = %+v", summaries)
	}

	target := newRepoOn(t, "fs", CreateParams{
		RepoID:  source.RepoID(),
		AdminID: source.AdminID(),
	}, Options{})
	applied, err := target.ApplyFragball(ctx, bytes.NewReader(data), TxCloning)
	if err != nil {
		t.Fatalf("ApplyFragball: %v", err)
	}
	if applied.Inserted != 4 || applied.BlobsStored != 5 || applied.Audits != 4 {
		t.Errorf("apply = %+v", applied)
	}

	sourceLeaves, _ := source.FetchDagLeaves(ctx, dagnode.VersionControl)
	targetLeaves, err := target.FetchDagLeaves(ctx, dagnode.VersionControl)
	if err != nil {
		t.Fatalf("FetchDagLeaves: %v", err)
	}
	expectHIDs(t, "target leaves", targetLeaves, sourceLeaves)

	got, err := target.FetchBytes(ctx, delta)
	if err != nil {
		t.Fatalf("FetchBytes(delta): %v", err)
	}
	if !bytes.Equal(got, append([]byte("prefix "), base...)) {
		t.Error("delta content differs after transfer")
	}
	info, err := target.StatBlob(ctx, delta)
	if err != nil {
		t.Fatalf("StatBlob: %v", err)
	}
	if info.Encoding != blobenc.Delta {
		t.Errorf("delta arrived as %s", info.Encoding)
	}
	audits, err := target.ListAudits(ctx, dagnode.VersionControl, idOf(source, "B"))
	if err != nil {
		t.Fatalf("ListAudits: %v", err)
	}
	if len(audits) != 1 || audits[0].UserID != "bob" {
		t.Errorf("audits of B = %+v", audits)
	}

	// Applying again changes nothing.
	again, err := target.ApplyFragball(ctx, bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("second ApplyFragball: %v", err)
	}
	if again.Inserted != 0 || again.AlreadyPresent != 4 || again.BlobsStored != 0 {
		t.Errorf("second apply = %+v", again)
	}
}

func TestIncrementalFragball(t *testing.T) {
	ctx := context.Background()
	source := newRepo(t)
	commitAs(t, source, testDagnum, "alice", "A")
	commitAs(t, source, testDagnum, "alice", "B", "A")
	target := cloneOf(t, source)

	data, _ := export(t, source, testDagnum, nil)
	if _, err := target.ApplyFragball(ctx, bytes.NewReader(data), 0); err != nil {
		t.Fatalf("ApplyFragball: %v", err)
	}

	commitAs(t, source, testDagnum, "alice", "C", "B")
	commitAs(t, source, testDagnum, "alice", "D", "B")
	since, err := target.FetchDagLeaves(ctx, testDagnum)
	if err != nil {
		t.Fatalf("FetchDagLeaves: %v", err)
	}
	data, exported := export(t, source, testDagnum, since)
	if exported.Dagnodes != 2 {
		t.Errorf("incremental export has %d nodes, want 2", exported.Dagnodes)
	}
	applied, err := target.ApplyFragball(ctx, bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("ApplyFragball: %v", err)
	}
	if applied.Inserted != 2 || applied.AlreadyPresent != 0 {
		t.Errorf("apply = %+v", applied)
	}
	leaves, err := target.FetchDagLeaves(ctx, testDagnum)
	if err != nil {
		t.Fatalf("FetchDagLeaves: %v", err)
	}
	expectHIDs(t, "leaves", leaves, sortedIDsOf(source, "C", "D"))
}

func TestApplyDisconnectedFragballWritesNothing(t *testing.T) {
	ctx := context.Background()
	source := newRepo(t)
	commitAs(t, source, testDagnum, "alice", "A")
	commitAs(t, source, testDagnum, "alice", "B", "A")
	target := cloneOf(t, source)

	data, _ := export(t, source, testDagnum, idsOf(source, "A"))
	_, err := target.ApplyFragball(ctx, bytes.NewReader(data), 0)
	expectError(t, "disconnected fragball", err, repoerr.ErrCannotCreateSparseDag)

	// The check runs before the blob transaction.
	_, err = target.FetchBytes(ctx, idOf(source, "B"))
	expectError(t, "blob of rejected fragball", err, repoerr.ErrBlobNotFound)
}

func TestApplyRejectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	source := newRepo(t)
	commitAs(t, source, testDagnum, "alice", "original content")
	target := cloneOf(t, source)

	data, _ := export(t, source, testDagnum, nil)
	tampered := bytes.Replace(data, []byte("original content"), []byte("modified content"), 1)
	if bytes.Equal(tampered, data) {
		t.Fatal("blob bytes not found in the fragball")
	}
	_, err := target.ApplyFragball(ctx, bytes.NewReader(tampered), 0)
	expectError(t, "tampered blob", err, repoerr.ErrBlobNotVerified)

	count, err := target.DagnodeCount(ctx, testDagnum)
	if err != nil {
		t.Fatalf("DagnodeCount: %v", err)
	}
	if count != 0 {
		t.Errorf("%d nodes stored from a tampered fragball", count)
	}
}

func TestExportSkipsAbsentBlobs(t *testing.T) {
	r := newRepo(t)
	tx := begin(t, r)
	if err := tx.StoreDagnode(frozenNode(t, r, testDagnum, "no blob")); err != nil {
		t.Fatalf("StoreDagnode: %v", err)
	}
	commitTx(t, tx)

	_, exported := export(t, r, testDagnum, nil)
	if exported.Dagnodes != 1 || exported.Blobs != 0 || exported.MissingBlobs != 1 {
		t.Errorf("export = %+v", exported)
	}
}
