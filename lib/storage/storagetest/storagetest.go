// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storagetest is the conformance suite for storage
// implementations. Every implementation's tests call [Run].
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
)

// Factory returns a driver and a descriptor naming fresh, not yet
// created state. It is called once per subtest.
type Factory func(t *testing.T) (storage.Driver, storage.Descriptor)

const (
	testDagnum  dagnode.Dagnum = 5
	otherDagnum dagnode.Dagnum = dagnode.Branches
)

var method, _ = hid.Lookup(hid.MethodSHA256)

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, factory Factory)
	}{
		{"Lifecycle", testLifecycle},
		{"Capabilities", testCapabilities},
		{"BlobStoreAndDedup", testBlobStoreAndDedup},
		{"BlobQueries", testBlobQueries},
		{"DagInsertAndLeaves", testDagInsertAndLeaves},
		{"DuplicateDagnode", testDuplicateDagnode},
		{"SparseRejected", testSparseRejected},
		{"BatchIsAtomic", testBatchIsAtomic},
		{"ParentsWithinBatch", testParentsWithinBatch},
		{"DagQueries", testDagQueries},
		{"DagnumsAreIndependent", testDagnumsAreIndependent},
		{"Audits", testAudits},
		{"RecomputeLeaves", testRecomputeLeaves},
		{"ConcurrentApply", testConcurrentApply},
		{"Delete", testDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.run(t, factory) })
	}
}

func identity() storage.Identity {
	return storage.Identity{RepoID: "repo-1", AdminID: "admin-1", HashMethod: method.Name()}
}

func create(t *testing.T, factory Factory) (storage.Driver, storage.Descriptor, storage.Instance) {
	t.Helper()
	driver, descriptor := factory(t)
	instance, err := driver.Create(context.Background(), descriptor, identity(), storage.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { instance.Close() })
	return driver, descriptor, instance
}

// id returns the HID of label under the suite's hash method.
func id(label string) hid.HID { return method.Sum([]byte(label)) }

func node(dagnum dagnode.Dagnum, label string, generation int64, parents ...string) *dagnode.Dagnode {
	parentIDs := make([]hid.HID, len(parents))
	for i, parent := range parents {
		parentIDs[i] = id(parent)
	}
	return dagnode.Stored(dagnum, id(label), parentIDs, generation, 0)
}

func fullBlob(content string) storage.Blob {
	return storage.Blob{
		BlobInfo: storage.BlobInfo{
			HID:        id(content),
			Encoding:   blobenc.Full,
			LenEncoded: int64(len(content)),
			LenFull:    int64(len(content)),
		},
		Data: []byte(content),
	}
}

func apply(t *testing.T, instance storage.Instance, batch *storage.Batch) storage.ApplyResult {
	t.Helper()
	result, err := instance.Apply(context.Background(), batch)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return result
}

func insert(t *testing.T, instance storage.Instance, nodes ...*dagnode.Dagnode) {
	t.Helper()
	apply(t, instance, &storage.Batch{Nodes: nodes})
}

func expectIDs(t *testing.T, what string, got []hid.HID, labels ...string) {
	t.Helper()
	want := make([]hid.HID, len(labels))
	for i, label := range labels {
		want[i] = id(label)
	}
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v (%v)", what, shortAll(got), shortAll(want), labels)
	}
}

func expectSortedIDs(t *testing.T, what string, got []hid.HID, labels ...string) {
	t.Helper()
	want := make([]hid.HID, len(labels))
	for i, label := range labels {
		want[i] = id(label)
	}
	hid.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v (%v)", what, shortAll(got), shortAll(want), labels)
	}
}

func shortAll(ids []hid.HID) []string {
	out := make([]string, len(ids))
	for i, h := range ids {
		out[i] = h.Short()
	}
	return out
}

func testLifecycle(t *testing.T, factory Factory) {
	ctx := context.Background()
	driver, descriptor := factory(t)

	if _, err := driver.Open(ctx, descriptor, storage.Options{}); !errors.Is(err, repoerr.ErrRepoNotFound) {
		t.Fatalf("Open before Create: err = %v, want ErrRepoNotFound", err)
	}

	instance, err := driver.Create(ctx, descriptor, identity(), storage.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := instance.Identity(); got != identity() {
		t.Errorf("Identity = %+v, want %+v", got, identity())
	}
	insert(t, instance, node(testDagnum, "a", 0))
	if err := instance.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	answer, err := driver.Query(storage.QuestionIsPersistent)
	if err != nil {
		t.Fatal(err)
	}
	if !answer.Supported {
		return
	}

	if _, err := driver.Create(ctx, descriptor, identity(), storage.Options{}); !errors.Is(err, repoerr.ErrRepoAlreadyExists) {
		t.Errorf("second Create: err = %v, want ErrRepoAlreadyExists", err)
	}

	reopened, err := driver.Open(ctx, descriptor, storage.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Identity(); got != identity() {
		t.Errorf("reopened Identity = %+v", got)
	}
	leaves, err := reopened.Leaves(ctx, testDagnum)
	if err != nil {
		t.Fatal(err)
	}
	expectIDs(t, "leaves after reopen", leaves, "a")
}

func testCapabilities(t *testing.T, factory Factory) {
	driver, _ := factory(t)
	for _, q := range storage.Type2Questions() {
		if _, err := driver.Query(q); err != nil {
			t.Errorf("Query(%s): %v", q, err)
		}
	}
	if _, err := driver.Query(storage.QuestionListImplementations); !errors.Is(err, repoerr.ErrInvalidArgument) {
		t.Errorf("type 1 question: err = %v", err)
	}
}

func testBlobStoreAndDedup(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	hello := fullBlob("hello")
	result := apply(t, instance, &storage.Batch{Blobs: []storage.Blob{hello}})
	if result.BlobsStored != 1 {
		t.Errorf("BlobsStored = %d, want 1", result.BlobsStored)
	}
	result = apply(t, instance, &storage.Batch{Blobs: []storage.Blob{hello}})
	if result.BlobsStored != 0 {
		t.Errorf("second store: BlobsStored = %d, want 0", result.BlobsStored)
	}

	info, reader, err := instance.OpenBlob(ctx, hello.HID)
	if err != nil {
		t.Fatalf("OpenBlob: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" || info != hello.BlobInfo {
		t.Errorf("OpenBlob = %+v %q", info, data)
	}

	// Encoded blobs keep their metadata.
	content := bytes.Repeat([]byte("compressible "), 64)
	encoded, err := blobenc.Encode(blobenc.Zlib, content, nil)
	if err != nil {
		t.Fatal(err)
	}
	zipped := storage.Blob{
		BlobInfo: storage.BlobInfo{
			HID:        method.Sum(content),
			Encoding:   blobenc.Zlib,
			LenEncoded: int64(len(encoded)),
			LenFull:    int64(len(content)),
		},
		Data: encoded,
	}
	delta := storage.Blob{
		BlobInfo: storage.BlobInfo{
			HID:        id("delta target"),
			Encoding:   blobenc.Delta,
			Reference:  hello.HID,
			LenEncoded: 3,
			LenFull:    12,
		},
		Data: []byte{1, 2, 3},
	}
	apply(t, instance, &storage.Batch{Blobs: []storage.Blob{zipped, delta}})

	for _, want := range []storage.Blob{zipped, delta} {
		got, err := instance.StatBlob(ctx, want.HID)
		if err != nil {
			t.Fatalf("StatBlob(%s): %v", want.HID.Short(), err)
		}
		if got != want.BlobInfo {
			t.Errorf("StatBlob = %+v, want %+v", got, want.BlobInfo)
		}
	}

	if _, err := instance.StatBlob(ctx, id("absent")); !errors.Is(err, repoerr.ErrBlobNotFound) {
		t.Errorf("StatBlob(absent): err = %v", err)
	}
	if _, _, err := instance.OpenBlob(ctx, id("absent")); !errors.Is(err, repoerr.ErrBlobNotFound) {
		t.Errorf("OpenBlob(absent): err = %v", err)
	}

	empty := fullBlob("")
	apply(t, instance, &storage.Batch{Blobs: []storage.Blob{empty}})
	if info, err := instance.StatBlob(ctx, empty.HID); err != nil || info.LenFull != 0 {
		t.Errorf("empty blob: %+v, %v", info, err)
	}
}

func testBlobQueries(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	var blobs []storage.Blob
	for i := range 40 {
		blobs = append(blobs, fullBlob(fmt.Sprintf("blob %d", i)))
	}
	apply(t, instance, &storage.Batch{Blobs: blobs})

	query := []hid.HID{id("absent 1"), blobs[3].HID, id("absent 2"), id("absent 1")}
	missing, err := instance.MissingBlobs(ctx, query)
	if err != nil {
		t.Fatal(err)
	}
	expectIDs(t, "MissingBlobs", missing, "absent 1", "absent 2")

	target := blobs[7].HID
	matches, err := instance.FindBlobsByPrefix(ctx, string(target[:10]))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(matches, []hid.HID{target}) {
		t.Errorf("FindBlobsByPrefix(long) = %v", shortAll(matches))
	}

	// A one-character prefix matches exactly the blobs starting with it.
	prefix := string(target[:1])
	var want []hid.HID
	for _, blob := range blobs {
		if blob.HID.HasPrefix(prefix) {
			want = append(want, blob.HID)
		}
	}
	hid.Sort(want)
	matches, err = instance.FindBlobsByPrefix(ctx, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(matches, want) {
		t.Errorf("FindBlobsByPrefix(%q) = %d matches, want %d", prefix, len(matches), len(want))
	}
}

func testDagInsertAndLeaves(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	result := apply(t, instance, &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "a", 0)}})
	if !slices.Equal(result.Revisions, []int64{1}) {
		t.Errorf("Revisions = %v, want [1]", result.Revisions)
	}
	leaves, err := instance.Leaves(ctx, testDagnum)
	if err != nil {
		t.Fatal(err)
	}
	expectIDs(t, "leaves after A", leaves, "a")

	result = apply(t, instance, &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "b", 1, "a")}})
	if !slices.Equal(result.Revisions, []int64{2}) {
		t.Errorf("Revisions = %v, want [2]", result.Revisions)
	}
	leaves, _ = instance.Leaves(ctx, testDagnum)
	expectIDs(t, "leaves after B", leaves, "b")

	fetched, err := instance.FetchDagnode(ctx, testDagnum, id("b"))
	if err != nil {
		t.Fatalf("FetchDagnode: %v", err)
	}
	if !fetched.Frozen() || fetched.Generation != 1 || fetched.Revision != 2 ||
		!slices.Equal(fetched.Parents, []hid.HID{id("a")}) || fetched.Dagnum != testDagnum {
		t.Errorf("fetched = %+v", fetched)
	}

	// A second branch and a merge.
	insert(t, instance, node(testDagnum, "c", 1, "a"))
	leaves, _ = instance.Leaves(ctx, testDagnum)
	expectSortedIDs(t, "leaves after C", leaves, "b", "c")
	insert(t, instance, node(testDagnum, "d", 2, "b", "c"))
	leaves, _ = instance.Leaves(ctx, testDagnum)
	expectIDs(t, "leaves after merge", leaves, "d")

	// A second, independent root.
	insert(t, instance, node(testDagnum, "r", 0))
	leaves, _ = instance.Leaves(ctx, testDagnum)
	expectSortedIDs(t, "leaves with second root", leaves, "d", "r")

	if _, err := instance.FetchDagnode(ctx, testDagnum, id("absent")); !errors.Is(err, repoerr.ErrDagnodeNotFound) {
		t.Errorf("FetchDagnode(absent): err = %v", err)
	}
	if _, err := instance.FetchDagnode(ctx, otherDagnum, id("a")); !errors.Is(err, repoerr.ErrDagnodeNotFound) {
		t.Errorf("FetchDagnode(other dagnum): err = %v", err)
	}

	empty, err := instance.Leaves(ctx, otherDagnum)
	if err != nil || len(empty) != 0 {
		t.Errorf("leaves of empty dagnum = %v, %v", empty, err)
	}
}

func testDuplicateDagnode(t *testing.T, factory Factory) {
	_, _, instance := create(t, factory)
	insert(t, instance, node(testDagnum, "a", 0))

	_, err := instance.Apply(context.Background(), &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "a", 0)}})
	if !errors.Is(err, repoerr.ErrDagnodeAlreadyExists) {
		t.Fatalf("duplicate: err = %v, want ErrDagnodeAlreadyExists", err)
	}

	// The same id in another dagnum is a different node.
	insert(t, instance, node(otherDagnum, "a", 0))
}

func testSparseRejected(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	_, err := instance.Apply(ctx, &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "c", 1, "a")}})
	if !errors.Is(err, repoerr.ErrCannotCreateSparseDag) {
		t.Fatalf("err = %v, want ErrCannotCreateSparseDag", err)
	}
	count, err := instance.DagnodeCount(ctx, testDagnum)
	if err != nil || count != 0 {
		t.Errorf("DagnodeCount = %d, %v after rejected insert", count, err)
	}

	// A parent stored in another dagnum does not count.
	insert(t, instance, node(otherDagnum, "a", 0))
	_, err = instance.Apply(ctx, &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "c", 1, "a")}})
	if !errors.Is(err, repoerr.ErrCannotCreateSparseDag) {
		t.Errorf("cross-dagnum parent: err = %v", err)
	}
}

func testBatchIsAtomic(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)
	insert(t, instance, node(testDagnum, "a", 0))

	batch := &storage.Batch{
		Blobs: []storage.Blob{fullBlob("payload of b")},
		Nodes: []*dagnode.Dagnode{
			node(testDagnum, "b", 1, "a"),
			node(testDagnum, "x", 1, "missing"),
		},
		Audits: []dagnode.Audit{dagnode.NewAudit(testDagnum, id("b"), "user", time.UnixMilli(1000))},
	}
	if _, err := instance.Apply(ctx, batch); !errors.Is(err, repoerr.ErrCannotCreateSparseDag) {
		t.Fatalf("err = %v", err)
	}

	if _, err := instance.FetchDagnode(ctx, testDagnum, id("b")); !errors.Is(err, repoerr.ErrDagnodeNotFound) {
		t.Errorf("node b landed from a failed batch: %v", err)
	}
	if _, err := instance.StatBlob(ctx, id("payload of b")); !errors.Is(err, repoerr.ErrBlobNotFound) {
		t.Errorf("blob landed from a failed batch: %v", err)
	}
	leaves, _ := instance.Leaves(ctx, testDagnum)
	expectIDs(t, "leaves after failed batch", leaves, "a")
	audits, _ := instance.Audits(ctx, testDagnum, id("b"))
	if len(audits) != 0 {
		t.Errorf("audits landed from a failed batch: %v", audits)
	}

	// Revision numbering is unaffected by the failed batch.
	result := apply(t, instance, &storage.Batch{Nodes: []*dagnode.Dagnode{node(testDagnum, "b", 1, "a")}})
	if !slices.Equal(result.Revisions, []int64{2}) {
		t.Errorf("Revisions = %v, want [2]", result.Revisions)
	}
}

func testParentsWithinBatch(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	result := apply(t, instance, &storage.Batch{Nodes: []*dagnode.Dagnode{
		node(testDagnum, "a", 0),
		node(testDagnum, "b", 1, "a"),
		node(testDagnum, "c", 2, "b"),
	}})
	if !slices.Equal(result.Revisions, []int64{1, 2, 3}) {
		t.Errorf("Revisions = %v", result.Revisions)
	}
	leaves, _ := instance.Leaves(ctx, testDagnum)
	expectIDs(t, "leaves", leaves, "c")

	// Child before parent in one batch is sparse.
	_, err := instance.Apply(ctx, &storage.Batch{Nodes: []*dagnode.Dagnode{
		node(testDagnum, "e", 4, "d"),
		node(testDagnum, "d", 3, "c"),
	}})
	if !errors.Is(err, repoerr.ErrCannotCreateSparseDag) {
		t.Errorf("child first: err = %v", err)
	}
}

// buildHistory stores
//
//	a - b - d - e
//	  \ c /
func buildHistory(t *testing.T, instance storage.Instance) {
	t.Helper()
	insert(t, instance, node(testDagnum, "a", 0))
	insert(t, instance, node(testDagnum, "b", 1, "a"))
	insert(t, instance, node(testDagnum, "c", 1, "a"))
	insert(t, instance, node(testDagnum, "d", 2, "b", "c"))
	insert(t, instance, node(testDagnum, "e", 3, "d"))
}

func testDagQueries(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)
	buildHistory(t, instance)

	children, err := instance.Children(ctx, testDagnum, id("a"))
	if err != nil {
		t.Fatal(err)
	}
	expectSortedIDs(t, "Children(a)", children, "b", "c")
	children, _ = instance.Children(ctx, testDagnum, id("e"))
	if len(children) != 0 {
		t.Errorf("Children(e) = %v", shortAll(children))
	}

	byGeneration, err := instance.DagnodesByGeneration(ctx, testDagnum, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	bc := []hid.HID{id("b"), id("c")}
	hid.Sort(bc)
	want := append(bc, id("d"))
	if !slices.Equal(byGeneration, want) {
		t.Errorf("DagnodesByGeneration(1,2) = %v, want %v", shortAll(byGeneration), shortAll(want))
	}

	chrono, err := instance.ChronoList(ctx, testDagnum, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	expectIDs(t, "ChronoList(2,3)", chrono, "b", "c", "d")
	chrono, _ = instance.ChronoList(ctx, testDagnum, 4, 100)
	expectIDs(t, "ChronoList(4,100)", chrono, "d", "e")
	chrono, _ = instance.ChronoList(ctx, testDagnum, 9, 10)
	if len(chrono) != 0 {
		t.Errorf("ChronoList past the end = %v", shortAll(chrono))
	}

	byRevision, err := instance.DagnodeByRevision(ctx, testDagnum, 3)
	if err != nil || byRevision != id("c") {
		t.Errorf("DagnodeByRevision(3) = %s, %v", byRevision.Short(), err)
	}
	if _, err := instance.DagnodeByRevision(ctx, testDagnum, 6); !errors.Is(err, repoerr.ErrDagnodeNotFound) {
		t.Errorf("DagnodeByRevision(6): err = %v", err)
	}

	target := id("d")
	matches, err := instance.FindDagnodesByPrefix(ctx, testDagnum, string(target[:12]))
	if err != nil || !slices.Equal(matches, []hid.HID{target}) {
		t.Errorf("FindDagnodesByPrefix = %v, %v", shortAll(matches), err)
	}
	matches, _ = instance.FindDagnodesByPrefix(ctx, otherDagnum, string(target[:12]))
	if len(matches) != 0 {
		t.Errorf("prefix search crossed dagnums: %v", shortAll(matches))
	}

	present, err := instance.PresentDagnodes(ctx, testDagnum, []hid.HID{id("a"), id("zz"), id("e")})
	if err != nil {
		t.Fatal(err)
	}
	if len(present) != 2 || !present.Has(id("a")) || !present.Has(id("e")) {
		t.Errorf("PresentDagnodes = %v", shortAll(present.Sorted()))
	}

	count, err := instance.DagnodeCount(ctx, testDagnum)
	if err != nil || count != 5 {
		t.Errorf("DagnodeCount = %d, %v", count, err)
	}
}

func testDagnumsAreIndependent(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	insert(t, instance, node(otherDagnum, "x", 0))
	insert(t, instance, node(testDagnum, "a", 0))
	insert(t, instance, node(otherDagnum, "y", 1, "x"))

	dagnums, err := instance.Dagnums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []dagnode.Dagnum{testDagnum, otherDagnum}
	slices.Sort(want)
	if !slices.Equal(dagnums, want) {
		t.Errorf("Dagnums = %v, want %v", dagnums, want)
	}

	// Revisions count per dagnum.
	y, err := instance.FetchDagnode(ctx, otherDagnum, id("y"))
	if err != nil {
		t.Fatal(err)
	}
	if y.Revision != 2 {
		t.Errorf("revision of y = %d, want 2", y.Revision)
	}
	leaves, _ := instance.Leaves(ctx, testDagnum)
	expectIDs(t, "leaves of test dagnum", leaves, "a")
}

func testAudits(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)

	first := dagnode.NewAudit(testDagnum, id("a"), "alice", time.UnixMilli(1_000))
	apply(t, instance, &storage.Batch{
		Nodes:  []*dagnode.Dagnode{node(testDagnum, "a", 0)},
		Audits: []dagnode.Audit{first},
	})
	second := dagnode.NewAudit(testDagnum, id("a"), "bob", time.UnixMilli(2_000))
	apply(t, instance, &storage.Batch{Audits: []dagnode.Audit{second, first}})

	audits, err := instance.Audits(ctx, testDagnum, id("a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 2 || audits[0] != first || audits[1] != second {
		t.Errorf("Audits = %+v, want [%+v %+v]", audits, first, second)
	}
	none, err := instance.Audits(ctx, otherDagnum, id("a"))
	if err != nil || len(none) != 0 {
		t.Errorf("audits in other dagnum = %v, %v", none, err)
	}
}

func testRecomputeLeaves(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)
	buildHistory(t, instance)
	insert(t, instance, node(testDagnum, "f", 2, "c"))

	stored, err := instance.Leaves(ctx, testDagnum)
	if err != nil {
		t.Fatal(err)
	}
	recomputed, err := instance.RecomputeLeaves(ctx, testDagnum)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(stored, recomputed) {
		t.Errorf("stored leaves %v != recomputed %v", shortAll(stored), shortAll(recomputed))
	}
	expectSortedIDs(t, "recomputed", recomputed, "e", "f")
}

func testConcurrentApply(t *testing.T, factory Factory) {
	ctx := context.Background()
	_, _, instance := create(t, factory)
	insert(t, instance, node(testDagnum, "root", 0))

	const writers = 8
	var waitGroup sync.WaitGroup
	failures := make(chan error, writers)
	for i := range writers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			label := fmt.Sprintf("child %d", i)
			batch := &storage.Batch{
				Blobs: []storage.Blob{fullBlob(label)},
				Nodes: []*dagnode.Dagnode{node(testDagnum, label, 1, "root")},
			}
			err := repoerr.Retry(ctx, 50, func() error {
				_, err := instance.Apply(ctx, batch)
				return err
			})
			if err != nil {
				failures <- err
			}
		}()
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		t.Errorf("concurrent Apply: %v", err)
	}

	leaves, err := instance.Leaves(ctx, testDagnum)
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != writers {
		t.Errorf("%d leaves, want %d", len(leaves), writers)
	}
	chrono, _ := instance.ChronoList(ctx, testDagnum, 1, 100)
	if len(chrono) != writers+1 {
		t.Errorf("%d revisions, want %d", len(chrono), writers+1)
	}
}

func testDelete(t *testing.T, factory Factory) {
	ctx := context.Background()
	driver, descriptor, instance := create(t, factory)
	insert(t, instance, node(testDagnum, "a", 0))
	if err := instance.Close(); err != nil {
		t.Fatal(err)
	}
	if err := instance.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := driver.Delete(ctx, descriptor); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := driver.Open(ctx, descriptor, storage.Options{}); !errors.Is(err, repoerr.ErrRepoNotFound) {
		t.Errorf("Open after Delete: err = %v", err)
	}
}
