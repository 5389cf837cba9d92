// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/repostore/lib/clock"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
	"github.com/bureau-foundation/repostore/lib/storage"
	"github.com/bureau-foundation/repostore/lib/storage/drivers"
)

const testDagnum dagnode.Dagnum = 5

var storageNames = []string{"sqlite", "badger", "fs"}

func testDescriptor(t *testing.T, storageName string) storage.Descriptor {
	t.Helper()
	return storage.NewDescriptor(storageName, filepath.Join(t.TempDir(), "repo"))
}

// newRepo creates a repository on the sqlite backend.
func newRepo(t *testing.T) *Repo {
	t.Helper()
	return newRepoOn(t, "sqlite", CreateParams{}, Options{})
}

func newRepoOn(t *testing.T, storageName string, params CreateParams, options Options) *Repo {
	t.Helper()
	r, err := CreateRepo(context.Background(), drivers.NewRegistry(), testDescriptor(t, storageName), params, options)
	if err != nil {
		t.Fatalf("CreateRepo(%s): %v", storageName, err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// cloneOf creates an empty repository sharing source's identity.
func cloneOf(t *testing.T, source *Repo) *Repo {
	t.Helper()
	return newRepoOn(t, "sqlite", CreateParams{
		RepoID:     source.RepoID(),
		AdminID:    source.AdminID(),
		HashMethod: source.HashMethod(),
	}, Options{})
}

// idOf returns the HID a changeset labeled label gets in r.
func idOf(r *Repo, label string) hid.HID { return r.Method().Sum([]byte(label)) }

func idsOf(r *Repo, labels ...string) []hid.HID {
	ids := make([]hid.HID, len(labels))
	for i, label := range labels {
		ids[i] = idOf(r, label)
	}
	return ids
}

func sortedIDsOf(r *Repo, labels ...string) []hid.HID {
	ids := idsOf(r, labels...)
	hid.Sort(ids)
	return ids
}

// commit stores a changeset whose payload is label, with the labeled
// parents, in its own transaction and returns the stored node.
func commit(t *testing.T, r *Repo, dagnum dagnode.Dagnum, label string, parents ...string) *dagnode.Dagnode {
	t.Helper()
	ctx := context.Background()
	tx, err := r.BeginTx(0)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := r.StoreChangeset(ctx, tx, dagnum, []byte(label), "", idsOf(r, parents...)...); err != nil {
		tx.Abort()
		t.Fatalf("StoreChangeset(%s): %v", label, err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit(%s): %v", label, err)
	}
	node, err := r.FetchDagnode(ctx, dagnum, idOf(r, label))
	if err != nil {
		t.Fatalf("FetchDagnode(%s): %v", label, err)
	}
	return node
}

func expectKind(t *testing.T, what string, err error, kind repoerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s succeeded, want a %s error", what, kind)
	}
	if got := repoerr.KindOf(err); got != kind {
		t.Fatalf("%s: kind %s, want %s (%v)", what, got, kind, err)
	}
}

func expectError(t *testing.T, what string, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%s: got %v, want %v", what, err, target)
	}
}

func expectHIDs(t *testing.T, what string, got, want []hid.HID) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

// flakyInstance fails Apply calls chosen by fail.
type flakyInstance struct {
	storage.Instance

	mu      sync.Mutex
	applies int
	fail    func(call int) error
}

func (f *flakyInstance) Apply(ctx context.Context, batch *storage.Batch) (storage.ApplyResult, error) {
	f.mu.Lock()
	f.applies++
	call := f.applies
	f.mu.Unlock()
	if err := f.fail(call); err != nil {
		return storage.ApplyResult{}, err
	}
	return f.Instance.Apply(ctx, batch)
}

func (f *flakyInstance) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

// makeFlaky wraps r's instance. The returned func restores it.
func makeFlaky(r *Repo, fail func(call int) error) (*flakyInstance, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	original := r.instance
	flaky := &flakyInstance{Instance: original, fail: fail}
	r.instance = flaky
	return flaky, func() {
		r.mu.Lock()
		r.instance = original
		r.mu.Unlock()
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	registry := drivers.NewRegistry()
	descriptor := testDescriptor(t, "sqlite")

	r, err := Alloc(registry, descriptor, Options{})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := r.FetchDagLeaves(ctx, testDagnum); !errors.Is(err, repoerr.ErrNotOpen) {
		t.Fatalf("read before open: got %v, want ErrNotOpen", err)
	}
	expectError(t, "Open before Create", r.Open(ctx), repoerr.ErrRepoNotFound)

	if err := r.Create(ctx, CreateParams{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.RepoID() == "" || r.AdminID() == "" {
		t.Errorf("Create allocated repo id %q, admin id %q", r.RepoID(), r.AdminID())
	}
	if r.HashMethod() != hid.DefaultMethod {
		t.Errorf("HashMethod = %q, want %q", r.HashMethod(), hid.DefaultMethod)
	}
	if r.StorageName() != "sqlite" {
		t.Errorf("StorageName = %q", r.StorageName())
	}
	repoID := r.RepoID()
	commit(t, r, testDagnum, "root")

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := r.FetchDagLeaves(ctx, testDagnum); !errors.Is(err, repoerr.ErrHandleClosed) {
		t.Fatalf("read after close: got %v, want ErrHandleClosed", err)
	}

	reopened, err := OpenRepo(ctx, registry, descriptor, Options{})
	if err != nil {
		t.Fatalf("OpenRepo: %v", err)
	}
	if reopened.RepoID() != repoID {
		t.Errorf("reopened RepoID = %q, want %q", reopened.RepoID(), repoID)
	}
	leaves, err := reopened.FetchDagLeaves(ctx, testDagnum)
	if err != nil {
		t.Fatalf("FetchDagLeaves: %v", err)
	}
	expectHIDs(t, "leaves after reopen", leaves, idsOf(reopened, "root"))
	reopened.Close()

	if err := Delete(ctx, registry, descriptor); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = OpenRepo(ctx, registry, descriptor, Options{})
	expectError(t, "Open after Delete", err, repoerr.ErrRepoNotFound)
}

func TestAllocUnknownStorage(t *testing.T) {
	_, err := Alloc(drivers.NewRegistry(), storage.NewDescriptor("tape", t.TempDir()), Options{})
	expectError(t, "Alloc", err, repoerr.ErrUnknownStorageImplementation)
	expectKind(t, "Alloc", err, repoerr.Capability)
}

func TestCreateTwiceFails(t *testing.T) {
	ctx := context.Background()
	registry := drivers.NewRegistry()
	descriptor := testDescriptor(t, "fs")
	first, err := CreateRepo(ctx, registry, descriptor, CreateParams{}, Options{})
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	defer first.Close()
	_, err = CreateRepo(ctx, registry, descriptor, CreateParams{}, Options{})
	expectError(t, "second CreateRepo", err, repoerr.ErrRepoAlreadyExists)
}

func TestCreateUnknownHashMethod(t *testing.T) {
	_, err := CreateRepo(context.Background(), drivers.NewRegistry(), testDescriptor(t, "sqlite"),
		CreateParams{HashMethod: "MD5/128"}, Options{})
	expectError(t, "CreateRepo", err, repoerr.ErrUnknownHashMethod)
}

func TestCreateKeepsSuppliedIdentity(t *testing.T) {
	r := newRepoOn(t, "badger", CreateParams{RepoID: "r-1", AdminID: "a-1", HashMethod: hid.MethodSHA256}, Options{})
	if r.RepoID() != "r-1" || r.AdminID() != "a-1" || r.HashMethod() != hid.MethodSHA256 {
		t.Errorf("identity = %q %q %q", r.RepoID(), r.AdminID(), r.HashMethod())
	}
	if r.Method().HexLen() != 64 {
		t.Errorf("Method().HexLen() = %d", r.Method().HexLen())
	}
}

func TestQuery(t *testing.T) {
	r := newRepoOn(t, "badger", CreateParams{}, Options{})

	answer, err := r.Query(storage.QuestionListImplementations)
	if err != nil {
		t.Fatalf("Query(list): %v", err)
	}
	if !slices.Equal(answer.Names, []string{"badger", "fs", "sqlite"}) {
		t.Errorf("implementations = %v", answer.Names)
	}

	answer, err = r.Query(storage.QuestionIsPersistent)
	if err != nil {
		t.Fatalf("Query(persistent): %v", err)
	}
	if !answer.Supported {
		t.Error("badger on disk does not report itself persistent")
	}

	_, err = r.Query(storage.Question(0x3000))
	expectKind(t, "Query(out of range)", err, repoerr.Invalid)
}

func TestCloseAbortsOpenTransaction(t *testing.T) {
	r := newRepo(t)
	tx, err := r.BeginTx(0)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = tx.Commit(context.Background())
	if err == nil {
		t.Fatal("Commit after Close succeeded")
	}
}

func TestBusyCommitIsRetried(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newRepoOn(t, "sqlite", CreateParams{}, Options{Clock: fake})
	flaky, restore := makeFlaky(r, func(call int) error {
		if call <= 2 {
			return repoerr.E("apply", repoerr.ErrDatabaseBusy)
		}
		return nil
	})
	defer restore()

	node := commit(t, r, testDagnum, "after contention")
	if node.Revision != 1 {
		t.Errorf("revision = %d, want 1", node.Revision)
	}
	if flaky.calls() != 3 {
		t.Errorf("Apply called %d times, want 3", flaky.calls())
	}
	want := []time.Duration{DefaultBusyBackoff, 2 * DefaultBusyBackoff}
	if got := fake.Slept(); !slices.Equal(got, want) {
		t.Errorf("slept %v, want %v", got, want)
	}
}

func TestBusyCommitGivesUp(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newRepoOn(t, "sqlite", CreateParams{}, Options{Clock: fake, BusyRetries: 3})
	flaky, restore := makeFlaky(r, func(int) error {
		return repoerr.E("apply", repoerr.ErrDatabaseBusy)
	})
	defer restore()

	ctx := context.Background()
	tx, err := r.BeginTx(0)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := r.StoreChangeset(ctx, tx, testDagnum, []byte("contended"), ""); err != nil {
		t.Fatalf("StoreChangeset: %v", err)
	}
	_, err = tx.Commit(ctx)
	if !repoerr.IsRetryable(err) {
		t.Fatalf("Commit: got %v, want a retryable error", err)
	}
	if flaky.calls() != 3 {
		t.Errorf("Apply called %d times, want 3", flaky.calls())
	}

	// The failed commit finished the transaction.
	if _, err := r.BeginTx(0); err != nil {
		t.Errorf("BeginTx after failed commit: %v", err)
	}
}
