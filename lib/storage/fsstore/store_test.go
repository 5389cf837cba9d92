// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsstore_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/storage"
	"github.com/bureau-foundation/repostore/lib/storage/fsstore"
	"github.com/bureau-foundation/repostore/lib/storage/storagetest"
)

func factory(t *testing.T) (storage.Driver, storage.Descriptor) {
	return fsstore.New(), storage.NewDescriptor(fsstore.Name, filepath.Join(t.TempDir(), "repo"))
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, factory)
}

func create(t *testing.T) (storage.Descriptor, storage.Instance) {
	t.Helper()
	driver, descriptor := factory(t)
	identity := storage.Identity{RepoID: "r", AdminID: "a", HashMethod: hid.MethodBLAKE3}
	instance, err := driver.Create(context.Background(), descriptor, identity, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { instance.Close() })
	return descriptor, instance
}

func TestBlobFilesAreSharded(t *testing.T) {
	descriptor, instance := create(t)
	method, _ := hid.Lookup(hid.MethodBLAKE3)
	content := []byte("sharded content")
	id := method.Sum(content)
	_, err := instance.Apply(context.Background(), &storage.Batch{Blobs: []storage.Blob{{
		BlobInfo: storage.BlobInfo{HID: id, Encoding: blobenc.Full, LenEncoded: int64(len(content)), LenFull: int64(len(content))},
		Data:     content,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	name := string(id)
	if _, err := os.Stat(filepath.Join(descriptor.Path(), "blobs", name[:2], name[2:4], name)); err != nil {
		t.Errorf("blob file: %v", err)
	}

	_, reader, err := instance.OpenBlob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil || string(data) != string(content) {
		t.Errorf("OpenBlob read %q, %v", data, err)
	}
}

// Two handles on one directory see each other's commits.
func TestSecondHandleSeesCommits(t *testing.T) {
	ctx := context.Background()
	descriptor, first := create(t)
	second, err := fsstore.New().Open(ctx, descriptor, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	method, _ := hid.Lookup(hid.MethodBLAKE3)
	a := method.Sum([]byte("a"))
	b := method.Sum([]byte("b"))

	// Prime the second handle's cache before the first handle writes.
	if leaves, err := second.Leaves(ctx, dagnode.VersionControl); err != nil || len(leaves) != 0 {
		t.Fatalf("initial leaves = %v, %v", leaves, err)
	}
	for _, node := range []*dagnode.Dagnode{
		dagnode.Stored(dagnode.VersionControl, a, nil, 0, 0),
		dagnode.Stored(dagnode.VersionControl, b, []hid.HID{a}, 1, 0),
	} {
		if _, err := first.Apply(ctx, &storage.Batch{Nodes: []*dagnode.Dagnode{node}}); err != nil {
			t.Fatal(err)
		}
		leaves, err := second.Leaves(ctx, dagnode.VersionControl)
		if err != nil {
			t.Fatal(err)
		}
		if len(leaves) != 1 || leaves[0] != node.ID {
			t.Errorf("second handle leaves = %v, want [%s]", leaves, node.ID.Short())
		}
	}
}
