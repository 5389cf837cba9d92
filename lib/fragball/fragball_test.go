// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragball

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/bureau-foundation/repostore/lib/blobenc"
	"github.com/bureau-foundation/repostore/lib/dagfrag"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

const testDagnum dagnode.Dagnum = 5

var method, _ = hid.Lookup(hid.DefaultMethod)

// sample is a fragball holding a two-node fragment, two blobs and the
// audits of the fragment's nodes.
type sample struct {
	data   []byte
	frag   *dagfrag.Fragment
	blobs  map[hid.HID][]byte
	order  []hid.HID
	audits []dagnode.Audit
}

func buildSample(t *testing.T) sample {
	t.Helper()
	root := method.Sum([]byte("root"))
	child := method.Sum([]byte("child"))
	frag := dagfrag.New("repo-1", "admin-1", testDagnum)
	for _, node := range []*dagnode.Dagnode{
		dagnode.Stored(testDagnum, root, nil, 0, 1),
		dagnode.Stored(testDagnum, child, []hid.HID{root}, 1, 2),
	} {
		if err := frag.Add(node); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	s := sample{
		frag: frag,
		blobs: map[hid.HID][]byte{
			root:  []byte("root"),
			child: bytes.Repeat([]byte("child"), 1000),
		},
		order: []hid.HID{root, child},
		audits: []dagnode.Audit{
			{Changeset: root, Dagnum: testDagnum, UserID: "alice", Timestamp: 1000},
			{Changeset: child, Dagnum: testDagnum, UserID: "bob", Timestamp: 2000},
		},
	}

	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.WriteFrag(frag); err != nil {
		t.Fatalf("WriteFrag: %v", err)
	}
	for _, id := range s.order {
		content := s.blobs[id]
		header := BlobHeader{HID: id, Encoding: blobenc.Full, LenEncoded: int64(len(content)), LenFull: int64(len(content))}
		if err := writer.WriteBlob(header, bytes.NewReader(content)); err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
	}
	if err := writer.WriteAudits(testDagnum, s.audits); err != nil {
		t.Fatalf("WriteAudits: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	s.data = buffer.Bytes()
	return s
}

// streamOnly hides any Seek method of the wrapped reader.
type streamOnly struct{ io.Reader }

func TestRoundTrip(t *testing.T) {
	s := buildSample(t)
	reader, err := NewReader(bytes.NewReader(s.data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	record, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if record.Kind != KindFrag {
		t.Fatalf("first record is %s", record.Kind)
	}
	if record.Frag.RepoID != "repo-1" || record.Frag.AdminID != "admin-1" || record.Frag.Dagnum != testDagnum {
		t.Errorf("fragment origin = %s/%s/%s", record.Frag.RepoID, record.Frag.AdminID, record.Frag.Dagnum)
	}
	if !slices.Equal(record.Frag.IDs(), s.frag.IDs()) {
		t.Errorf("fragment members = %v, want %v", record.Frag.IDs(), s.frag.IDs())
	}

	for _, id := range s.order {
		record, err := reader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if record.Kind != KindBlob || record.Blob.HID != id {
			t.Fatalf("record = %s %v, want blob %s", record.Kind, record.Blob, id)
		}
		content, err := io.ReadAll(record.Body)
		if err != nil {
			t.Fatalf("reading blob: %v", err)
		}
		if !bytes.Equal(content, s.blobs[id]) {
			t.Errorf("blob %s content differs", id.Short())
		}
	}

	record, err = reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if record.Kind != KindAudits || record.Dagnum != testDagnum {
		t.Fatalf("record = %s for %s, want audits", record.Kind, record.Dagnum)
	}
	if !slices.Equal(record.Audits, s.audits) {
		t.Errorf("audits = %+v, want %+v", record.Audits, s.audits)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next after end = %v, want io.EOF", err)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next after EOF = %v, want io.EOF", err)
	}
}

func TestUnreadBlobsAreSkipped(t *testing.T) {
	s := buildSample(t)
	for _, test := range []struct {
		name   string
		source io.Reader
	}{
		{"seeker", bytes.NewReader(s.data)},
		{"stream", streamOnly{bytes.NewReader(s.data)}},
	} {
		t.Run(test.name, func(t *testing.T) {
			reader, err := NewReader(test.source)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			var kinds []Kind
			for {
				record, err := reader.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				kinds = append(kinds, record.Kind)
				if record.Kind == KindBlob && record.Blob.HID == s.order[1] {
					// Read part of the body only.
					if _, err := io.ReadFull(record.Body, make([]byte, 7)); err != nil {
						t.Fatalf("partial read: %v", err)
					}
				}
			}
			want := []Kind{KindFrag, KindBlob, KindBlob, KindAudits}
			if !slices.Equal(kinds, want) {
				t.Errorf("kinds = %v, want %v", kinds, want)
			}
		})
	}
}

func TestMalformed(t *testing.T) {
	s := buildSample(t)
	header := len(Magic) + 1

	badMagic := slices.Clone(s.data)
	badMagic[0] = 'X'
	wrongVersion := slices.Clone(s.data)
	wrongVersion[len(Magic)] = Version + 1
	unknownKind := slices.Clone(s.data)
	unknownKind[header] = 9

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", badMagic},
		{"wrong version", wrongVersion},
		{"unknown kind", unknownKind},
		{"truncated header", s.data[:header+3]},
		{"truncated blob", s.data[:len(s.data)/2]},
		{"missing end record", s.data[:len(s.data)-5]},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := drain(test.data)
			if !errors.Is(err, repoerr.ErrMalformedFragball) {
				t.Fatalf("error = %v, want ErrMalformedFragball", err)
			}
		})
	}
}

// drain reads every record of data, reading every blob body, and
// returns the first error other than the final io.EOF.
func drain(data []byte) error {
	reader, err := NewReader(streamOnly{bytes.NewReader(data)})
	if err != nil {
		return err
	}
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if record.Body != nil {
			if _, err := io.Copy(io.Discard, record.Body); err != nil {
				return err
			}
		}
	}
}

func TestScanFragsStopsAtBlobs(t *testing.T) {
	s := buildSample(t)
	// Everything after the first blob header is cut off; ScanFrags
	// must not notice.
	var prefix bytes.Buffer
	writer, err := NewWriter(&prefix)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.WriteFrag(s.frag); err != nil {
		t.Fatalf("WriteFrag: %v", err)
	}
	blob := s.blobs[s.order[0]]
	header := BlobHeader{HID: s.order[0], LenEncoded: int64(len(blob)), LenFull: int64(len(blob))}
	if err := writer.WriteBlob(header, bytes.NewReader(blob)); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	cut := prefix.Bytes()[:prefix.Len()-len(blob)]

	summaries, err := ScanFrags(bytes.NewReader(cut))
	if err != nil {
		t.Fatalf("ScanFrags: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	summary := summaries[0]
	if summary.Dagnum != testDagnum || summary.RepoID != "repo-1" || summary.Members != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if !slices.Equal(summary.Heads, []hid.HID{s.order[1]}) {
		t.Errorf("heads = %v, want [%s]", summary.Heads, s.order[1])
	}
	if len(summary.OpenEdge) != 0 {
		t.Errorf("open edge = %v, want none", summary.OpenEdge)
	}
}

func TestWriterRejects(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewWriter(&buffer)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	id := method.Sum([]byte("x"))

	err = writer.WriteBlob(BlobHeader{HID: id, LenEncoded: 10, LenFull: 10}, bytes.NewReader([]byte("short")))
	if !errors.Is(err, io.EOF) {
		t.Errorf("short blob source: %v, want io.EOF", err)
	}
	err = writer.WriteBlob(BlobHeader{HID: id, Encoding: blobenc.Encoding(99)}, bytes.NewReader(nil))
	if !errors.Is(err, repoerr.ErrInvalidArgument) {
		t.Errorf("unknown encoding: %v, want ErrInvalidArgument", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.WriteAudits(testDagnum, nil); !errors.Is(err, repoerr.ErrInvalidArgument) {
		t.Errorf("write after Close: %v, want ErrInvalidArgument", err)
	}
}
