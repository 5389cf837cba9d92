// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragball

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagfrag"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/hid"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Record is one record read from a fragball. Exactly one of Frag,
// Blob and Audits is set, according to Kind.
type Record struct {
	Kind Kind

	Frag *dagfrag.Fragment

	// Blob describes the blob whose stored bytes Body yields. Body is
	// valid until the next call to Next; bytes left unread are skipped.
	Blob *BlobHeader
	Body io.Reader

	Dagnum dagnode.Dagnum
	Audits []dagnode.Audit
}

// Reader reads records from a fragball.
type Reader struct {
	reader io.Reader
	body   *io.LimitedReader
	done   bool
}

// NewReader reads and checks the fragball header from r. When r is
// also an io.Seeker, skipped blob bytes are seeked over.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(Magic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, malformed("reading header: %v", err)
	}
	if string(header[:len(Magic)]) != Magic {
		return nil, malformed("bad magic %q", header[:len(Magic)])
	}
	if header[len(Magic)] != Version {
		return nil, malformed("version %d, expected %d", header[len(Magic)], Version)
	}
	return &Reader{reader: r}, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), repoerr.ErrMalformedFragball)
}

// Next returns the next record, or io.EOF after the end record.
func (fr *Reader) Next() (*Record, error) {
	if fr.done {
		return nil, io.EOF
	}
	if err := fr.skipBody(); err != nil {
		return nil, err
	}

	var prefix [5]byte
	if _, err := io.ReadFull(fr.reader, prefix[:]); err != nil {
		return nil, malformed("reading record header: %v", truncated(err))
	}
	kind := Kind(prefix[0])
	length := binary.BigEndian.Uint32(prefix[1:])
	if length > MaxBodySize {
		return nil, malformed("%s record of %d bytes exceeds %d", kind, length, MaxBodySize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, body); err != nil {
		return nil, malformed("reading %s record: %v", kind, truncated(err))
	}

	switch kind {
	case KindEnd:
		if length != 0 {
			return nil, malformed("end record with a %d byte body", length)
		}
		fr.done = true
		return nil, io.EOF

	case KindFrag:
		frag, err := dagfrag.Unmarshal(body)
		if err != nil {
			return nil, malformed("fragment record: %v", err)
		}
		return &Record{Kind: kind, Frag: frag}, nil

	case KindBlob:
		var header BlobHeader
		if err := codec.Unmarshal(body, &header); err != nil {
			return nil, malformed("blob header: %v", err)
		}
		if header.HID.IsZero() || header.LenEncoded < 0 || header.LenFull < 0 || !header.Encoding.Valid() {
			return nil, malformed("blob header for %q is invalid", header.HID)
		}
		fr.body = &io.LimitedReader{R: fr.reader, N: header.LenEncoded}
		return &Record{Kind: kind, Blob: &header, Body: &bodyReader{limited: fr.body}}, nil

	case KindAudits:
		var audits auditsBody
		if err := codec.Unmarshal(body, &audits); err != nil {
			return nil, malformed("audits record: %v", err)
		}
		dagnum := dagnode.Dagnum(audits.Dagnum)
		for _, audit := range audits.Audits {
			if audit.Dagnum != dagnum || audit.Changeset.IsZero() {
				return nil, malformed("audit for %q in dagnum %s inside audits of %s", audit.Changeset, audit.Dagnum, dagnum)
			}
		}
		return &Record{Kind: kind, Dagnum: dagnum, Audits: audits.Audits}, nil

	default:
		return nil, malformed("unknown record kind %d", prefix[0])
	}
}

// skipBody moves past whatever the caller left unread of the last blob.
func (fr *Reader) skipBody() error {
	if fr.body == nil {
		return nil
	}
	remaining := fr.body.N
	fr.body = nil
	if remaining == 0 {
		return nil
	}
	if seeker, ok := fr.reader.(io.Seeker); ok {
		if _, err := seeker.Seek(remaining, io.SeekCurrent); err != nil {
			return fmt.Errorf("skipping blob bytes: %w", err)
		}
		return nil
	}
	skipped, err := io.CopyN(io.Discard, fr.reader, remaining)
	if err != nil {
		return malformed("skipping blob bytes: %d of %d: %v", skipped, remaining, truncated(err))
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// bodyReader reports a short blob as truncation instead of a clean
// EOF.
type bodyReader struct {
	limited *io.LimitedReader
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.limited.N == 0 {
		return 0, io.EOF
	}
	n, err := b.limited.Read(p)
	if err == io.EOF && b.limited.N > 0 {
		return n, malformed("blob bytes end %d bytes early", b.limited.N)
	}
	return n, err
}

// FragSummary describes one fragment in a fragball.
type FragSummary struct {
	Dagnum   dagnode.Dagnum `json:"dagnum"`
	RepoID   string         `json:"repo_id"`
	Members  int            `json:"members"`
	Heads    []hid.HID      `json:"heads"`
	OpenEdge []hid.HID      `json:"open_edge,omitempty"`
}

// ScanFrags summarizes the fragments at the start of a fragball. It
// stops at the first record that is not a fragment, so no blob bytes
// are read.
func ScanFrags(r io.Reader) ([]FragSummary, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var summaries []FragSummary
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return summaries, nil
		}
		if err != nil {
			return nil, err
		}
		if record.Kind != KindFrag {
			return summaries, nil
		}
		summaries = append(summaries, FragSummary{
			Dagnum:   record.Frag.Dagnum,
			RepoID:   record.Frag.RepoID,
			Members:  record.Frag.Len(),
			Heads:    record.Frag.Heads(),
			OpenEdge: record.Frag.OpenEdge(),
		})
	}
}
