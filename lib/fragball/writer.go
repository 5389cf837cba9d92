// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragball

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagfrag"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Writer writes one fragball. Close writes the end record; the
// underlying writer is not closed.
type Writer struct {
	writer io.Writer
	closed bool
}

// NewWriter writes the fragball header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	header := append([]byte(Magic), Version)
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing fragball header: %w", err)
	}
	return &Writer{writer: w}, nil
}

// WriteFrag writes a fragment record.
func (fw *Writer) WriteFrag(frag *dagfrag.Fragment) error {
	body, err := frag.Marshal()
	if err != nil {
		return err
	}
	return fw.writeRecord(KindFrag, body)
}

// WriteBlob writes a blob record: the header, then exactly
// header.LenEncoded bytes copied from data.
func (fw *Writer) WriteBlob(header BlobHeader, data io.Reader) error {
	if header.LenEncoded < 0 || header.LenFull < 0 || !header.Encoding.Valid() {
		return fmt.Errorf("blob header for %s: %w", header.HID.Short(), repoerr.ErrInvalidArgument)
	}
	body, err := codec.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding blob header: %w", err)
	}
	if err := fw.writeRecord(KindBlob, body); err != nil {
		return err
	}
	copied, err := io.CopyN(fw.writer, data, header.LenEncoded)
	if err != nil {
		return fmt.Errorf("writing blob %s: %d of %d bytes: %w", header.HID.Short(), copied, header.LenEncoded, err)
	}
	return nil
}

// WriteAudits writes the audits of one dagnum.
func (fw *Writer) WriteAudits(dagnum dagnode.Dagnum, audits []dagnode.Audit) error {
	body, err := codec.Marshal(auditsBody{Dagnum: uint64(dagnum), Audits: audits})
	if err != nil {
		return fmt.Errorf("encoding audits: %w", err)
	}
	return fw.writeRecord(KindAudits, body)
}

// Close writes the end record. Closing twice is a no-op.
func (fw *Writer) Close() error {
	if fw.closed {
		return nil
	}
	if err := fw.writeRecord(KindEnd, nil); err != nil {
		return err
	}
	fw.closed = true
	return nil
}

func (fw *Writer) writeRecord(kind Kind, body []byte) error {
	if fw.closed {
		return fmt.Errorf("write %s record to closed fragball: %w", kind, repoerr.ErrInvalidArgument)
	}
	if len(body) > MaxBodySize {
		return fmt.Errorf("%s record of %d bytes exceeds %d: %w", kind, len(body), MaxBodySize, repoerr.ErrInvalidArgument)
	}
	var prefix [5]byte
	prefix[0] = byte(kind)
	binary.BigEndian.PutUint32(prefix[1:], uint32(len(body)))
	if _, err := fw.writer.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing %s record header: %w", kind, err)
	}
	if _, err := fw.writer.Write(body); err != nil {
		return fmt.Errorf("writing %s record: %w", kind, err)
	}
	return nil
}
