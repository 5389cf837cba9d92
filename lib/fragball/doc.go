// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragball reads and writes fragballs: single files (or
// streams) carrying DAG fragments, the blobs their nodes refer to, and
// audit records, for moving history between repositories without a
// live connection.
//
// A fragball starts with the 8-byte magic "FRAGBALL" and a version
// byte. Records follow, each a kind byte, a 4-byte big-endian body
// length, and a CBOR body:
//
//	FRAGBALL 01
//	[frag   ][len][fragment]
//	[blob   ][len][blob header] <len_encoded raw bytes>
//	[audits ][len][audits]
//	[end    ][0]
//
// A blob record's raw bytes follow its header directly and are the
// blob's stored form, not its full content. Writers put fragments
// first so a reader can check connectivity before touching any blob
// bytes; [ScanFrags] stops reading there. A stream that ends without
// the end record is truncated and fails with ErrMalformedFragball.
package fragball
