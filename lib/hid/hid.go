// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hid

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// HID is a hash identifier: the lowercase hex digest of a blob (or of
// the changeset blob a dagnode represents) under the repository's hash
// method. The zero value is the empty string and identifies nothing.
type HID string

// String returns the HID as a plain string.
func (h HID) String() string { return string(h) }

// IsZero reports whether h is the empty HID.
func (h HID) IsZero() bool { return h == "" }

// Short returns the first 12 hex characters of h, for log lines and
// human-facing listings. HIDs shorter than that are returned whole.
func (h HID) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// HasPrefix reports whether h begins with prefix. The comparison is
// case-insensitive on the prefix side; HIDs themselves are always
// lowercase.
func (h HID) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(h), strings.ToLower(prefix))
}

// Method names. These strings are stored in every repository's
// identity record; changing one orphans the repositories that use it.
const (
	MethodSHA1    = "SHA1/160"
	MethodSHA256  = "SHA2/256"
	MethodSHA512  = "SHA2/512"
	MethodSHA3    = "SHA3/256"
	MethodBLAKE2B = "BLAKE2B/256"
	MethodBLAKE3  = "BLAKE3/256"
)

// DefaultMethod is the hash method new repositories use when the
// creator does not pick one.
const DefaultMethod = MethodBLAKE3

// Method is a named hash function. All HIDs within one repository are
// produced by the same Method.
type Method struct {
	name    string
	size    int
	newHash func() hash.Hash
}

var methods = map[string]*Method{
	MethodSHA1:   {name: MethodSHA1, size: sha1.Size, newHash: sha1.New},
	MethodSHA256: {name: MethodSHA256, size: sha256.Size, newHash: sha256.New},
	MethodSHA512: {name: MethodSHA512, size: sha512.Size, newHash: sha512.New},
	MethodSHA3:   {name: MethodSHA3, size: 32, newHash: sha3.New256},
	MethodBLAKE2B: {name: MethodBLAKE2B, size: blake2b.Size256, newHash: func() hash.Hash {
		// New256 only fails for keys longer than 64 bytes.
		hasher, err := blake2b.New256(nil)
		if err != nil {
			panic("hid: BLAKE2b initialization failed: " + err.Error())
		}
		return hasher
	}},
	MethodBLAKE3: {name: MethodBLAKE3, size: 32, newHash: func() hash.Hash { return blake3.New() }},
}

// Lookup returns the method registered under name.
func Lookup(name string) (*Method, error) {
	method, ok := methods[name]
	if !ok {
		return nil, fmt.Errorf("hash method %q: %w", name, repoerr.ErrUnknownHashMethod)
	}
	return method, nil
}

// Methods returns the names of all supported hash methods, sorted.
func Methods() []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the method's registered name, e.g. "BLAKE3/256".
func (m *Method) Name() string { return m.name }

// Size returns the digest size in bytes.
func (m *Method) Size() int { return m.size }

// HexLen returns the length of an HID produced by this method.
func (m *Method) HexLen() int { return m.size * 2 }

// Sum hashes data in one call.
func (m *Method) Sum(data []byte) HID {
	hasher := m.newHash()
	hasher.Write(data)
	return HID(hex.EncodeToString(hasher.Sum(nil)))
}

// Parse validates s as a full HID of this method and returns it in
// canonical (lowercase) form.
func (m *Method) Parse(s string) (HID, error) {
	lowered := strings.ToLower(s)
	if len(lowered) != m.HexLen() {
		return "", fmt.Errorf("hid %q has %d characters, %s needs %d: %w",
			s, len(s), m.name, m.HexLen(), repoerr.ErrInvalidArgument)
	}
	if !isHex(lowered) {
		return "", fmt.Errorf("hid %q is not hexadecimal: %w", s, repoerr.ErrInvalidArgument)
	}
	return HID(lowered), nil
}

// Valid reports whether h is a well-formed HID for this method.
func (m *Method) Valid(h HID) bool {
	return len(h) == m.HexLen() && isHex(string(h)) && strings.ToLower(string(h)) == string(h)
}

// ValidPrefix reports whether prefix could begin some HID: non-empty,
// hexadecimal, and no longer than a full HID of this method.
func (m *Method) ValidPrefix(prefix string) bool {
	return prefix != "" && len(prefix) <= m.HexLen() && isHex(strings.ToLower(prefix))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Sort sorts hids in place, lexically.
func Sort(hids []HID) {
	sort.Slice(hids, func(i, j int) bool { return hids[i] < hids[j] })
}

// Set is an unordered collection of HIDs.
type Set map[HID]struct{}

// NewSet returns a set holding hids.
func NewSet(hids ...HID) Set {
	set := make(Set, len(hids))
	for _, h := range hids {
		set[h] = struct{}{}
	}
	return set
}

// Add inserts h.
func (s Set) Add(h HID) { s[h] = struct{}{} }

// Has reports whether h is in the set.
func (s Set) Has(h HID) bool {
	_, ok := s[h]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []HID {
	out := make([]HID, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	Sort(out)
	return out
}
