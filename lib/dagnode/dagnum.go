// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagnode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Dagnum names a DAG namespace. Each dagnum is an independent history
// sharing the repository's blob store.
//
// Layout, most significant first:
//
//	bits 63..32  vendor (0 for the built-in namespaces)
//	bits 31..17  reserved, zero
//	bit  16      admin scope: the history belongs to the admin id, not
//	             the repository id, and is shared by every repository
//	             in the same administrative group
//	bits 15..0   namespace id within the vendor
//
// Any 64-bit value is a usable dagnum; the layout only gives the
// well-known ones a structure.
type Dagnum uint64

// AdminScope is the flag bit marking admin-scoped namespaces.
const AdminScope Dagnum = 1 << 16

// Built-in namespaces.
const (
	VersionControl Dagnum = 1
	Branches       Dagnum = 2
	Tags           Dagnum = 3
	Comments       Dagnum = 4
	Areas          Dagnum = AdminScope | 5
	Users          Dagnum = AdminScope | 6
	TestingDB      Dagnum = 0xff
)

var wellKnown = map[Dagnum]string{
	VersionControl: "version_control",
	Branches:       "branches",
	Tags:           "tags",
	Comments:       "comments",
	Areas:          "areas",
	Users:          "users",
	TestingDB:      "testing",
}

// NewDagnum builds a dagnum from its parts.
func NewDagnum(vendor uint32, id uint16, adminScoped bool) Dagnum {
	d := Dagnum(vendor)<<32 | Dagnum(id)
	if adminScoped {
		d |= AdminScope
	}
	return d
}

// Vendor returns the vendor field.
func (d Dagnum) Vendor() uint32 { return uint32(d >> 32) }

// ID returns the namespace id within the vendor.
func (d Dagnum) ID() uint16 { return uint16(d) }

// IsAdminScoped reports whether the admin scope bit is set.
func (d Dagnum) IsAdminScoped() bool { return d&AdminScope != 0 }

// String returns the well-known name, or 16 hex digits.
func (d Dagnum) String() string {
	if name, ok := wellKnown[d]; ok {
		return name
	}
	return fmt.Sprintf("%016x", uint64(d))
}

// Hex returns the dagnum as 16 hex digits, the form storage
// implementations use in keys and file names.
func (d Dagnum) Hex() string { return fmt.Sprintf("%016x", uint64(d)) }

// ParseDagnum accepts a well-known name, a decimal number, or a hex
// number with a 0x prefix or exactly 16 digits.
func ParseDagnum(s string) (Dagnum, error) {
	for d, name := range wellKnown {
		if strings.EqualFold(s, name) {
			return d, nil
		}
	}
	var (
		value uint64
		err   error
	)
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		value, err = strconv.ParseUint(s[2:], 16, 64)
	case len(s) == 16:
		value, err = strconv.ParseUint(s, 16, 64)
	default:
		value, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("dagnum %q: %w", s, repoerr.ErrInvalidArgument)
	}
	return Dagnum(value), nil
}
