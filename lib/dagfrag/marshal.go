// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagfrag

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/repostore/lib/codec"
	"github.com/bureau-foundation/repostore/lib/dagnode"
	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// FormatVersion is the version of the serialized fragment. Unmarshal
// rejects any other version.
const FormatVersion = 1

type wireFragment struct {
	Version uint8              `cbor:"0,keyasint"`
	RepoID  string             `cbor:"1,keyasint"`
	AdminID string             `cbor:"2,keyasint"`
	Dagnum  uint64             `cbor:"3,keyasint"`
	Members []*dagnode.Dagnode `cbor:"4,keyasint"`
}

// Marshal serializes f. Members are written in generation order, so
// equal fragments serialize to equal bytes.
func (f *Fragment) Marshal() ([]byte, error) {
	data, err := codec.Marshal(wireFragment{
		Version: FormatVersion,
		RepoID:  f.RepoID,
		AdminID: f.AdminID,
		Dagnum:  uint64(f.Dagnum),
		Members: f.Members(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fragment: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a fragment. Anything that is not a well-formed
// fragment of the current version fails with ErrMalformedFragment.
func Unmarshal(data []byte) (*Fragment, error) {
	var wire wireFragment
	if err := codec.Unmarshal(data, &wire); err != nil {
		if errors.Is(err, repoerr.ErrMalformedFragment) {
			return nil, err
		}
		return nil, fmt.Errorf("decode fragment: %v: %w", err, repoerr.ErrMalformedFragment)
	}
	if wire.Version != FormatVersion {
		return nil, fmt.Errorf("fragment version %d, expected %d: %w",
			wire.Version, FormatVersion, repoerr.ErrMalformedFragment)
	}

	f := New(wire.RepoID, wire.AdminID, dagnode.Dagnum(wire.Dagnum))
	for _, member := range wire.Members {
		if member == nil {
			return nil, fmt.Errorf("fragment has an empty member: %w", repoerr.ErrMalformedFragment)
		}
		if member.Dagnum != f.Dagnum {
			return nil, fmt.Errorf("fragment for dagnum %s has member %s of dagnum %s: %w",
				f.Dagnum, member.ID.Short(), member.Dagnum, repoerr.ErrMalformedFragment)
		}
		if f.Contains(member.ID) {
			return nil, fmt.Errorf("fragment lists member %s twice: %w", member.ID.Short(), repoerr.ErrMalformedFragment)
		}
		if err := f.Add(member); err != nil {
			return nil, fmt.Errorf("fragment member %s: %v: %w", member.ID.Short(), err, repoerr.ErrMalformedFragment)
		}
	}
	return f, nil
}
