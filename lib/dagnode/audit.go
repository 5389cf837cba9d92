// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dagnode

import (
	"time"

	"github.com/bureau-foundation/repostore/lib/hid"
)

// Audit records that a user applied a changeset to a dagnum at a point
// in time. Audits are written in the same commit as the dagnode they
// describe. A node may collect more audits later, for example when the
// same changeset arrives from another repository; audits never affect
// the DAG itself.
type Audit struct {
	Changeset hid.HID `json:"changeset"`
	Dagnum    Dagnum  `json:"dagnum"`
	UserID    string  `json:"user_id"`

	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewAudit builds an audit stamped at when.
func NewAudit(dagnum Dagnum, changeset hid.HID, userID string, when time.Time) Audit {
	return Audit{
		Changeset: changeset,
		Dagnum:    dagnum,
		UserID:    userID,
		Timestamp: when.UnixMilli(),
	}
}

// Time returns the audit timestamp.
func (a Audit) Time() time.Time { return time.UnixMilli(a.Timestamp).UTC() }
