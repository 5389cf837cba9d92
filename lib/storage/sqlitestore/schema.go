// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

// databaseFile is the database's name inside the descriptor's path.
const databaseFile = "repo.sqlite"

// schemaVersion is stored in meta and checked on Open.
const schemaVersion = "1"

// Meta keys.
const (
	metaSchemaVersion = "schema_version"
	metaRepoID        = "repo_id"
	metaAdminID       = "admin_id"
	metaHashMethod    = "hash_method"
)

// Dagnums are stored as INTEGER, i.e. the two's-complement int64 of the
// uint64 value. HIDs are lowercase hex TEXT, so lexical order in SQL
// matches hid.Sort. An empty blob's data may read back as NULL.
const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE blobs (
	hid         TEXT PRIMARY KEY,
	encoding    INTEGER NOT NULL,
	reference   TEXT,
	len_encoded INTEGER NOT NULL,
	len_full    INTEGER NOT NULL,
	data        BLOB
) WITHOUT ROWID;

CREATE TABLE dagnodes (
	dagnum     INTEGER NOT NULL,
	hid        TEXT NOT NULL,
	generation INTEGER NOT NULL,
	revision   INTEGER NOT NULL,
	PRIMARY KEY (dagnum, hid)
) WITHOUT ROWID;

CREATE UNIQUE INDEX dagnodes_revision ON dagnodes (dagnum, revision);
CREATE INDEX dagnodes_generation ON dagnodes (dagnum, generation, hid);

CREATE TABLE edges (
	dagnum INTEGER NOT NULL,
	child  TEXT NOT NULL,
	parent TEXT NOT NULL,
	PRIMARY KEY (dagnum, child, parent)
) WITHOUT ROWID;

CREATE INDEX edges_parent ON edges (dagnum, parent, child);

CREATE TABLE leaves (
	dagnum INTEGER NOT NULL,
	hid    TEXT NOT NULL,
	PRIMARY KEY (dagnum, hid)
) WITHOUT ROWID;

CREATE TABLE audits (
	dagnum    INTEGER NOT NULL,
	hid       TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (dagnum, hid, timestamp, user_id)
) WITHOUT ROWID;
`
