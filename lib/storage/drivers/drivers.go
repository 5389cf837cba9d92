// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package drivers assembles the built-in storage implementations into
// a registry.
package drivers

import (
	"github.com/bureau-foundation/repostore/lib/storage"
	"github.com/bureau-foundation/repostore/lib/storage/badgerstore"
	"github.com/bureau-foundation/repostore/lib/storage/fsstore"
	"github.com/bureau-foundation/repostore/lib/storage/sqlitestore"
)

// NewRegistry returns a registry holding the sqlite, badger and fs
// drivers.
func NewRegistry() *storage.Registry {
	registry, err := storage.NewRegistry(sqlitestore.New(), badgerstore.New(), fsstore.New())
	if err != nil {
		// The names are distinct constants.
		panic("drivers: " + err.Error())
	}
	return registry
}
