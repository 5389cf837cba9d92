// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The repository engine reads the time in two places: the timestamp of
// an audit record and the back-off between retries of a busy backend.
// Both go through a [Clock] so tests can pin audit timestamps and run
// retry loops without real sleeps:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	r, err := repo.Alloc(registry, descriptor, repo.Options{Clock: fake})
package clock
