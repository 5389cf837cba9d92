// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		exitCode int
	}{
		{"not found", fmt.Errorf("cat: %w", repoerr.ErrBlobNotFound), CategoryNotFound, 3},
		{"ambiguous", repoerr.E("lookup", repoerr.ErrAmbiguousIDPrefix), CategoryValidation, 2},
		{"sparse", repoerr.E("store_dagfrag", repoerr.ErrCannotCreateSparseDag), CategoryConflict, 4},
		{"busy", repoerr.E("commit", repoerr.ErrDatabaseBusy), CategoryTransient, 5},
		{"corrupt", repoerr.E("fetch", repoerr.ErrBlobNotVerified), CategoryIntegrity, 6},
		{"unclassified", errors.New("disk on fire"), CategoryInternal, 1},
		{"already categorized", Validation("bad %s", "input"), CategoryValidation, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			classified := Classify(test.err)
			if classified.Category != test.category {
				t.Errorf("category = %s, want %s", classified.Category, test.category)
			}
			if classified.ExitCode() != test.exitCode {
				t.Errorf("exit code = %d, want %d", classified.ExitCode(), test.exitCode)
			}
			if !errors.Is(classified, test.err) {
				t.Error("classified error does not wrap the original")
			}
		})
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}
