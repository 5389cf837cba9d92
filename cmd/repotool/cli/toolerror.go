// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// ErrorCategory tells a script what to do about a failed command
// without parsing the message. Each category has its own exit code.
type ErrorCategory string

const (
	// CategoryValidation is bad input: a missing argument, an
	// unparseable HID or dagnum, an ambiguous prefix.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound is a blob, dagnode or repository that does not
	// exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryConflict is an operation against existing state, like
	// creating a repository twice or applying a fragment that does not
	// connect.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient is a busy backend. Retrying later may work.
	CategoryTransient ErrorCategory = "transient"

	// CategoryIntegrity is content that does not match its HID or
	// length.
	CategoryIntegrity ErrorCategory = "integrity"

	// CategoryInternal is everything else.
	CategoryInternal ErrorCategory = "internal"
)

var exitCodes = map[ErrorCategory]int{
	CategoryInternal:   1,
	CategoryValidation: 2,
	CategoryNotFound:   3,
	CategoryConflict:   4,
	CategoryTransient:  5,
	CategoryIntegrity:  6,
}

// ToolError is an error with a category.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for the category.
func (e *ToolError) ExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// Validation reports bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// Internal reports an unexpected failure.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// Classify returns err as a ToolError, choosing the category from the
// repository error kind it carries. A ToolError is returned unchanged.
func Classify(err error) *ToolError {
	if err == nil {
		return nil
	}
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return toolError
	}
	category := CategoryInternal
	switch repoerr.KindOf(err) {
	case repoerr.Invalid, repoerr.Ambiguous, repoerr.Capability:
		category = CategoryValidation
	case repoerr.NotFound:
		category = CategoryNotFound
	case repoerr.Consistency:
		category = CategoryConflict
	case repoerr.Busy:
		category = CategoryTransient
	case repoerr.Integrity:
		category = CategoryIntegrity
	}
	return &ToolError{Category: category, Err: err}
}
