// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repoerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error by how a caller is expected to react to it.
// Kinds are stable protocol values: a Kind travels with an error across
// wrapping, so a caller several layers up can decide whether to retry,
// grow a fragment, or surface the failure, without matching on
// individual sentinels.
type Kind uint8

const (
	// Other is an unclassified failure.
	Other Kind = iota

	// Integrity signals corruption or protocol mismatch: a blob whose
	// content does not hash to its HID, a malformed fragment or
	// fragball header. Never retried.
	Integrity

	// Consistency signals an operation that would violate a repository
	// invariant: a sparse DAG, a duplicate dagnode, a second open
	// transaction. Fatal to the current operation; the caller recovers
	// by changing its approach.
	Consistency

	// NotFound is the expected "no such item" result.
	NotFound

	// Ambiguous means a short identifier matched more than one item.
	Ambiguous

	// Busy is a transient backend condition (lock contention, write
	// conflict). The only retryable kind.
	Busy

	// Capability means the selected storage implementation is unknown or
	// does not support the requested feature. Surfaced before any
	// transaction is opened.
	Capability

	// Invalid is a caller error: bad argument, misuse of a handle.
	Invalid

	// IO is an operating-system or backend I/O failure.
	IO
)

// String returns the human-readable name of a kind.
func (k Kind) String() string {
	switch k {
	case Other:
		return "other"
	case Integrity:
		return "integrity"
	case Consistency:
		return "consistency"
	case NotFound:
		return "not found"
	case Ambiguous:
		return "ambiguous"
	case Busy:
		return "busy"
	case Capability:
		return "capability"
	case Invalid:
		return "invalid"
	case IO:
		return "i/o"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Error is an engine error carrying the operation that failed, the
// error kind, and the underlying cause.
type Error struct {
	// Op is the engine operation, e.g. "store_dagfrag" or "fetch_begin".
	Op string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying error. It is usually one of the sentinels
	// below, possibly wrapped with context.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// sentinel is a named error with a fixed kind. Sentinels compare by
// identity, so errors.Is works through any amount of wrapping.
type sentinel struct {
	kind    Kind
	message string
}

func (s *sentinel) Error() string { return s.message }

func newSentinel(kind Kind, message string) error {
	return &sentinel{kind: kind, message: message}
}

// Named failures. Each carries its Kind.
var (
	ErrBlobNotFound      = newSentinel(NotFound, "blob not found")
	ErrBlobNotVerified   = newSentinel(Integrity, "blob content does not match its HID")
	ErrDagnodeNotFound   = newSentinel(NotFound, "dagnode not found")
	ErrNotFound          = newSentinel(NotFound, "not found")
	ErrAmbiguousIDPrefix = newSentinel(Ambiguous, "ambiguous id prefix")

	ErrDagnodeAlreadyExists  = newSentinel(Consistency, "dagnode already exists")
	ErrCannotCreateSparseDag = newSentinel(Consistency, "cannot create sparse dag")
	ErrOnlyOneTx             = newSentinel(Consistency, "only one transaction may be open per repository handle")
	ErrNotInTx               = newSentinel(Consistency, "transaction is not open")
	ErrNotFrozen             = newSentinel(Consistency, "dagnode is not frozen")
	ErrFrozen                = newSentinel(Consistency, "dagnode is frozen")

	ErrRepoAlreadyExists = newSentinel(Consistency, "repository already exists")
	ErrRepoNotFound      = newSentinel(NotFound, "repository not found")
	ErrRepoMismatch      = newSentinel(Consistency, "history belongs to another repository")

	ErrDaglcaNoAncestor     = newSentinel(Consistency, "nodes have no common ancestor")
	ErrDaglcaLeafIsAncestor = newSentinel(Invalid, "an input node is an ancestor of another input node")
	ErrDaglcaNotUnique      = newSentinel(Ambiguous, "nodes have more than one minimal common ancestor")

	ErrMalformedFragment = newSentinel(Integrity, "malformed dag fragment")
	ErrMalformedFragball = newSentinel(Integrity, "malformed fragball")
	ErrLengthMismatch    = newSentinel(Integrity, "blob length does not match declared length")

	ErrDatabaseBusy = newSentinel(Busy, "database busy")

	ErrUnknownStorageImplementation = newSentinel(Capability, "unknown storage implementation")
	ErrNotSupported                 = newSentinel(Capability, "not supported by this storage implementation")
	ErrUnknownHashMethod            = newSentinel(Capability, "unknown hash method")

	ErrInvalidArgument = newSentinel(Invalid, "invalid argument")
	ErrHandleClosed    = newSentinel(Invalid, "handle is closed")
	ErrNotOpen         = newSentinel(Invalid, "repository is not open")
)

// E builds an *Error for op whose kind is taken from err.
func E(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindOf(err), Err: err}
}

// Errorf builds an *Error for op wrapping a formatted message. The
// format should include a %w verb for the sentinel that determines the
// kind.
func Errorf(op string, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{Op: op, Kind: KindOf(err), Err: err}
}

// KindOf returns the kind of err: the kind of the outermost *Error with
// a non-Other kind, else the kind of any sentinel in the chain. Context
// cancellation is reported as Other.
func KindOf(err error) Kind {
	if err == nil {
		return Other
	}
	var engineError *Error
	if errors.As(err, &engineError) && engineError.Kind != Other {
		return engineError.Kind
	}
	var named *sentinel
	if errors.As(err, &named) {
		return named.kind
	}
	return Other
}

// Is reports whether err has the given kind.
func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a transient backend condition
// that the caller may retry.
func IsRetryable(err error) bool {
	return KindOf(err) == Busy
}

// Retry calls fn until it succeeds, returns a non-retryable error, ctx
// is done, or attempts calls have been made. attempts below 1 is
// treated as 1. The last error is returned.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}
