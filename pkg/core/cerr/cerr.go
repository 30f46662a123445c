// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cerr provides classified error types. Errors which cross
// the core package boundaries are wrapped with a Kind, so callers can
// distinguish a rejected operation (which must be treated as a doomed
// enclosing transaction) from an engine-level statement failure,
// without depending on the error message contents.
package cerr

import (
	"errors"
	"fmt"
)

// Kind classifies the recoverable error conditions of the transaction
// core. Misuse of the API (such as committing a transaction handle
// twice) is a programming defect and panics instead of being reported
// with an error value.
type Kind int

// Supported error kinds.
const (
	// KindBeginRejected marks a Begin call which was rejected because
	// some already rolled back scope has doomed the enclosing
	// transaction. The intended unit of work must not proceed.
	KindBeginRejected Kind = iota + 1

	// KindEngineFailure marks an engine-level BEGIN or COMMIT
	// statement failure. Retrying, if desired, belongs to the caller.
	KindEngineFailure
)

// String returns a short stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBeginRejected:
		return "begin-rejected"
	case KindEngineFailure:
		return "engine-failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error wraps a causing error with a Kind classification.
type Error struct {
	Err  error
	Kind Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Err.Error())
}

// BeginRejected wraps err as a KindBeginRejected error.
func BeginRejected(err error) *Error {
	return &Error{Err: err, Kind: KindBeginRejected}
}

// EngineFailure wraps err as a KindEngineFailure error.
func EngineFailure(err error) *Error {
	return &Error{Err: err, Kind: KindEngineFailure}
}

// IsBeginRejected reports whether some error in the chain of err is a
// KindBeginRejected classified error.
func IsBeginRejected(err error) bool {
	return hasKind(err, KindBeginRejected)
}

// IsEngineFailure reports whether some error in the chain of err is a
// KindEngineFailure classified error.
func IsEngineFailure(err error) bool {
	return hasKind(err, KindEngineFailure)
}

func hasKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
