// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

// Nesting tracks the transaction scopes which are currently open on a
// single connection. The underlying engine supports one transaction
// level only, so the engine-level BEGIN/COMMIT/ROLLBACK statements are
// issued solely when the depth moves between 0 and 1, while deeper
// scopes are pure bookkeeping.
//
// The mustRollback flag poisons the whole stack of open scopes. Once
// any scope is rolled back, the outermost transaction may not commit
// anymore and new scopes may not be opened, until the depth returns
// to 0 and the outer transaction is finalized with a rollback.
// The flag is only meaningful while the depth is positive; it is
// always false at depth 0.
//
// A Nesting instance is owned by its connection and must be used from
// one goroutine at a time, like the connection itself. Nesting mirrors
// the lexical call scope, it is not a concurrency primitive.
type Nesting struct {
	depth        int
	mustRollback bool
}

// Enter records one more open transaction scope and returns the new
// depth. A result of 1 indicates the outermost scope, which is the
// only one backed by an engine-level BEGIN.
func (n *Nesting) Enter() int {
	n.depth++
	return n.depth
}

// Leave records that one transaction scope was closed and returns the
// new depth. The depth never goes below zero.
func (n *Nesting) Leave() int {
	if n.depth > 0 {
		n.depth--
	}
	return n.depth
}

// Depth returns the number of currently open transaction scopes.
func (n *Nesting) Depth() int {
	return n.depth
}

// Poison marks the stack of open scopes, so the outer transaction can
// only be finalized by a rollback.
func (n *Nesting) Poison() {
	n.mustRollback = true
}

// Poisoned reports whether some open scope was rolled back, dooming
// the outer transaction.
func (n *Nesting) Poisoned() bool {
	return n.mustRollback
}

// ClearPoison resets the must-rollback flag. It may be called only
// while finalizing the outer transaction, when the depth is back to 0.
func (n *Nesting) ClearPoison() {
	n.mustRollback = false
}
