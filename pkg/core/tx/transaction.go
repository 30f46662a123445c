// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tx provides nested transaction management on top of a
// single database connection whose engine supports one transaction
// level only. Transaction handles may be opened recursively: only the
// outermost Begin issues the engine-level BEGIN, only the outermost
// clean Commit issues the engine-level COMMIT, and a Rollback at any
// nesting depth forces the whole outer transaction to finally roll
// back. True savepoint semantics are out of scope: an inner rollback
// poisons the entire stack of open scopes.
//
// Each handle must be resolved on every exit path of its scope, which
// is achieved by deferring Close right after a successful Begin:
//
//	t := tx.New(conn)
//	if err := t.Begin(ctx); err != nil {
//		return err
//	}
//	defer t.Close(ctx)
//	// ... execute statements ...
//	return t.Commit(ctx)
//
// A handle which goes out of scope without a Commit is rolled back by
// the deferred Close, whether the scope was left by a normal return,
// an early error return, or a panic.
package tx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/txnest/txnest/pkg/core/cerr"
	"github.com/txnest/txnest/pkg/core/log"
	"github.com/txnest/txnest/pkg/core/repo"
)

// ErrRolledBack is reported by Commit when the outermost transaction
// was poisoned by some rolled back nested scope, hence, it was
// finalized with an engine-level ROLLBACK instead of a COMMIT.
// All changes which were not observed before are discarded.
var ErrRolledBack = fmt.Errorf("transaction was rolled back")

// The exact statement texts which are sent to the engine, only when
// the nesting depth moves between 0 and 1.
const (
	beginStmt    = "BEGIN"
	commitStmt   = "COMMIT"
	rollbackStmt = "ROLLBACK"
)

// Transaction is a transaction scope handle which is bound to one
// connection. It does not own the connection; arbitrarily many
// handles may be layered over one connection sequentially, nested
// like the call stack, coordinating through the connection-owned
// repo.Nesting state.
//
// A handle moves through at most three states: unopened, open (after
// a successful Begin), and closed (after Commit, Rollback, or Close).
// Closed handles are terminal; a new scope requires a new handle.
// Calling Begin on an open handle, or Commit/Rollback on a handle
// which is not open, is a programming defect and panics.
type Transaction struct {
	conn repo.Conn
	id   uuid.UUID
	open bool
}

// New creates an unopened transaction handle over the given
// connection. The connection must outlive the handle.
func New(c repo.Conn) *Transaction {
	return &Transaction{conn: c, id: uuid.New()}
}

// Open reports whether this handle was successfully opened by Begin
// and is not resolved by Commit, Rollback, or Close yet.
func (t *Transaction) Open() bool {
	return t.open
}

// ID returns the unique identifier of this handle, as used for
// correlating its log records.
func (t *Transaction) ID() uuid.UUID {
	return t.id
}

// Begin opens this transaction scope.
//
// If the connection nesting state is poisoned, because some sibling
// scope was already rolled back while the outer transaction is still
// open, Begin fails with a cerr.KindBeginRejected error without
// changing the nesting depth and without issuing any engine
// statement. The caller must treat the enclosing transaction as
// doomed and must not proceed with the intended unit of work.
//
// Opening the outermost scope (depth 0 to 1) issues the engine-level
// BEGIN statement. If that statement fails, the speculative depth
// increment is undone and a cerr.KindEngineFailure error is returned,
// so a failed Begin never leaves phantom nesting behind. Deeper
// scopes are opened by pure bookkeeping, since the engine has no
// notion of a nested BEGIN.
func (t *Transaction) Begin(ctx context.Context) error {
	if t.open {
		panic("tx: Begin called on an already open transaction handle")
	}
	n := t.conn.Nesting()
	if n.Poisoned() {
		return cerr.BeginRejected(fmt.Errorf(
			"enclosing transaction is marked for rollback",
		))
	}
	if n.Enter() == 1 {
		if _, err := t.conn.Exec(ctx, beginStmt); err != nil {
			n.Leave()
			return cerr.EngineFailure(
				fmt.Errorf("executing %s: %w", beginStmt, err),
			)
		}
	}
	t.open = true
	log.Debug(
		ctx, "transaction scope opened",
		log.UUID("tx", t.id), slog.Int("depth", n.Depth()),
	)
	return nil
}

// Commit closes this transaction scope, trying to preserve its
// changes. Committing an inner scope only removes it from the nesting
// count; it obtains no independent durability and a later sibling
// rollback still discards its changes along with the rest of the
// outer transaction.
//
// Closing the outermost scope finalizes the whole transaction. If the
// nesting state was poisoned by some rolled back nested scope, the
// engine-level ROLLBACK is issued instead of COMMIT and ErrRolledBack
// is reported, since a poisoned transaction can never be committed.
// Otherwise, the engine-level COMMIT is issued and its failure, if
// any, is reported as a cerr.KindEngineFailure error.
// The handle is closed in every case; retrying belongs to the caller
// with a fresh handle, if at all.
func (t *Transaction) Commit(ctx context.Context) error {
	if !t.open {
		panic("tx: Commit called on a transaction handle which is not open")
	}
	t.open = false
	n := t.conn.Nesting()
	if n.Leave() > 0 {
		log.Debug(
			ctx, "inner transaction scope committed",
			log.UUID("tx", t.id), slog.Int("depth", n.Depth()),
		)
		return nil
	}
	if n.Poisoned() {
		if _, err := t.conn.Exec(ctx, rollbackStmt); err != nil {
			log.Error(
				ctx, "engine-level ROLLBACK statement failed",
				log.UUID("tx", t.id), log.Err("error", err),
			)
		}
		n.ClearPoison()
		return ErrRolledBack
	}
	if _, err := t.conn.Exec(ctx, commitStmt); err != nil {
		return cerr.EngineFailure(
			fmt.Errorf("executing %s: %w", commitStmt, err),
		)
	}
	return nil
}

// Rollback closes this transaction scope, discarding its changes.
// The nesting state is poisoned unconditionally, regardless of the
// current depth, hence, the outer transaction is guaranteed to be
// finalized by an engine-level ROLLBACK and never by a COMMIT.
// When this scope is the outermost one, the engine-level ROLLBACK is
// issued right away and the poison flag is cleared, making the
// connection usable for a fresh transaction again. A ROLLBACK
// statement failure is logged, but the handle is closed regardless.
func (t *Transaction) Rollback(ctx context.Context) {
	if !t.open {
		panic("tx: Rollback called on a transaction handle which is not open")
	}
	t.open = false
	n := t.conn.Nesting()
	n.Poison()
	if n.Leave() > 0 {
		log.Debug(
			ctx, "inner transaction scope rolled back",
			log.UUID("tx", t.id), slog.Int("depth", n.Depth()),
		)
		return
	}
	if _, err := t.conn.Exec(ctx, rollbackStmt); err != nil {
		log.Error(
			ctx, "engine-level ROLLBACK statement failed",
			log.UUID("tx", t.id), log.Err("error", err),
		)
	}
	n.ClearPoison()
}

// Close resolves this handle if it is still open, behaving exactly
// like Rollback. It is a no-op for unopened or already resolved
// handles, hence, it is suited to be deferred right after a
// successful Begin: whatever exit path leaves the scope, the handle
// ends up resolved to either the explicitly reached Commit or a
// rollback.
func (t *Transaction) Close(ctx context.Context) {
	if t.open {
		t.Rollback(ctx)
	}
}
