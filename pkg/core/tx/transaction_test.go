// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txnest/txnest/pkg/core/cerr"
	"github.com/txnest/txnest/pkg/core/repo"
	"github.com/txnest/txnest/pkg/core/tx"
)

// fakeConn records every statement which reaches the engine, so tests
// can assert that BEGIN/COMMIT/ROLLBACK are issued exactly at the
// 0-to-1 and 1-to-0 depth transitions. Statements listed in failing
// fail once, without being recorded.
type fakeConn struct {
	nesting repo.Nesting
	stmts   []string
	failing map[string]error
}

func (c *fakeConn) Exec(
	_ context.Context, sql string, _ ...any,
) (int64, error) {
	if err := c.failing[sql]; err != nil {
		delete(c.failing, sql)
		return 0, err
	}
	c.stmts = append(c.stmts, sql)
	return 0, nil
}

func (c *fakeConn) Query(
	_ context.Context, _ string, _ ...any,
) (repo.Rows, error) {
	return nil, errors.New("fakeConn supports no result sets")
}

func (c *fakeConn) Nesting() *repo.Nesting {
	return &c.nesting
}

func (c *fakeConn) IsConn() {
}

func (c *fakeConn) failNext(sql string, err error) {
	if c.failing == nil {
		c.failing = make(map[string]error)
	}
	c.failing[sql] = err
}

func TestCommitStatementFlow(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	outer := tx.New(c)
	assert.False(t, outer.Open())
	require.NoError(t, outer.Begin(ctx))
	assert.True(t, outer.Open())
	assert.Equal(t, 1, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN"}, c.stmts)

	inner := tx.New(c)
	require.NoError(t, inner.Begin(ctx))
	assert.Equal(t, 2, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN"}, c.stmts,
		"a nested Begin must not reach the engine")

	require.NoError(t, inner.Commit(ctx))
	assert.False(t, inner.Open())
	assert.Equal(t, 1, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN"}, c.stmts,
		"an inner Commit must not reach the engine")

	require.NoError(t, outer.Commit(ctx))
	assert.False(t, outer.Open())
	assert.Equal(t, 0, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN", "COMMIT"}, c.stmts)
}

func TestNestedRollbackPoisonsOuterTransaction(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}
	require.Equal(t, 0, c.nesting.Depth())

	outer := tx.New(c)
	require.NoError(t, outer.Begin(ctx))
	require.Equal(t, 1, c.nesting.Depth())

	// The first inner scope gets committed.
	inner1 := tx.New(c)
	require.NoError(t, inner1.Begin(ctx))
	require.Equal(t, 2, c.nesting.Depth())
	require.NoError(t, inner1.Commit(ctx))
	require.Equal(t, 1, c.nesting.Depth())

	// The second inner scope gets rolled back.
	inner2 := tx.New(c)
	require.NoError(t, inner2.Begin(ctx))
	require.Equal(t, 2, c.nesting.Depth())
	inner2.Rollback(ctx)
	assert.False(t, inner2.Open())
	require.Equal(t, 1, c.nesting.Depth(),
		"an inner Rollback must only drop its own scope")
	assert.True(t, c.nesting.Poisoned())

	// A third inner scope must fail in Begin, since a sibling was
	// already rolled back, without touching the depth and without
	// issuing any engine statement.
	stmts := len(c.stmts)
	inner3 := tx.New(c)
	err := inner3.Begin(ctx)
	require.Error(t, err)
	assert.True(t, cerr.IsBeginRejected(err))
	assert.False(t, inner3.Open())
	assert.Equal(t, 1, c.nesting.Depth())
	assert.Len(t, c.stmts, stmts)

	// The outer Commit is downgraded to an engine-level ROLLBACK.
	err = outer.Commit(ctx)
	require.ErrorIs(t, err, tx.ErrRolledBack)
	assert.Equal(t, 0, c.nesting.Depth())
	assert.False(t, c.nesting.Poisoned(),
		"the poison flag must be cleared when the depth returns to 0")
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)

	// The connection is usable for a fresh transaction again.
	fresh := tx.New(c)
	require.NoError(t, fresh.Begin(ctx))
	require.NoError(t, fresh.Commit(ctx))
	assert.Equal(t, []string{"BEGIN", "ROLLBACK", "BEGIN", "COMMIT"}, c.stmts)
}

func TestExplicitRollbackOfOuterTransaction(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	outer := tx.New(c)
	require.NoError(t, outer.Begin(ctx))
	outer.Rollback(ctx)
	assert.False(t, outer.Open())
	assert.Equal(t, 0, c.nesting.Depth())
	assert.False(t, c.nesting.Poisoned())
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)
}

func TestBeginEngineFailureLeavesNoPhantomNesting(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}
	c.failNext("BEGIN", errors.New("database is locked"))

	outer := tx.New(c)
	err := outer.Begin(ctx)
	require.Error(t, err)
	assert.True(t, cerr.IsEngineFailure(err))
	assert.False(t, outer.Open())
	assert.Equal(t, 0, c.nesting.Depth())
	assert.Empty(t, c.stmts)

	// The failure is transient; a fresh handle works.
	retry := tx.New(c)
	require.NoError(t, retry.Begin(ctx))
	assert.Equal(t, 1, c.nesting.Depth())
	require.NoError(t, retry.Commit(ctx))
}

func TestCommitEngineFailureStillClosesHandle(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	outer := tx.New(c)
	require.NoError(t, outer.Begin(ctx))
	c.failNext("COMMIT", errors.New("disk I/O error"))
	err := outer.Commit(ctx)
	require.Error(t, err)
	assert.True(t, cerr.IsEngineFailure(err))
	assert.False(t, outer.Open())
	assert.Equal(t, 0, c.nesting.Depth())
}

func TestCloseWithoutCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	func() {
		outer := tx.New(c)
		require.NoError(t, outer.Begin(ctx))
		defer outer.Close(ctx)
		// leaving the scope without a Commit
	}()
	assert.Equal(t, 0, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)
}

func TestCloseAfterCommitIsNoOp(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	outer := tx.New(c)
	require.NoError(t, outer.Begin(ctx))
	require.NoError(t, outer.Commit(ctx))
	outer.Close(ctx)
	assert.Equal(t, []string{"BEGIN", "COMMIT"}, c.stmts)
}

func TestUnopenedHandleHasNoEffect(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	h := tx.New(c)
	h.Close(ctx)
	assert.Equal(t, 0, c.nesting.Depth())
	assert.False(t, c.nesting.Poisoned())
	assert.Empty(t, c.stmts)
}

func TestMisusePanics(t *testing.T) {
	ctx := context.Background()

	t.Run("begin-twice", func(t *testing.T) {
		c := &fakeConn{}
		h := tx.New(c)
		require.NoError(t, h.Begin(ctx))
		defer h.Close(ctx)
		assert.Panics(t, func() { _ = h.Begin(ctx) })
	})
	t.Run("commit-unopened", func(t *testing.T) {
		h := tx.New(&fakeConn{})
		assert.Panics(t, func() { _ = h.Commit(ctx) })
	})
	t.Run("rollback-unopened", func(t *testing.T) {
		h := tx.New(&fakeConn{})
		assert.Panics(t, func() { h.Rollback(ctx) })
	})
	t.Run("commit-after-rollback", func(t *testing.T) {
		c := &fakeConn{}
		h := tx.New(c)
		require.NoError(t, h.Begin(ctx))
		h.Rollback(ctx)
		assert.Panics(t, func() { _ = h.Commit(ctx) })
	})
}

func TestRunCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	err := tx.Run(ctx, c, func(ctx context.Context, q repo.Queryer) error {
		_, err := q.Exec(ctx, "INSERT INTO foo VALUES (1, 2)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{"BEGIN", "INSERT INTO foo VALUES (1, 2)", "COMMIT"},
		c.stmts,
	)
}

func TestRunRollsBackOnHandlerError(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	boom := errors.New("boom")
	err := tx.Run(ctx, c, func(context.Context, repo.Queryer) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.nesting.Depth())
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)
}

func TestRunRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	assert.Panics(t, func() {
		_ = tx.Run(ctx, c, func(context.Context, repo.Queryer) error {
			panic("unit of work failed badly")
		})
	})
	assert.Equal(t, 0, c.nesting.Depth())
	assert.False(t, c.nesting.Poisoned())
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)
}

func TestNestedRunFailureDoomsOuterRun(t *testing.T) {
	ctx := context.Background()
	c := &fakeConn{}

	err := tx.Run(ctx, c, func(ctx context.Context, q repo.Queryer) error {
		inner := tx.Run(ctx, c, func(context.Context, repo.Queryer) error {
			return errors.New("inner unit of work failed")
		})
		require.Error(t, inner)
		// The outer handler swallows the inner error, but the outer
		// scope is poisoned anyway and cannot commit.
		return nil
	})
	require.ErrorIs(t, err, tx.ErrRolledBack)
	assert.Equal(t, []string{"BEGIN", "ROLLBACK"}, c.stmts)
}
