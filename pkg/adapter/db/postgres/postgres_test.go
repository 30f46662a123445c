// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/stretchr/testify/suite"
	"github.com/txnest/txnest/internal/test/dbcontainer"
	"github.com/txnest/txnest/pkg/adapter/db/postgres"
	"github.com/txnest/txnest/pkg/core/cerr"
	"github.com/txnest/txnest/pkg/core/repo"
	"github.com/txnest/txnest/pkg/core/tx"
)

type IntegrationTxTestSuite struct {
	suite.Suite

	Ctx  context.Context
	Pg   *sqltestutil.PostgresContainer
	Pool *postgres.Pool
}

func TestIntegrationTxTestSuite(t *testing.T) {
	ctx := context.Background()
	pg, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}
	suite.Run(t, &IntegrationTxTestSuite{
		Ctx:  ctx,
		Pg:   pg,
		Pool: pool,
	})
}

func (its *IntegrationTxTestSuite) SetupSuite() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			_, err := c.Exec(ctx, "CREATE TABLE foo (a INT, b INT)")
			return err
		},
	)
	its.Require().NoError(err, "failed to create the foo table")
}

func (its *IntegrationTxTestSuite) SetupTest() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			_, err := c.Exec(ctx, "DELETE FROM foo")
			return err
		},
	)
	its.Require().NoError(err, "failed to empty the foo table")
}

// countFoo returns the number of rows in table "foo".
func (its *IntegrationTxTestSuite) countFoo(
	ctx context.Context, c repo.Conn,
) int64 {
	rows, err := c.Query(ctx, "SELECT count(*) FROM foo")
	its.Require().NoError(err, "failed to count foo rows")
	defer rows.Close()
	its.Require().True(rows.Next())
	var n int64
	its.Require().NoError(rows.Scan(&n))
	return n
}

func (its *IntegrationTxTestSuite) TestCommitPersists() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			h := tx.New(c)
			its.Require().NoError(h.Begin(ctx))
			defer h.Close(ctx)

			_, err := c.Exec(ctx, "INSERT INTO foo (a, b) VALUES (1, 2)")
			its.Require().NoError(err)
			its.Require().NoError(h.Commit(ctx))

			its.EqualValues(1, its.countFoo(ctx, c))
			return nil
		},
	)
	its.Require().NoError(err)
}

func (its *IntegrationTxTestSuite) TestScopeExitRollsBack() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			func() {
				h := tx.New(c)
				its.Require().NoError(h.Begin(ctx))
				defer h.Close(ctx)

				_, err := c.Exec(
					ctx, "INSERT INTO foo (a, b) VALUES (1, 2)",
				)
				its.Require().NoError(err)
				// no Commit before leaving the scope
			}()
			its.EqualValues(0, its.countFoo(ctx, c))
			return nil
		},
	)
	its.Require().NoError(err)
}

func (its *IntegrationTxTestSuite) TestNestedRollbackDiscardsAll() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			outer := tx.New(c)
			its.Require().NoError(outer.Begin(ctx))
			its.Equal(1, c.Nesting().Depth())

			inner1 := tx.New(c)
			its.Require().NoError(inner1.Begin(ctx))
			_, err := c.Exec(ctx, "INSERT INTO foo (a, b) VALUES (1, 2)")
			its.Require().NoError(err)
			its.Require().NoError(inner1.Commit(ctx))
			its.EqualValues(1, its.countFoo(ctx, c),
				"an inner commit is visible inside the transaction")

			inner2 := tx.New(c)
			its.Require().NoError(inner2.Begin(ctx))
			its.Equal(2, c.Nesting().Depth())
			inner2.Rollback(ctx)
			its.Equal(1, c.Nesting().Depth())

			inner3 := tx.New(c)
			err = inner3.Begin(ctx)
			its.Require().Error(err)
			its.True(cerr.IsBeginRejected(err))
			its.Equal(1, c.Nesting().Depth())

			its.Require().ErrorIs(outer.Commit(ctx), tx.ErrRolledBack)
			its.Equal(0, c.Nesting().Depth())
			its.EqualValues(0, its.countFoo(ctx, c))
			return nil
		},
	)
	its.Require().NoError(err)
}

func (its *IntegrationTxTestSuite) TestRunHelper() {
	err := its.Pool.Conn(
		its.Ctx, func(ctx context.Context, c repo.Conn) error {
			err := tx.Run(
				ctx, c, func(ctx context.Context, q repo.Queryer) error {
					_, err := q.Exec(
						ctx, "INSERT INTO foo (a, b) VALUES (3, 4)",
					)
					return err
				},
			)
			its.Require().NoError(err)
			its.EqualValues(1, its.countFoo(ctx, c))
			return nil
		},
	)
	its.Require().NoError(err)
}
