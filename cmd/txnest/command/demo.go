// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/txnest/txnest/pkg/adapter/config"
	"github.com/txnest/txnest/pkg/adapter/db/memdb"
	"github.com/txnest/txnest/pkg/core/cerr"
	"github.com/txnest/txnest/pkg/core/log"
	"github.com/txnest/txnest/pkg/core/repo"
	"github.com/txnest/txnest/pkg/core/tx"
)

var useMemdb bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through the nested transaction semantics",
	Long: `Walk through the nested transaction semantics on a scratch
table. An outer transaction scope is opened and three nested scopes
are layered over it: the first one commits an insert, the second one
rolls back, and the third one is rejected in Begin because its sibling
rollback already doomed the outer transaction. The outer commit is
then downgraded to an engine-level ROLLBACK, discarding the row which
the first nested scope had committed. A final clean transaction shows
that the connection is usable again afterwards.
With the --memdb flag the demo runs against the in-memory engine and
needs no DBMS server; otherwise, the configured PostgreSQL database
is used.`,
	RunE: demo,
}

func demo(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	if useMemdb {
		return runDemo(ctx, memdb.New())
	}
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	p, err := c.ConnectionPool(ctx)
	if err != nil {
		return fmt.Errorf("creating DB pool: %w", err)
	}
	closer, ok := p.(interface{ Close() error })
	if ok {
		defer closer.Close()
	}
	return p.Conn(ctx, runDemo)
}

func runDemo(ctx context.Context, c repo.Conn) error {
	if _, err := c.Exec(
		ctx, "CREATE TABLE txnest_demo (n INT)",
	); err != nil {
		return fmt.Errorf("creating scratch table: %w", err)
	}
	defer func() {
		_, _ = c.Exec(ctx, "DROP TABLE txnest_demo")
	}()

	outer := tx.New(c)
	if err := outer.Begin(ctx); err != nil {
		return fmt.Errorf("opening outer scope: %w", err)
	}
	defer outer.Close(ctx)
	log.Info(
		ctx, "outer scope opened",
		slog.Int("depth", c.Nesting().Depth()),
	)

	// The first nested scope commits an insert.
	err := tx.Run(ctx, c, func(ctx context.Context, q repo.Queryer) error {
		_, err := q.Exec(ctx, "INSERT INTO txnest_demo VALUES (1)")
		return err
	})
	if err != nil {
		return fmt.Errorf("first nested scope: %w", err)
	}
	n, err := countDemoRows(ctx, c)
	if err != nil {
		return err
	}
	log.Info(
		ctx, "first nested scope committed",
		slog.Int64("rows", n),
		slog.Int("depth", c.Nesting().Depth()),
	)

	// The second nested scope rolls back, poisoning the outer scope.
	inner := tx.New(c)
	if err := inner.Begin(ctx); err != nil {
		return fmt.Errorf("opening second nested scope: %w", err)
	}
	if _, err := c.Exec(
		ctx, "INSERT INTO txnest_demo VALUES (2)",
	); err != nil {
		inner.Close(ctx)
		return fmt.Errorf("inserting in second nested scope: %w", err)
	}
	inner.Rollback(ctx)
	log.Info(
		ctx, "second nested scope rolled back",
		slog.Int("depth", c.Nesting().Depth()),
	)

	// A third nested scope is rejected, since a sibling rollback
	// already doomed the outer transaction.
	third := tx.New(c)
	err = third.Begin(ctx)
	if !cerr.IsBeginRejected(err) {
		return fmt.Errorf("expected a rejected Begin, got: %w", err)
	}
	log.Info(ctx, "third nested scope rejected", log.Err("reason", err))

	// The outer commit is downgraded to an engine-level ROLLBACK.
	err = outer.Commit(ctx)
	if !errors.Is(err, tx.ErrRolledBack) {
		return fmt.Errorf("expected a rolled back outer scope, got: %w", err)
	}
	n, err = countDemoRows(ctx, c)
	if err != nil {
		return err
	}
	log.Info(
		ctx, "outer scope finalized with a rollback",
		slog.Int64("rows", n),
		slog.Int("depth", c.Nesting().Depth()),
	)

	// The connection is usable for a fresh transaction again.
	err = tx.Run(ctx, c, func(ctx context.Context, q repo.Queryer) error {
		_, err := q.Exec(ctx, "INSERT INTO txnest_demo VALUES (3)")
		return err
	})
	if err != nil {
		return fmt.Errorf("final clean scope: %w", err)
	}
	n, err = countDemoRows(ctx, c)
	if err != nil {
		return err
	}
	log.Info(ctx, "fresh transaction committed", slog.Int64("rows", n))
	return nil
}

func countDemoRows(ctx context.Context, c repo.Conn) (int64, error) {
	rows, err := c.Query(ctx, "SELECT count(*) FROM txnest_demo")
	if err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, fmt.Errorf("counting rows: empty result set")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, fmt.Errorf("scanning row count: %w", err)
	}
	return n, nil
}

func init() {
	demoCmd.Flags().BoolVar(
		&useMemdb, "memdb", false,
		"run against the in-memory engine instead of PostgreSQL",
	)
	rootCmd.AddCommand(demoCmd)
}
