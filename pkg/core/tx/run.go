// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tx

import (
	"context"
	"fmt"

	"github.com/txnest/txnest/pkg/core/repo"
)

// Handler is a function which runs a unit of work within one
// transaction scope, using q for executing its statements.
type Handler func(ctx context.Context, q repo.Queryer) error

// Run executes f within a dedicated transaction scope over the given
// connection. The scope is committed if f returns nil and rolled back
// if f returns an error or panics (the panic is propagated after the
// rollback). Run calls may be nested freely, from within f, following
// the nesting semantics of the Transaction handle: inner scopes are
// bookkeeping only and any failed scope dooms the outer transaction.
func Run(ctx context.Context, c repo.Conn, f Handler) error {
	t := New(c)
	if err := t.Begin(ctx); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer t.Close(ctx)
	if err := f(ctx, c); err != nil {
		t.Rollback(ctx)
		return fmt.Errorf("handler: %w", err)
	}
	if err := t.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
