// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package memdb is an in-memory database adapter with a single
// transaction level, exactly one active BEGIN until its matching
// COMMIT or ROLLBACK, like an SQLite connection without savepoints.
// It implements the repo.Conn interface, so the transaction core can
// be exercised, demonstrated, and tested without a DBMS server.
//
// Only a handful of statement forms are recognized:
//
//	BEGIN
//	COMMIT
//	ROLLBACK
//	CREATE TABLE <name>
//	DROP TABLE <name>
//	INSERT INTO <name> VALUES (...)
//	DELETE FROM <name>
//	SELECT count(*) FROM <name>
//
// Keywords are matched case-insensitively. Rows carry their VALUES
// clause verbatim; no column typing or filtering is provided.
package memdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/txnest/txnest/pkg/core/repo"
)

// Conn is a single in-memory database connection. Like the real
// connection adapters, it is unsafe for concurrent use and owns the
// transaction nesting state of the scopes layered over it.
type Conn struct {
	nesting  repo.Nesting
	tables   map[string][]string
	snapshot map[string][]string // nil while no transaction is active
	stmts    []string
	nextErr  error
}

// New creates an empty in-memory database connection.
func New() *Conn {
	return &Conn{tables: make(map[string][]string)}
}

// Nesting exposes the transaction nesting state of this connection.
func (c *Conn) Nesting() *repo.Nesting {
	return &c.nesting
}

// IsConn method prevents other types from mistakenly implementing
// the repo.Conn interface.
func (c *Conn) IsConn() {
}

// Statements returns every statement which was executed on this
// connection so far, in order. It serves as a diagnostic surface for
// tests which assert when the engine-level BEGIN/COMMIT/ROLLBACK
// statements were issued.
func (c *Conn) Statements() []string {
	return c.stmts
}

// FailNext makes the next Exec call fail with err, before executing
// anything, simulating an engine-level statement failure.
func (c *Conn) FailNext(err error) {
	c.nextErr = err
}

// Exec executes one statement. The args are not supported; the
// recognized statement forms carry their values inline.
func (c *Conn) Exec(
	_ context.Context, sql string, args ...any,
) (int64, error) {
	if err := c.nextErr; err != nil {
		c.nextErr = nil
		return 0, err
	}
	if len(args) != 0 {
		return 0, fmt.Errorf("memdb: statement args are not supported")
	}
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return 0, fmt.Errorf("memdb: empty statement")
	}
	c.stmts = append(c.stmts, sql)
	switch strings.ToUpper(fields[0]) {
	case "BEGIN":
		return 0, c.begin()
	case "COMMIT":
		return 0, c.commit()
	case "ROLLBACK":
		return 0, c.rollback()
	case "CREATE":
		return 0, c.createTable(fields)
	case "DROP":
		return 0, c.dropTable(fields)
	case "INSERT":
		return c.insert(sql, fields)
	case "DELETE":
		return c.deleteAll(fields)
	default:
		return 0, fmt.Errorf("memdb: unsupported statement: %s", sql)
	}
}

// Query executes one query statement. Only the count(*) form is
// recognized, which yields a single row with a single int64 column.
func (c *Conn) Query(
	_ context.Context, sql string, args ...any,
) (repo.Rows, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("memdb: query args are not supported")
	}
	fields := strings.Fields(sql)
	if len(fields) != 4 ||
		!strings.EqualFold(fields[0], "SELECT") ||
		!strings.EqualFold(fields[1], "count(*)") ||
		!strings.EqualFold(fields[2], "FROM") {
		return nil, fmt.Errorf("memdb: unsupported query: %s", sql)
	}
	rows, ok := c.tables[tableName(fields[3])]
	if !ok {
		return nil, fmt.Errorf("memdb: no such table: %s", fields[3])
	}
	return &countRows{count: int64(len(rows))}, nil
}

func (c *Conn) begin() error {
	if c.snapshot != nil {
		return fmt.Errorf(
			"memdb: cannot start a transaction within a transaction",
		)
	}
	snap := make(map[string][]string, len(c.tables))
	for name, rows := range c.tables {
		snap[name] = append([]string(nil), rows...)
	}
	c.snapshot = snap
	return nil
}

func (c *Conn) commit() error {
	if c.snapshot == nil {
		return fmt.Errorf("memdb: cannot commit, no transaction is active")
	}
	c.snapshot = nil
	return nil
}

func (c *Conn) rollback() error {
	if c.snapshot == nil {
		return fmt.Errorf("memdb: cannot rollback, no transaction is active")
	}
	c.tables = c.snapshot
	c.snapshot = nil
	return nil
}

func (c *Conn) createTable(fields []string) error {
	if len(fields) < 3 || !strings.EqualFold(fields[1], "TABLE") {
		return fmt.Errorf("memdb: malformed CREATE TABLE statement")
	}
	name := tableName(fields[2])
	if _, ok := c.tables[name]; ok {
		return fmt.Errorf("memdb: table already exists: %s", name)
	}
	c.tables[name] = nil
	return nil
}

func (c *Conn) dropTable(fields []string) error {
	if len(fields) != 3 || !strings.EqualFold(fields[1], "TABLE") {
		return fmt.Errorf("memdb: malformed DROP TABLE statement")
	}
	name := tableName(fields[2])
	if _, ok := c.tables[name]; !ok {
		return fmt.Errorf("memdb: no such table: %s", name)
	}
	delete(c.tables, name)
	return nil
}

func (c *Conn) insert(sql string, fields []string) (int64, error) {
	if len(fields) < 4 || !strings.EqualFold(fields[1], "INTO") {
		return 0, fmt.Errorf("memdb: malformed INSERT statement")
	}
	name := tableName(fields[2])
	if _, ok := c.tables[name]; !ok {
		return 0, fmt.Errorf("memdb: no such table: %s", name)
	}
	i := strings.Index(strings.ToUpper(sql), "VALUES")
	if i < 0 {
		return 0, fmt.Errorf("memdb: malformed INSERT statement")
	}
	c.tables[name] = append(c.tables[name], strings.TrimSpace(sql[i+6:]))
	return 1, nil
}

func (c *Conn) deleteAll(fields []string) (int64, error) {
	if len(fields) != 3 || !strings.EqualFold(fields[1], "FROM") {
		return 0, fmt.Errorf("memdb: malformed DELETE statement")
	}
	name := tableName(fields[2])
	rows, ok := c.tables[name]
	if !ok {
		return 0, fmt.Errorf("memdb: no such table: %s", name)
	}
	c.tables[name] = nil
	return int64(len(rows)), nil
}

func tableName(f string) string {
	return strings.ToLower(strings.Trim(f, "\"();"))
}

// countRows is the single-row single-column result set of a count(*)
// query.
type countRows struct {
	count   int64
	visited bool
}

func (r *countRows) Close() {
}

func (r *countRows) Err() error {
	return nil
}

func (r *countRows) Next() bool {
	if r.visited {
		return false
	}
	r.visited = true
	return true
}

func (r *countRows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("memdb: expected 1 destination, got %d", len(dest))
	}
	p, ok := dest[0].(*int64)
	if !ok {
		return fmt.Errorf("memdb: count(*) scans into *int64 only")
	}
	*p = r.count
	return nil
}

func (r *countRows) Values() ([]any, error) {
	return []any{r.count}, nil
}
