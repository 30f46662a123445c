// Copyright (c) 2024 The txnest Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package postgres is a database adapter over a PostgreSQL DBMS
// server, using the GORM framework for statement execution. It
// implements the repo.Pool and repo.Conn interfaces: each Conn pins
// one underlying connection for the lifetime of a handler call, so
// the literal BEGIN/COMMIT/ROLLBACK statements which the transaction
// core issues are guaranteed to run on that single connection.
package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/txnest/txnest/pkg/core/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool wraps a *gorm.DB and represents a pool of connections to one
// PostgreSQL database.
type Pool struct {
	*gorm.DB
}

// NewPool connects to the database which url specifies and verifies
// the connection before returning the pool.
func NewPool(ctx context.Context, url string) (*Pool, error) {
	gdb, err := gorm.Open(postgres.Open(url), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open: %w", err)
	}
	gdb = gdb.Session(&gorm.Session{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: false,
				Colorful:                  true,
				// Set to false in order to log with replaced vars
				ParameterizedQueries: true,
			}),
	})
	pool := &Pool{DB: gdb}
	err = pool.Conn(ctx, NoOpConnHandler)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("testing connection: %w", err)
	}
	return pool, nil
}

// ConnHandler is an alias of the repo.ConnHandler function type.
type ConnHandler = repo.ConnHandler

// NoOpConnHandler takes a connection and releases it immediately.
// It may be used for verifying that a connection can be established.
func NoOpConnHandler(context.Context, repo.Conn) error {
	return nil
}

// Conn pins one connection out of the pool and passes it to f. The
// connection, together with its fresh transaction nesting state, is
// valid within the f call only. All transaction scopes which are
// layered over that connection must begin and finish inside f.
func (p *Pool) Conn(ctx context.Context, f ConnHandler) error {
	return p.DB.WithContext(ctx).Connection(func(c *gorm.DB) error {
		cc := &Conn{DB: c}
		return f(ctx, cc)
	})
}

// Close closes the pool and all of its connections.
func (p *Pool) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
