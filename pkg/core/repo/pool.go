package repo

import "context"

// Pool represents a database connection pool. Each connection is
// borrowed from the pool for the lifetime of one ConnHandler call,
// which keeps all transaction activity of that connection on a single
// goroutine as required by the Conn contract.
type Pool interface {
	Conn(ctx context.Context, handler ConnHandler) error
}
