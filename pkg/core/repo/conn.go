package repo

import "context"

// ConnHandler is a function which takes a connection and uses it
// for executing statements and opening transaction scopes, while the
// connection is exclusively reserved for it.
type ConnHandler func(context.Context, Conn) error

// Conn represents a single database connection whose engine supports
// exactly one level of transaction, that is, a single active BEGIN
// until its matching COMMIT or ROLLBACK.
// It is unsafe to be used concurrently. All transaction scopes which
// are layered over one Conn must begin and finish sequentially from
// one goroutine, nesting like the call stack itself.
type Conn interface {
	Queryer

	// Nesting exposes the transaction nesting state which is owned by
	// this connection. All transaction scopes over this connection
	// coordinate through this single shared instance, and callers may
	// read it in order to observe the current nesting depth.
	Nesting() *Nesting

	// IsConn method prevents other types from mistakenly implementing
	// the Conn interface.
	IsConn()
}
