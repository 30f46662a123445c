package repo

import "context"

// Queryer is the statement execution surface of the underlying
// database engine. It is implemented by every connection adapter and
// is the only path the transaction core uses to reach the engine: the
// BEGIN, COMMIT, and ROLLBACK statements are issued through Exec.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (count int64, err error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Rows represents a result set, allowing rows to be visited and their
// column values to be fetched one row at a time.
type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
	Values() ([]any, error)
}
