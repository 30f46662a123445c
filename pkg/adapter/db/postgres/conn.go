package postgres

import (
	"context"

	"github.com/txnest/txnest/pkg/core/repo"
	"gorm.io/gorm"
)

// Conn represents a single pinned database connection. It is unsafe
// to be used concurrently. Conn owns the transaction nesting state of
// the scopes which are layered over it: the engine itself supports
// one transaction level per connection, while the transaction core
// consults the Nesting state in order to decide when the engine-level
// BEGIN/COMMIT/ROLLBACK statements have to be issued through Exec.
type Conn struct {
	*gorm.DB
	nesting repo.Nesting
}

// Exec runs SQL statements with given args given ctx context.
// Number of affected rows and possible errors will be returned.
// If args is provided, sql will be prepared and args will be passed
// separately to the DBMS in order to prevent SQL injection.
// In this case, sql must contain exactly one statement.
// In absence of args, sql may contain multiple semi-colon separated
// statements too.
//
// Parameters in sql should be numbered like $1, $2, etc. as they
// are supported by the PostgreSQL wire protocol natively.
// This implementation additionally supports the ? and @name parameter
// placeholders using the GORM framework.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	cc := c.DB.WithContext(ctx).Exec(sql, args...)
	if err := cc.Error; err != nil {
		return 0, err
	}
	return cc.RowsAffected, nil
}

// Query runs SQL statement with given args given ctx context.
// The result set is returned as the Rows interface, while errors
// are returned as the second return value (if any).
// The Query or Exec may not be called again until the Rows is
// closed since only one ongoing statement may be used on each
// connection.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (repo.Rows, error) {
	rows, err := c.DB.WithContext(ctx).Raw(sql, args...).Rows()
	return rowsAdapter{rows}, err
}

// Nesting exposes the transaction nesting state owned by this
// connection.
func (c *Conn) Nesting() *repo.Nesting {
	return &c.nesting
}

// IsConn method prevents a non-Conn object to mistakenly implement
// the repo.Conn interface.
func (c *Conn) IsConn() {
}

// GORM returns the embedded *gorm.DB instance, configuring it
// to operate on the given ctx context (in a gorm.Session).
func (c *Conn) GORM(ctx context.Context) *gorm.DB {
	return c.DB.WithContext(ctx)
}
