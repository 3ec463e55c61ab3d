// Package sqlitedriver implements the SQLite driver contract (execute,
// query, run, transaction with nested savepoints) consumed by the
// persistence adapter. It is grounded on the teacher repo's
// tx.SQLiteRepositoryTxer and sqlitedb.Open, generalized from a single
// repository-binding helper into the adapter's raw exec/query/run/
// transaction contract plus cooperative SAVEPOINT nesting.
package sqlitedriver

import (
	"context"
	"database/sql"

	"github.com/tanstack/db-sqlite-persist/errtag"
)

// Driver is the minimal contract the persistence adapter consumes from
// whichever SQLite binding is present.
type Driver interface {
	// Exec executes non-parameterised DDL. No result.
	Exec(ctx context.Context, sqlStmt string) error

	// Query executes a parameterised query and returns its rows in
	// statement order. Callers must close the returned *sql.Rows.
	Query(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error)

	// Run executes a parameterised mutation. No rows.
	Run(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error)

	// Transaction runs fn exclusively, committing on success and rolling
	// back on any failure. Nested Transaction calls implement SAVEPOINT
	// semantics where the underlying variant supports it.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func wrapDriverError(err error) error {
	if err == nil {
		return nil
	}
	return errtag.Tag[errtag.Driver](err)
}
