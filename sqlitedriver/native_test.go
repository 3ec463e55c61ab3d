package sqlitedriver

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/testutil"
)

func newTestNative(t *testing.T) (*Native, *SQLDriver) {
	t.Helper()
	drv := openTestDriver(t)

	// While the host primitive runs fn, statements must go through the
	// transaction-bound driver: the root driver's single pooled connection is
	// held by that transaction.
	var current Driver = drv
	exec := func(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error) {
		return current.Run(ctx, sqlStmt, params...)
	}
	query := func(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error) {
		return current.Query(ctx, sqlStmt, params...)
	}
	txFn := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
			current = tx
			defer func() { current = drv }()
			return fn(ctx)
		})
	}
	return NewNative(exec, query, txFn), drv
}

func TestNative_ExecAndQuery(t *testing.T) {
	ctx := testutil.Context(t)
	native, _ := newTestNative(t)

	require.NoError(t, native.Exec(ctx, "UPDATE counter SET n = n + 1"))

	rows, err := native.Query(ctx, "SELECT n FROM counter")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNative_TransactionDelegatesToHostPrimitive(t *testing.T) {
	ctx := testutil.Context(t)
	native, drv := newTestNative(t)

	err := native.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		_, runErr := tx.Run(ctx, "UPDATE counter SET n = n + 1")
		return runErr
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, ctx, drv))
}

func TestNative_NestedTransactionRejected(t *testing.T) {
	ctx := testutil.Context(t)
	native, _ := newTestNative(t)

	err := native.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		return tx.Transaction(ctx, func(ctx context.Context, _ Driver) error {
			return nil
		})
	})
	assert.Error(t, err)
}
