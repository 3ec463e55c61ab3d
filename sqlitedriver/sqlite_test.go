package sqlitedriver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanstack/db-sqlite-persist/testutil"
)

func openTestDriver(t *testing.T) *SQLDriver {
	t.Helper()
	ctx := testutil.Context(t)
	drv, err := Open(ctx, WithInMemory())
	require.NoError(t, err)
	require.NoError(t, drv.Exec(ctx, "CREATE TABLE counter (n INTEGER NOT NULL)"))
	require.NoError(t, drv.Exec(ctx, "INSERT INTO counter (n) VALUES (0)"))
	return drv
}

func readCounter(t *testing.T, ctx context.Context, d Driver) int {
	t.Helper()
	rows, err := d.Query(ctx, "SELECT n FROM counter")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	ctx := testutil.Context(t)
	drv := openTestDriver(t)

	err := drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		_, err := tx.Run(ctx, "UPDATE counter SET n = n + 1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, ctx, drv))
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := testutil.Context(t)
	drv := openTestDriver(t)

	boom := errors.New("boom")
	err := drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		if _, err := tx.Run(ctx, "UPDATE counter SET n = n + 1"); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, 0, readCounter(t, ctx, drv))
}

func TestTransaction_NestedSavepointCommits(t *testing.T) {
	ctx := testutil.Context(t)
	drv := openTestDriver(t)

	err := drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		if _, err := tx.Run(ctx, "UPDATE counter SET n = n + 1"); err != nil {
			return err
		}
		return tx.Transaction(ctx, func(ctx context.Context, inner Driver) error {
			_, err := inner.Run(ctx, "UPDATE counter SET n = n + 1")
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, readCounter(t, ctx, drv))
}

func TestTransaction_NestedSavepointRollsBackIndependently(t *testing.T) {
	ctx := testutil.Context(t)
	drv := openTestDriver(t)

	boom := errors.New("inner boom")
	err := drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		if _, err := tx.Run(ctx, "UPDATE counter SET n = n + 1"); err != nil {
			return err
		}
		innerErr := tx.Transaction(ctx, func(ctx context.Context, inner Driver) error {
			if _, err := inner.Run(ctx, "UPDATE counter SET n = n + 10"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, innerErr, boom)
		// Outer transaction continues despite the inner savepoint's rollback.
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, ctx, drv))
}

func TestTransaction_FailedTransactionLeavesNoPartialEffect(t *testing.T) {
	ctx := testutil.Context(t)
	drv := openTestDriver(t)

	before := readCounter(t, ctx, drv)

	_ = drv.Transaction(ctx, func(ctx context.Context, tx Driver) error {
		_, _ = tx.Run(ctx, "UPDATE counter SET n = n + 100")
		return errors.New("always fails")
	})

	assert.Equal(t, before, readCounter(t, ctx, drv))
}
