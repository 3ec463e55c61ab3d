package sqlitedriver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tanstack/db-sqlite-persist/errtag"
)

// NativeTxFunc is a host-provided transactional primitive, e.g. a Durable
// Object's storage.transactionSync-style contract: it already guarantees
// exclusivity and atomicity, so this driver variant doesn't manage
// BEGIN/COMMIT/SAVEPOINT itself.
type NativeTxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Native is the "native" Driver variant: it delegates top-level
// transactions to a host-provided primitive and refuses nested
// Transaction calls outright, since the host primitive offers no
// savepoint equivalent.
type Native struct {
	exec  func(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error)
	query func(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error)
	txFn  NativeTxFunc

	inTx bool
}

// NewNative wraps host-provided exec/query functions and a native
// transaction primitive as a Driver.
func NewNative(
	exec func(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error),
	query func(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error),
	txFn NativeTxFunc,
) *Native {
	return &Native{exec: exec, query: query, txFn: txFn}
}

func (n *Native) Exec(ctx context.Context, sqlStmt string) error {
	_, err := n.exec(ctx, sqlStmt)
	return wrapDriverError(err)
}

func (n *Native) Query(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error) {
	rows, err := n.query(ctx, sqlStmt, params...)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	return rows, nil
}

func (n *Native) Run(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error) {
	res, err := n.exec(ctx, sqlStmt, params...)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	return res, nil
}

func (n *Native) Transaction(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error {
	if n.inTx {
		return errtag.Tag[errtag.Configuration](
			errors.New("sqlitedriver: nested Transaction call under a native transaction host"),
			errtag.WithMsg("InvalidPersistedCollectionConfigError"),
			errtag.WithDetails("the native driver variant has no savepoint equivalent"),
		)
	}

	nested := &Native{exec: n.exec, query: n.query, txFn: n.txFn, inTx: true}
	return n.txFn(ctx, func(ctx context.Context) error {
		return fn(ctx, nested)
	})
}
