package sqlitedriver

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLDriver is the cooperative-savepoint Driver variant: it manages BEGIN
// IMMEDIATE/COMMIT/ROLLBACK itself for the top-level transaction and
// SAVEPOINT/RELEASE/ROLLBACK TO for every nested Transaction call.
//
// A zero-value-free SQLDriver returned by Open represents the root
// (non-transactional) handle, backed by *sql.DB. Transaction checks out a
// dedicated *sql.Conn (the pool has exactly one, see Open) and returns a
// SQLDriver bound to that connection for the lifetime of fn; nested
// SQLDrivers reuse the same connection and a shared savepoint counter.
type SQLDriver struct {
	db   *sql.DB
	conn *sql.Conn // nil at the root; set once inside a transaction

	depth     int
	spCounter *int
}

// New wraps an already-open *sql.DB (see Open) as the root Driver.
func New(db *sql.DB) *SQLDriver {
	return &SQLDriver{db: db}
}

func (d *SQLDriver) q() querier {
	if d.conn != nil {
		return d.conn
	}
	return d.db
}

func (d *SQLDriver) Exec(ctx context.Context, sqlStmt string) error {
	_, err := d.q().ExecContext(ctx, sqlStmt)
	return wrapDriverError(err)
}

func (d *SQLDriver) Query(ctx context.Context, sqlStmt string, params ...any) (*sql.Rows, error) {
	rows, err := d.q().QueryContext(ctx, sqlStmt, params...)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	return rows, nil
}

func (d *SQLDriver) Run(ctx context.Context, sqlStmt string, params ...any) (sql.Result, error) {
	res, err := d.q().ExecContext(ctx, sqlStmt, params...)
	if err != nil {
		return nil, wrapDriverError(err)
	}
	return res, nil
}

// Transaction runs fn exclusively. At the root it acquires the single
// pooled connection and issues BEGIN IMMEDIATE, so no other top-level
// operation can observe partial state while it's in flight (the
// connection pool has exactly one connection, so any concurrent call
// simply blocks until this transaction releases it). Inside an existing
// transaction it instead opens a named SAVEPOINT.
//
// fn's signature (func(ctx context.Context, tx Driver) error) is enforced
// by the Go type system, which is this driver's form of the "callback
// arity check" guarantee: there is no way to accidentally pass a callback
// that omits the transaction-bound driver argument and silently share the
// outer driver instead.
func (d *SQLDriver) Transaction(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error {
	if d.conn == nil {
		return d.beginRoot(ctx, fn)
	}
	return d.beginSavepoint(ctx, fn)
}

func (d *SQLDriver) beginRoot(ctx context.Context, fn func(ctx context.Context, tx Driver) error) (err error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return wrapDriverError(err)
	}
	defer conn.Close() //nolint:errcheck

	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return wrapDriverError(err)
	}

	counter := 0
	txDriver := &SQLDriver{db: d.db, conn: conn, depth: 1, spCounter: &counter}

	defer func() {
		if r := recover(); r != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			panic(r)
		}
	}()

	if err = fn(ctx, txDriver); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			// Guarantee #2: the rollback error is swallowed, the original
			// error is what the caller sees.
			_ = rbErr
		}
		return err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDriverError(err)
	}
	return nil
}

func (d *SQLDriver) beginSavepoint(ctx context.Context, fn func(ctx context.Context, tx Driver) error) (err error) {
	name := fmt.Sprintf("tsdb_sp_%d", *d.spCounter)
	*d.spCounter++

	if _, err = d.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return wrapDriverError(err)
	}

	txDriver := &SQLDriver{db: d.db, conn: d.conn, depth: d.depth + 1, spCounter: d.spCounter}

	defer func() {
		if r := recover(); r != nil {
			if _, rbErr := d.conn.ExecContext(ctx, "ROLLBACK TO "+name); rbErr == nil {
				_, _ = d.conn.ExecContext(ctx, "RELEASE "+name)
			}
			panic(r)
		}
	}()

	if err = fn(ctx, txDriver); err != nil {
		if _, rbErr := d.conn.ExecContext(ctx, "ROLLBACK TO "+name); rbErr == nil {
			_, _ = d.conn.ExecContext(ctx, "RELEASE "+name)
		}
		// Guarantee #2: any rollback/release failure is swallowed.
		return err
	}

	if _, err = d.conn.ExecContext(ctx, "RELEASE "+name); err != nil {
		return wrapDriverError(err)
	}
	return nil
}
