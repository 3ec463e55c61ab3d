package sqlitedriver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/tanstack/db-sqlite-persist/errtag"
)

const (
	healthRetryInterval = time.Second
	healthMaxRetries    = 5
)

// pragmaPattern enforces that pragmas never embed comments, semicolons, or
// other SQL outside a bare "NAME = VALUE" shape.
var pragmaPattern = regexp.MustCompile(`^[A-Za-z0-9_= ]+$`)

// DefaultPragmas is the pragma set applied on open unless overridden via
// WithPragmas: WAL journaling, NORMAL sync, and foreign key enforcement.
var DefaultPragmas = []string{
	"journal_mode = WAL",
	"synchronous = NORMAL",
	"foreign_keys = ON",
}

type OpenOption func(opts *openOpts)

// WithDir sets the directory used to store the SQLite database file.
func WithDir(dir string) OpenOption {
	return func(opts *openOpts) { opts.dir = dir }
}

// WithDBName sets the SQLite database name used when creating the
// `<dbName>.db` file. Has no effect when WithInMemory is used.
func WithDBName(dbName string) OpenOption {
	return func(opts *openOpts) { opts.dbName = dbName }
}

// WithInMemory configures the connection to use an in-memory SQLite
// database. WAL is skipped (meaningless for :memory:).
func WithInMemory() OpenOption {
	return func(opts *openOpts) { opts.inMemory = true }
}

// WithPragmas overrides DefaultPragmas. Each entry must match
// ^[A-Za-z0-9_= ]+$ — comments and semicolons are rejected at Open time.
func WithPragmas(pragmas ...string) OpenOption {
	return func(opts *openOpts) { opts.pragmas = pragmas }
}

type openOpts struct {
	dir      string
	dbName   string
	inMemory bool
	pragmas  []string
}

// Open opens a SQLite database and returns it wrapped as the root Driver.
// It mirrors the teacher's sqlitedb.Open: a single pooled connection (SQLite
// only supports one writer at a time), WAL by default for file-backed
// databases, and a backoff-based health check before returning.
func Open(ctx context.Context, opts ...OpenOption) (*SQLDriver, error) {
	var o openOpts
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.pragmas) == 0 {
		o.pragmas = DefaultPragmas
	}

	for _, p := range o.pragmas {
		if !pragmaPattern.MatchString(p) {
			return nil, errtag.Tag[errtag.Configuration](
				fmt.Errorf("invalid pragma %q", p),
				errtag.WithMsg("pragma must match ^[A-Za-z0-9_= ]+$"),
			)
		}
	}

	var dsn string
	if o.inMemory {
		dsn = ":memory:"
	} else {
		if o.dbName == "" {
			o.dbName = "app"
		}
		file := o.dbName + ".db"
		if o.dir != "" {
			if err := os.MkdirAll(o.dir, 0o755); err != nil {
				return nil, errtag.Tag[errtag.Configuration](fmt.Errorf("create sqlite directory: %w", err))
			}
			file = strings.TrimSuffix(o.dir, "/") + "/" + file
		}
		dsn = "file:" + file + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapDriverError(err)
	}

	// SQLite only supports a single writer at a time; one pooled connection
	// turns the pool itself into the single-writer queue the driver
	// contract requires (guarantee #1).
	db.SetMaxOpenConns(1)

	for _, p := range o.pragmas {
		if o.inMemory && strings.HasPrefix(strings.ToLower(strings.TrimSpace(p)), "journal_mode") {
			continue // WAL is meaningless for :memory:
		}
		if _, err = db.ExecContext(ctx, "PRAGMA "+p); err != nil {
			return nil, errtag.Tag[errtag.Configuration](fmt.Errorf("apply pragma %q: %w", p, err))
		}
	}

	if err = waitHealthy(ctx, db); err != nil {
		return nil, err
	}

	return New(db), nil
}

func waitHealthy(ctx context.Context, db *sql.DB) error {
	pingFn := func() error {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return db.PingContext(pctx)
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(healthRetryInterval), healthMaxRetries)
	if err := backoff.Retry(pingFn, bo); err != nil {
		return errtag.Tag[errtag.Driver](fmt.Errorf("sqlite connection unhealthy: %w", err))
	}
	return nil
}

// DB returns the underlying *sql.DB for callers (migrations, diagnostics)
// that need it directly. Only valid on the root Driver returned by Open.
func (d *SQLDriver) DB() *sql.DB {
	return d.db
}
