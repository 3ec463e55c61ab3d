package persistadapter

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file" // register the file source driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tanstack/db-sqlite-persist/errtag"
	"github.com/tanstack/db-sqlite-persist/sqlitedriver"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbProvider is implemented by sqlitedriver.SQLDriver. Driver variants that
// wrap a host-native connection (sqlitedriver.Native) don't satisfy it, and
// fall back to bootstrapFallback.
type dbProvider interface {
	DB() *sql.DB
}

// bootstrap creates the adapter's internal metadata tables
// (_tsdb_collection, _tsdb_index) if they don't already exist. When the
// driver exposes a *sql.DB (the cooperative-savepoint SQLDriver), it's done
// via golang-migrate exactly as the teacher's sqlitedb.Migrate does it;
// otherwise the embedded DDL is executed directly through the Driver
// contract, statement by statement.
func bootstrap(ctx context.Context, driver sqlitedriver.Driver) error {
	if provider, ok := driver.(dbProvider); ok {
		return bootstrapMigrate(provider.DB())
	}
	return bootstrapFallback(ctx, driver)
}

func bootstrapMigrate(db *sql.DB) error {
	sd, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errtag.Tag[errtag.Configuration](fmt.Errorf("open migrations fs: %w", err))
	}
	defer sd.Close() //nolint:errcheck

	driver, err := sqlite.WithInstance(db, new(sqlite.Config))
	if err != nil {
		return errtag.Tag[errtag.Driver](fmt.Errorf("create sqlite migrate driver: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", sd, "sqlite", driver)
	if err != nil {
		return errtag.Tag[errtag.Driver](fmt.Errorf("create migrate instance: %w", err))
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errtag.Tag[errtag.Driver](fmt.Errorf("migrate up: %w", err))
	}
	return nil
}

func bootstrapFallback(ctx context.Context, driver sqlitedriver.Driver) error {
	raw, err := migrationsFS.ReadFile("migrations/0001_init.up.sql")
	if err != nil {
		return errtag.Tag[errtag.Configuration](fmt.Errorf("read embedded bootstrap sql: %w", err))
	}
	for _, stmt := range splitStatements(string(raw)) {
		if err = driver.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap internal tables: %w", err)
		}
	}
	return nil
}

// splitStatements splits a DDL script on statement-terminating semicolons.
// The embedded migration is plain CREATE TABLE DDL with no semicolons
// inside string literals, so a naive split is sufficient and avoids pulling
// in a full SQL tokenizer for a one-time bootstrap step.
func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}
	return stmts
}
