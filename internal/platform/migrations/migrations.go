// Package migrations embeds the PM schema's SQL files and applies them
// through golang-migrate, which tracks applied versions in its own
// schema_migrations table so Apply is safe to call on every startup.
// Grounded on _examples' system/platform/migrations/migrations.go for the
// "embed + Apply(ctx, db) on every boot" shape, generalized from a bare
// ExecContext loop to golang-migrate's versioned driver (a teacher go.mod
// dependency the teacher itself never imports) so a failed migration
// rolls back and reruns are idempotent by version rather than by
// IF-NOT-EXISTS guards alone.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply runs every pending embedded migration against db in version order.
// Calling it again once all migrations are applied is a no-op.
func Apply(ctx context.Context, db *sql.DB) error {
	sourceDriver, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Down rolls back every applied migration, dropping every table Apply
// created. Nothing in this repository calls it.
func Down(ctx context.Context, db *sql.DB) error {
	sourceDriver, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}
