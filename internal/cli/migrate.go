package cli

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Apply all pending migrations."`
	Down   MigrateDownCmd   `cmd:"" help:"Roll back the last migration."`
	Status MigrateStatusCmd `cmd:"" help:"Show the current migration version."`
}

func openMigrate(c *Context) (*migrate.Migrate, error) {
	m, err := migrate.New(c.MigrationsSource, c.Config.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to initialise migrations: %w", err)
	}
	return m, nil
}

func closeMigrate(c *Context, m *migrate.Migrate) {
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		c.Logger.Warn("Failed to close migration resources", "source_error", sourceErr, "db_error", dbErr)
	}
}

type MigrateUpCmd struct{}

func (cmd *MigrateUpCmd) Run(c *Context) error {
	m, err := openMigrate(c)
	if err != nil {
		return err
	}
	defer closeMigrate(c, m)

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		fmt.Fprintln(c.Out, "no change: database is up to date")
	case err != nil:
		return fmt.Errorf("failed to apply migrations: %w", err)
	default:
		fmt.Fprintln(c.Out, "migrations applied")
	}
	return nil
}

type MigrateDownCmd struct{}

func (cmd *MigrateDownCmd) Run(c *Context) error {
	m, err := openMigrate(c)
	if err != nil {
		return err
	}
	defer closeMigrate(c, m)

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	fmt.Fprintln(c.Out, "last migration rolled back")
	return nil
}

type MigrateStatusCmd struct{}

func (cmd *MigrateStatusCmd) Run(c *Context) error {
	m, err := openMigrate(c)
	if err != nil {
		return err
	}
	defer closeMigrate(c, m)

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Fprintln(c.Out, "no migrations applied")
		return nil
	case err != nil:
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.Out, "version %d%s\n", version, suffix)
	return nil
}
