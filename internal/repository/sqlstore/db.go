// Package sqlstore persists templates in PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"fieldscan/db/migrations"
	"fieldscan/internal/config"
)

// driverName maps a configured driver to its database/sql driver name.
func driverName(driver string) (string, error) {
	switch driver {
	case config.DriverPostgres:
		return "pgx", nil
	case config.DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// NewDB opens a connection pool for the configured driver.
func NewDB(cfg *config.DBConfig) (*sqlx.DB, error) {
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN()
	if cfg.Driver == config.DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		dsn += "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}

	db, err := sqlx.Connect(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite {
		// a single connection keeps SQLite writes serialized
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpen)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	return db, nil
}

// NewMigrator returns a golang-migrate instance over the embedded schema of the driver.
func NewMigrator(db *sqlx.DB, driver string) (*migrate.Migrate, error) {
	sub, err := fs.Sub(migrations.FS, driver)
	if err != nil {
		return nil, fmt.Errorf("locating %s migrations: %w", driver, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("reading %s migrations: %w", driver, err)
	}

	var target database.Driver
	switch driver {
	case config.DriverPostgres:
		target, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case config.DriverSQLite:
		target, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("preparing %s migration driver: %w", driver, err)
	}
	return migrate.NewWithInstance("iofs", src, driver, target)
}

// Migrate applies every pending migration.
func Migrate(db *sqlx.DB, driver string) error {
	m, err := NewMigrator(db, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
