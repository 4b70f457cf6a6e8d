package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations/sqlite
var sqliteMigrations embed.FS

//go:embed all:migrations/postgres
var postgresMigrations embed.FS

// runMigrations applies all pending migrations for dbType using the
// already-open connection conn.
func runMigrations(dbType string, conn *sql.DB) error {
	m, err := newMigrator(conn, dbType)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// newMigrator creates a golang-migrate instance for the given database type
// using embedded SQL migration files.
func newMigrator(conn *sql.DB, dbType string) (*migrate.Migrate, error) {
	var migrationFS fs.FS
	var err error

	switch dbType {
	case "sqlite":
		migrationFS, err = fs.Sub(sqliteMigrations, "migrations/sqlite")
	case "postgres":
		migrationFS, err = fs.Sub(postgresMigrations, "migrations/postgres")
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	source, err := iofs.New(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	var driver database.Driver
	switch dbType {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
		}
	case "postgres":
		driver, err = migratepostgres.WithInstance(conn, &migratepostgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres driver: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// handleMigrationUpgrade detects a database created before migration tracking
// existed and marks the baseline migration as already applied, so Up() does
// not try to recreate tables that are already there.
func handleMigrationUpgrade(conn *sql.DB, dbType string) error {
	if !hasGolangMigrateTable(conn, dbType) && hasApplicationTables(conn) {
		slog.Info("detected existing database without golang-migrate tracking, forcing version to baseline")
		if err := forceBaselineVersion(conn); err != nil {
			return fmt.Errorf("failed to force baseline version: %w", err)
		}
	}

	return nil
}

// hasGolangMigrateTable checks if golang-migrate's schema_migrations table exists.
// golang-migrate creates a table with (version BIGINT, dirty BOOLEAN).
func hasGolangMigrateTable(conn *sql.DB, dbType string) bool {
	var query string
	switch dbType {
	case "sqlite":
		query = "SELECT COUNT(*) FROM pragma_table_info('schema_migrations') WHERE name = 'dirty'"
	case "postgres":
		query = `SELECT COUNT(*) FROM information_schema.columns
			WHERE table_name = 'schema_migrations' AND column_name = 'dirty'`
	default:
		return false
	}

	var count int
	if err := conn.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// hasApplicationTables checks if the core tables already exist, indicating
// this is a pre-existing database.
func hasApplicationTables(conn *sql.DB) bool {
	var count int
	err := conn.QueryRow("SELECT COUNT(*) FROM sessions LIMIT 1").Scan(&count)
	return err == nil
}

// forceBaselineVersion creates golang-migrate's schema_migrations table and
// sets version=1, dirty=false, indicating the baseline migration is already applied.
func forceBaselineVersion(conn *sql.DB) error {
	createTable := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version bigint NOT NULL PRIMARY KEY,
		dirty boolean NOT NULL
	)`

	if _, err := conn.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	// Force version 1 (baseline) as already applied; any later migrations
	// run normally via m.Up().
	if _, err := conn.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (1, false)"); err != nil {
		return fmt.Errorf("failed to set baseline version: %w", err)
	}

	return nil
}

// NewMigrator creates an exported golang-migrate instance for use by the CLI tool.
// The caller is responsible for calling Close() on the returned Migrate instance.
func NewMigrator(dbType, dsn string) (*migrate.Migrate, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newMigrator(conn, dbType)
}
