package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/schema"
)

// migrateDBCommand applies every pending migration from internal/schema.
func migrateDBCommand(ctx context.Context, logger *slog.Logger, cfg *appConfig) int {
	m, db, err := openMigrator(cfg)
	if err != nil {
		logger.Error("failed to open migrator", slog.String("error", err.Error()))
		return 2
	}
	defer db.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", slog.String("error", err.Error()))
		return 2
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("failed to read migration version", slog.String("error", err.Error()))
		return 2
	}

	logger.Info("schema up to date", slog.Any("version", version), slog.Bool("dirty", dirty))
	return 0
}

// initDBCommand applies migrations only if the schema is absent; a schema
// that already has a migration version recorded is left untouched. This
// is the supplemented idempotent bootstrap subcommand for first-run
// deployments that should not fail when re-invoked.
func initDBCommand(ctx context.Context, logger *slog.Logger, cfg *appConfig) int {
	m, db, err := openMigrator(cfg)
	if err != nil {
		logger.Error("failed to open migrator", slog.String("error", err.Error()))
		return 2
	}
	defer db.Close()

	_, _, err = m.Version()
	if err == nil {
		logger.Info("schema already initialized, nothing to do")
		return 0
	}
	if !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("failed to read migration version", slog.String("error", err.Error()))
		return 2
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("initial migration failed", slog.String("error", err.Error()))
		return 2
	}

	logger.Info("schema initialized")
	return 0
}

func openMigrator(cfg *appConfig) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("building postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(schema.Migrations(), ".")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("building migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("building migrator: %w", err)
	}

	return m, db, nil
}
