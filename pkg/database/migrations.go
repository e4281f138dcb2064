package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/migrations"
)

// DefaultMigrationTimeout bounds each migration statement.
const DefaultMigrationTimeout = 2 * time.Minute

// OpenMigrationDB opens a dedicated database/sql connection for migrations with
// a server-side statement_timeout. A user without CREATE on the public schema
// then fails with an error instead of blocking on the migration lock.
func OpenMigrationDB(connStr string, timeout time.Duration) (*sql.DB, error) {
	if timeout <= 0 {
		timeout = DefaultMigrationTimeout
	}
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	db, err := sql.Open("pgx", fmt.Sprintf("%s%sstatement_timeout=%d", connStr, sep, timeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	return db, nil
}

// RunMigrations applies pending schema migrations embedded in the binary.
// It is idempotent: only pending migrations are executed.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, dirty, _ := m.Version()
	logger.Info("Applied migrations successfully",
		zap.Uint("version", newVersion),
		zap.Bool("dirty", dirty))
	return nil
}
