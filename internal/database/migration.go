package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/marminbh/eventsync-svc/internal/config"
)

// DefaultMigrationsPath is where the SQL migrations live relative to the working directory
const DefaultMigrationsPath = "file://db/migrations"

// RunMigrations executes the database migrations
func RunMigrations(cfg *config.DatabaseConfig, sourceURL string, logger *zap.Logger) error {
	if sourceURL == "" {
		sourceURL = DefaultMigrationsPath
	}

	m, err := migrate.New(sourceURL, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		version, dirty, _ := m.Version()
		logger.Info("Database migrations applied successfully",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
	}
	return nil
}
