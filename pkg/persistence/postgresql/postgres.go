// Package postgresql provides PostgreSQL persistence for sites and runs.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/checkinhub/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	siteRepo *SiteRepository
	runRepo  *RunRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	postgres := newPersistence(database, logger)

	// Run migrations on initialization
	migrationManager := sqlbase.NewMigrationManager(postgres.logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// NewPersistenceWithDB wraps an already opened and migrated database.
func NewPersistenceWithDB(database *sql.DB, logger *slog.Logger) *Persistence {
	return newPersistence(database, logger)
}

func newPersistence(database *sql.DB, logger *slog.Logger) *Persistence {
	logger = logger.With("module", "postgresql")

	return &Persistence{
		db:       database,
		logger:   logger,
		siteRepo: NewSiteRepository(database, logger),
		runRepo:  NewRunRepository(database, logger),
	}
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
