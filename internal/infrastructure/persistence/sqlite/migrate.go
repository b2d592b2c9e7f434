// Package sqlite carries the embedded schema of the workflow store.
package sqlite

import (
	"context"
	"embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/pkg/database"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies pending schema migrations and returns how many ran
func Migrate(ctx context.Context, db *database.DB, logger *zap.Logger) (int, error) {
	return database.NewMigrator(db, logger).Run(ctx, migrationFS, "migrations")
}

// Open connects to the database and brings the schema up to date
func Open(ctx context.Context, cfg database.Config, logger *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if _, err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
