package internal

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies the account and billable action schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	before, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		before = 0
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}
	after, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}

	if after != before {
		logger.Info("database migrated", "from_version", before, "to_version", after)
	}
	return nil
}
