package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationTimeout = time.Minute

// RunMigrations creates the schema when missing and applies every pending
// migration inside it. The goose version table lives in the same schema.
func RunMigrations(dbURL string, schema string) error {
	if schema == "" {
		schema = "public"
	}

	connConfig, err := pgx.ParseConfig(dbURL)
	if err != nil {
		return fmt.Errorf("unable to parse database url: %w", err)
	}
	connConfig.RuntimeParams["search_path"] = schema

	sqlDB := stdlib.OpenDB(*connConfig)
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()

	if _, err := sqlDB.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("unable to create schema %q: %w", schema, err)
	}

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	if err != nil {
		return fmt.Errorf("unable to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "schema", schema, "version", r.Source.Version, "duration", r.Duration)
	}
	slog.Info("Database migrations completed", "schema", schema, "applied", len(results))
	return nil
}
