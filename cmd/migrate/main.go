// Package main applies the PostgreSQL cache schema migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/config"
	"github.com/helixir/compound-enrichment-service/internal/database"
	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// action is one migration command selected on the command line.
type action struct {
	name string
	run  func(m *database.Migrator, logger zerolog.Logger) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	up := flag.Bool("up", false, "Run all pending migrations")
	down := flag.Bool("down", false, "Roll back all migrations")
	steps := flag.Int("steps", 0, "Run N migration steps (positive=up, negative=down)")
	version := flag.Bool("version", false, "Print the current migration version")
	force := flag.Int("force", -1, "Force set migration version (use to recover from a dirty state)")
	migrationsPath := flag.String("path", "", "Override the migrations directory path")
	flag.Parse()

	var actions []action
	if *up {
		actions = append(actions, action{"up", func(m *database.Migrator, l zerolog.Logger) error {
			l.Info().Msg("running all pending migrations")
			return m.Up()
		}})
	}
	if *down {
		actions = append(actions, action{"down", func(m *database.Migrator, l zerolog.Logger) error {
			l.Warn().Msg("rolling back all migrations")
			return m.Down()
		}})
	}
	if *steps != 0 {
		actions = append(actions, action{"steps", func(m *database.Migrator, l zerolog.Logger) error {
			l.Info().Int("steps", *steps).Msg("running migration steps")
			return m.Steps(*steps)
		}})
	}
	if *version {
		actions = append(actions, action{"version", func(*database.Migrator, zerolog.Logger) error { return nil }})
	}
	if *force >= 0 {
		actions = append(actions, action{"force", func(m *database.Migrator, l zerolog.Logger) error {
			l.Warn().Int("version", *force).Msg("forcing migration version")
			return m.Force(*force)
		}})
	}

	switch len(actions) {
	case 0:
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
		return errors.New("no action specified")
	case 1:
	default:
		return errors.New("specify only one action at a time")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "migrate").Logger()

	if cfg.Cache.Backend != config.CacheBackendPostgres {
		logger.Warn().
			Str("cache_backend", cfg.Cache.Backend).
			Msg("cache backend is not postgres; migrations only affect the postgres store")
	}

	migrationDir := cfg.Database.MigrationPath
	if *migrationsPath != "" {
		migrationDir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	selected := actions[0]
	if err := selected.run(migrator, logger); err != nil {
		return fmt.Errorf("migrate %s: %w", selected.name, err)
	}
	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
