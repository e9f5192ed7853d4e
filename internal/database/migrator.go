package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records the applied schema version of the cache schema.
const MigrationsTable = "compound_cache_migrations"

// Migrator applies the compound cache schema under migrations/.
type Migrator struct {
	m      *migrate.Migrate
	sqlDB  *sql.DB
	logger zerolog.Logger
}

// NewMigrator opens a golang-migrate instance over the pool of db, reading
// migration files from dir.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	switch {
	case db == nil:
		return nil, errors.New("migrator: nil database")
	case db.pool == nil:
		return nil, errors.New("migrator: database has no connection pool")
	case dir == "":
		return nil, errors.New("migrator: empty migrations directory")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrator: migrations directory: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrator: postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrator: open source %s: %w", dir, err)
	}

	return &Migrator{
		m:      m,
		sqlDB:  sqlDB,
		logger: logger.With().Str("component", "migrator").Str("dir", dir).Logger(),
	}, nil
}

// apply runs one migrate operation and treats "nothing to do" as success.
func (mg *Migrator) apply(op string, run func() error) error {
	err := run()
	switch {
	case err == nil:
		mg.logger.Info().Str("op", op).Msg("compound cache schema migrated")
		return nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		// os.ErrNotExist: Steps ran past the last file.
		mg.logger.Info().Str("op", op).Msg("compound cache schema already at target")
		return nil
	default:
		return fmt.Errorf("migrate %s: %w", op, err)
	}
}

// Up applies all pending migrations.
func (mg *Migrator) Up() error { return mg.apply("up", mg.m.Up) }

// Down reverts every migration, dropping the cache table.
func (mg *Migrator) Down() error { return mg.apply("down", mg.m.Down) }

// Steps moves n migrations forward, or back when n is negative.
func (mg *Migrator) Steps(n int) error {
	return mg.apply(fmt.Sprintf("steps(%d)", n), func() error { return mg.m.Steps(n) })
}

// Version reports the applied version and whether the last run left it dirty.
func (mg *Migrator) Version() (uint, bool, error) {
	return mg.m.Version()
}

// Force records version as applied without running any file.
func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("migrate force %d: %w", version, err)
	}
	return nil
}

// Close releases the migration source and the database/sql wrapper. The
// underlying pool stays open.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	var sqlErr error
	if mg.sqlDB != nil {
		sqlErr = mg.sqlDB.Close()
	}
	return errors.Join(srcErr, dbErr, sqlErr)
}

// RunMigrations brings the schema under dir up to date and closes the migrator.
func RunMigrations(db *DB, dir string, logger zerolog.Logger) (err error) {
	mg, err := NewMigrator(db, dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, mg.Close())
	}()
	return mg.Up()
}
