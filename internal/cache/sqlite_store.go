package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

// Compile-time interface verification.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps cache entries in an embedded SQLite file. Timestamps are
// stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS compound_cache (
			id TEXT PRIMARY KEY,
			molecule TEXT NOT NULL,
			bioassay_filter TEXT NOT NULL,
			target_class TEXT NOT NULL,
			max_results INTEGER NOT NULL CHECK (max_results > 0),
			compound_id INTEGER NOT NULL DEFAULT 0,
			compound_name TEXT NOT NULL DEFAULT '',
			structure TEXT NOT NULL DEFAULT '',
			total_assays_found INTEGER NOT NULL DEFAULT 0,
			search_duration_ms INTEGER NOT NULL DEFAULT 0,
			records TEXT NOT NULL DEFAULT '[]',
			result_count INTEGER NOT NULL DEFAULT 0,
			fetched_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			UNIQUE (molecule, bioassay_filter, target_class, max_results)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compound_cache_expires_at ON compound_cache(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Find returns the unexpired entry for key.
func (s *SQLiteStore) Find(ctx context.Context, key domain.CacheKey, now time.Time) (*domain.CacheEntry, error) {
	query := `SELECT compound_id, compound_name, structure, total_assays_found, search_duration_ms,
			records, result_count, fetched_at, expires_at
		FROM compound_cache
		WHERE molecule = ? AND bioassay_filter = ? AND target_class = ? AND max_results = ? AND expires_at > ?`

	entry := &domain.CacheEntry{Key: key}
	var (
		durationMS, fetchedAt, expiresAt int64
		records                          string
	)
	err := s.db.QueryRowContext(ctx, query,
		key.Molecule, key.BioassayFilter, key.TargetClass, key.MaxResults, now.UnixMilli(),
	).Scan(
		&entry.Compound.CompoundID,
		&entry.Compound.Name,
		&entry.Compound.StructureString,
		&entry.Compound.TotalAssaysFound,
		&durationMS,
		&records,
		&entry.ResultCount,
		&fetchedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying cache entry: %w", err)
	}

	entry.Compound.SearchDuration = time.Duration(durationMS) * time.Millisecond
	entry.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	entry.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if entry.Records, err = decodeRecords([]byte(records)); err != nil {
		return nil, err
	}
	return entry, nil
}

// Upsert inserts entry or overwrites the row with the same key.
func (s *SQLiteStore) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	records, err := encodeRecords(entry.Records)
	if err != nil {
		return err
	}

	query := `INSERT INTO compound_cache (id, molecule, bioassay_filter, target_class, max_results,
			compound_id, compound_name, structure, total_assays_found, search_duration_ms,
			records, result_count, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (molecule, bioassay_filter, target_class, max_results) DO UPDATE SET
			compound_id = excluded.compound_id,
			compound_name = excluded.compound_name,
			structure = excluded.structure,
			total_assays_found = excluded.total_assays_found,
			search_duration_ms = excluded.search_duration_ms,
			records = excluded.records,
			result_count = excluded.result_count,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`

	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(),
		entry.Key.Molecule,
		entry.Key.BioassayFilter,
		entry.Key.TargetClass,
		entry.Key.MaxResults,
		entry.Compound.CompoundID,
		entry.Compound.Name,
		entry.Compound.StructureString,
		entry.Compound.TotalAssaysFound,
		entry.Compound.SearchDuration.Milliseconds(),
		string(records),
		entry.ResultCount,
		entry.FetchedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// Delete removes the entries for molecule, or all entries when it is empty.
func (s *SQLiteStore) Delete(ctx context.Context, molecule string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if molecule == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM compound_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM compound_cache WHERE molecule = ?`, molecule)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts rows and sums their result counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*domain.CacheStats, error) {
	var entries, total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(result_count), 0) FROM compound_cache`).
		Scan(&entries, &total)
	if err != nil {
		return nil, fmt.Errorf("computing cache stats: %w", err)
	}
	return domain.NewCacheStats(entries, total), nil
}

// PurgeExpired deletes rows that expired at or before now.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compound_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}
