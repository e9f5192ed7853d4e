package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/compound-enrichment-service/internal/database"
	"github.com/helixir/compound-enrichment-service/internal/domain"
)

// Compile-time interface verification.
var _ Store = (*PgStore)(nil)

// PgStore keeps cache entries in the compound_cache table.
type PgStore struct {
	db database.DBTX
}

// NewPgStore creates a PostgreSQL cache store.
func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db}
}

// Find returns the unexpired entry for key.
func (s *PgStore) Find(ctx context.Context, key domain.CacheKey, now time.Time) (*domain.CacheEntry, error) {
	query := `
		SELECT COALESCE(compound_id, 0), compound_name, structure, total_assays_found,
			search_duration_ms, records, result_count, fetched_at, expires_at
		FROM compound_cache
		WHERE molecule = $1 AND bioassay_filter = $2 AND target_class = $3 AND max_results = $4
			AND expires_at > $5`

	entry := &domain.CacheEntry{Key: key}
	var (
		durationMS int64
		records    []byte
	)
	err := s.db.QueryRow(ctx, query, key.Molecule, key.BioassayFilter, key.TargetClass, key.MaxResults, now).Scan(
		&entry.Compound.CompoundID,
		&entry.Compound.Name,
		&entry.Compound.StructureString,
		&entry.Compound.TotalAssaysFound,
		&durationMS,
		&records,
		&entry.ResultCount,
		&entry.FetchedAt,
		&entry.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find cache entry: %w", err)
	}

	entry.Compound.SearchDuration = time.Duration(durationMS) * time.Millisecond
	if entry.Records, err = decodeRecords(records); err != nil {
		return nil, err
	}
	return entry, nil
}

// Upsert inserts entry or overwrites the row with the same key.
func (s *PgStore) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	records, err := encodeRecords(entry.Records)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO compound_cache (id, molecule, bioassay_filter, target_class, max_results,
			compound_id, compound_name, structure, total_assays_found, search_duration_ms,
			records, result_count, fetched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6::bigint, 0), $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (molecule, bioassay_filter, target_class, max_results) DO UPDATE SET
			compound_id = EXCLUDED.compound_id,
			compound_name = EXCLUDED.compound_name,
			structure = EXCLUDED.structure,
			total_assays_found = EXCLUDED.total_assays_found,
			search_duration_ms = EXCLUDED.search_duration_ms,
			records = EXCLUDED.records,
			result_count = EXCLUDED.result_count,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at`

	_, err = s.db.Exec(ctx, query,
		uuid.New(),
		entry.Key.Molecule,
		entry.Key.BioassayFilter,
		entry.Key.TargetClass,
		entry.Key.MaxResults,
		entry.Compound.CompoundID,
		entry.Compound.Name,
		entry.Compound.StructureString,
		entry.Compound.TotalAssaysFound,
		entry.Compound.SearchDuration.Milliseconds(),
		records,
		entry.ResultCount,
		entry.FetchedAt,
		entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes the entries for molecule, or all entries when it is empty.
func (s *PgStore) Delete(ctx context.Context, molecule string) (int64, error) {
	var (
		query = `DELETE FROM compound_cache`
		args  []interface{}
	)
	if molecule != "" {
		query += ` WHERE molecule = $1`
		args = append(args, molecule)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts rows and sums their result counts.
func (s *PgStore) Stats(ctx context.Context) (*domain.CacheStats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(result_count), 0) FROM compound_cache`

	var entries, total int64
	if err := s.db.QueryRow(ctx, query).Scan(&entries, &total); err != nil {
		return nil, fmt.Errorf("failed to compute cache stats: %w", err)
	}
	return domain.NewCacheStats(entries, total), nil
}

// PurgeExpired deletes rows that expired at or before now.
func (s *PgStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM compound_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping runs a trivial query.
func (s *PgStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func encodeRecords(records []domain.AssayRecord) ([]byte, error) {
	if records == nil {
		records = []domain.AssayRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode cached records: %w", err)
	}
	return b, nil
}

func decodeRecords(b []byte) ([]domain.AssayRecord, error) {
	records := []domain.AssayRecord{}
	if len(b) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decode cached records: %w", err)
	}
	return records, nil
}
