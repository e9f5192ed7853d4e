package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

var pgFindColumns = []string{
	"compound_id", "compound_name", "structure", "total_assays_found", "search_duration_ms",
	"records", "result_count", "fetched_at", "expires_at",
}

func TestPgStore_Find(t *testing.T) {
	key := domain.CacheKey{Molecule: "aspirin", BioassayFilter: "Any", TargetClass: "", MaxResults: 100}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns entry when found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		records, err := json.Marshal(makeRecords(2))
		require.NoError(t, err)

		mock.ExpectQuery(`SELECT COALESCE\(compound_id, 0\)`).
			WithArgs("aspirin", "Any", "", 100, now).
			WillReturnRows(pgxmock.NewRows(pgFindColumns).
				AddRow(int64(2244), "2-acetyloxybenzoic acid", "CC(=O)OC1=CC=CC=C1C(=O)O", 42, int64(1830),
					records, 2, now.Add(-time.Hour), now.Add(time.Hour)))

		entry, err := NewPgStore(mock).Find(context.Background(), key, now)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, key, entry.Key)
		assert.Equal(t, int64(2244), entry.Compound.CompoundID)
		assert.Equal(t, 42, entry.Compound.TotalAssaysFound)
		assert.Equal(t, 1830*time.Millisecond, entry.Compound.SearchDuration)
		assert.Len(t, entry.Records, 2)
		assert.Equal(t, domain.SourcePubChem, entry.Records[0].Source)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil on miss", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT COALESCE\(compound_id, 0\)`).
			WithArgs("aspirin", "Any", "", 100, now).
			WillReturnError(pgx.ErrNoRows)

		entry, err := NewPgStore(mock).Find(context.Background(), key, now)
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stored empty records decode to an empty slice", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT COALESCE\(compound_id, 0\)`).
			WithArgs("aspirin", "Any", "", 100, now).
			WillReturnRows(pgxmock.NewRows(pgFindColumns).
				AddRow(int64(0), "", "", 0, int64(0), []byte(`[]`), 0, now, now.Add(time.Hour)))

		entry, err := NewPgStore(mock).Find(context.Background(), key, now)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.NotNil(t, entry.Records)
		assert.Empty(t, entry.Records)
	})

	t.Run("wraps query errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT COALESCE\(compound_id, 0\)`).
			WithArgs("aspirin", "Any", "", 100, now).
			WillReturnError(errors.New("connection reset"))

		_, err = NewPgStore(mock).Find(context.Background(), key, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to find cache entry")
	})
}

func TestPgStore_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &domain.CacheEntry{
		Key:         domain.CacheKey{Molecule: "aspirin", BioassayFilter: "Any", MaxResults: 100},
		Compound:    domain.CompoundMetadata{CompoundID: 2244, Name: "aspirin", TotalAssaysFound: 7, SearchDuration: 2 * time.Second},
		Records:     makeRecords(1),
		ResultCount: 1,
		FetchedAt:   now,
		ExpiresAt:   now.Add(DefaultTTL),
	}

	mock.ExpectExec(`INSERT INTO compound_cache .* ON CONFLICT \(molecule, bioassay_filter, target_class, max_results\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "aspirin", "Any", "", 100,
			int64(2244), "aspirin", "", 7, int64(2000),
			pgxmock.AnyArg(), 1, now, now.Add(DefaultTTL)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgStore(mock).Upsert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Delete(t *testing.T) {
	t.Run("deletes one molecule", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM compound_cache WHERE molecule = \$1`).
			WithArgs("aspirin").
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		n, err := NewPgStore(mock).Delete(context.Background(), "aspirin")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes everything", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`^DELETE FROM compound_cache$`).
			WillReturnResult(pgxmock.NewResult("DELETE", 12))

		n, err := NewPgStore(mock).Delete(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStore_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(result_count\), 0\) FROM compound_cache`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(int64(3), int64(10)))

	stats, err := NewPgStore(mock).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Entries)
	assert.Equal(t, int64(10), stats.TotalResults)
	assert.Equal(t, int64(3), stats.AvgResultsPerEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_PurgeExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`DELETE FROM compound_cache WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := NewPgStore(mock).PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("no route to host"))

	err = NewPgStore(mock).Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCacheUnavailable))
}
