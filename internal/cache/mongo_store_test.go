package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func toBSOND(t *testing.T, v interface{}) bson.D {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestMongoEntry_Conversion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := sqliteEntry("aspirin", 2, now)

	doc := toMongoEntry(entry)
	assert.Equal(t, "aspirin", doc.Molecule)
	assert.Equal(t, int64(2244), doc.CID)
	assert.Equal(t, int64(1500), doc.SearchDurationMS)
	assert.Equal(t, entry, doc.toDomain())

	empty := toMongoEntry(&domain.CacheEntry{Key: entry.Key})
	assert.NotNil(t, empty.Results)
	assert.NotNil(t, mongoEntry{}.toDomain().Records)
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := domain.CacheKey{Molecule: "aspirin", BioassayFilter: "Any", MaxResults: 100}

	mt.Run("find decodes the stored document", func(mt *mtest.T) {
		entry := sqliteEntry("aspirin", 2, now)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			toBSOND(mt.T, toMongoEntry(entry))))

		got, err := NewMongoStore(mt.Coll, time.Hour).Find(context.Background(), key, now)
		require.NoError(mt, err)
		require.NotNil(mt, got)
		assert.Equal(mt, entry.Records, got.Records)
		assert.Equal(mt, int64(2244), got.Compound.CompoundID)
		assert.True(mt, got.FetchedAt.Equal(now))
	})

	mt.Run("find misses on empty cursor", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		got, err := NewMongoStore(mt.Coll, time.Hour).Find(context.Background(), key, now)
		require.NoError(mt, err)
		assert.Nil(mt, got)
	})

	mt.Run("upsert replaces by key", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		err := NewMongoStore(mt.Coll, time.Hour).Upsert(context.Background(), sqliteEntry("aspirin", 1, now))
		require.NoError(mt, err)
	})

	mt.Run("upsert surfaces server errors", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    91,
			Name:    "ShutdownInProgress",
			Message: "server is shutting down",
		}))

		err := NewMongoStore(mt.Coll, time.Hour).Upsert(context.Background(), sqliteEntry("aspirin", 1, now))
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "mongo upsert")
	})

	mt.Run("delete reports removed documents", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		n, err := NewMongoStore(mt.Coll, time.Hour).Delete(context.Background(), "aspirin")
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), n)
	})

	mt.Run("stats aggregates counts", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: nil},
			{Key: "entries", Value: int64(4)},
			{Key: "total", Value: int64(10)},
		}))

		stats, err := NewMongoStore(mt.Coll, time.Hour).Stats(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, &domain.CacheStats{Entries: 4, TotalResults: 10, AvgResultsPerEntry: 3}, stats)
	})

	mt.Run("stats on empty collection", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		stats, err := NewMongoStore(mt.Coll, time.Hour).Stats(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, int64(0), stats.Entries)
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, NewMongoStore(mt.Coll, 720*time.Hour).EnsureIndexes(context.Background()))
	})
}
