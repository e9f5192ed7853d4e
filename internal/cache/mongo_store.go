package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

// Compile-time interface verification.
var _ Store = (*MongoStore)(nil)

// mongoEntry is the stored document. Field names follow the collection
// layout used by the web application.
type mongoEntry struct {
	Molecule         string               `bson:"molecule"`
	BioassayFilter   string               `bson:"bioassayFilter"`
	TargetClass      string               `bson:"targetClass"`
	MaxResults       int                  `bson:"maxResults"`
	CID              int64                `bson:"cid,omitempty"`
	IUPACName        string               `bson:"iupacName"`
	Smiles           string               `bson:"smiles"`
	TotalAIDsFound   int                  `bson:"totalAIDsFound"`
	Results          []domain.AssayRecord `bson:"results"`
	ResultCount      int                  `bson:"resultCount"`
	SearchDurationMS int64                `bson:"searchDuration"`
	FetchedAt        time.Time            `bson:"fetchedAt"`
	ExpiresAt        time.Time            `bson:"expiresAt"`
}

func toMongoEntry(e *domain.CacheEntry) mongoEntry {
	results := e.Records
	if results == nil {
		results = []domain.AssayRecord{}
	}
	return mongoEntry{
		Molecule:         e.Key.Molecule,
		BioassayFilter:   e.Key.BioassayFilter,
		TargetClass:      e.Key.TargetClass,
		MaxResults:       e.Key.MaxResults,
		CID:              e.Compound.CompoundID,
		IUPACName:        e.Compound.Name,
		Smiles:           e.Compound.StructureString,
		TotalAIDsFound:   e.Compound.TotalAssaysFound,
		Results:          results,
		ResultCount:      e.ResultCount,
		SearchDurationMS: e.Compound.SearchDuration.Milliseconds(),
		FetchedAt:        e.FetchedAt,
		ExpiresAt:        e.ExpiresAt,
	}
}

func (m mongoEntry) toDomain() *domain.CacheEntry {
	records := m.Results
	if records == nil {
		records = []domain.AssayRecord{}
	}
	return &domain.CacheEntry{
		Key: domain.CacheKey{
			Molecule:       m.Molecule,
			BioassayFilter: m.BioassayFilter,
			TargetClass:    m.TargetClass,
			MaxResults:     m.MaxResults,
		},
		Compound: domain.CompoundMetadata{
			CompoundID:       m.CID,
			Name:             m.IUPACName,
			StructureString:  m.Smiles,
			TotalAssaysFound: m.TotalAIDsFound,
			SearchDuration:   time.Duration(m.SearchDurationMS) * time.Millisecond,
		},
		Records:     records,
		ResultCount: m.ResultCount,
		FetchedAt:   m.FetchedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
	}
}

func keyFilter(key domain.CacheKey) bson.D {
	return bson.D{
		{Key: "molecule", Value: key.Molecule},
		{Key: "bioassayFilter", Value: key.BioassayFilter},
		{Key: "targetClass", Value: key.TargetClass},
		{Key: "maxResults", Value: key.MaxResults},
	}
}

// MongoStore keeps cache entries in a MongoDB collection.
type MongoStore struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewMongoStore creates a store on col. ttl sizes the TTL index.
func NewMongoStore(col *mongo.Collection, ttl time.Duration) *MongoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MongoStore{col: col, ttl: ttl}
}

// ConnectMongo opens a client and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique key index and the fetchedAt TTL index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "molecule", Value: 1},
				{Key: "bioassayFilter", Value: 1},
				{Key: "targetClass", Value: 1},
				{Key: "maxResults", Value: 1},
			},
			Options: options.Index().SetName("cache_key_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "fetchedAt", Value: 1}},
			Options: options.Index().SetName("fetched_at_ttl").SetExpireAfterSeconds(int32(s.ttl.Seconds())),
		},
	}
	if _, err := s.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo create indexes: %w", err)
	}
	return nil
}

// Find returns the unexpired entry for key.
func (s *MongoStore) Find(ctx context.Context, key domain.CacheKey, now time.Time) (*domain.CacheEntry, error) {
	filter := append(keyFilter(key), bson.E{Key: "expiresAt", Value: bson.M{"$gt": now}})

	var doc mongoEntry
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	return doc.toDomain(), nil
}

// Upsert replaces the document with the same key, inserting it when absent.
func (s *MongoStore) Upsert(ctx context.Context, entry *domain.CacheEntry) error {
	_, err := s.col.ReplaceOne(ctx, keyFilter(entry.Key), toMongoEntry(entry), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo upsert: %w", err)
	}
	return nil
}

// Delete removes the entries for molecule, or all entries when it is empty.
func (s *MongoStore) Delete(ctx context.Context, molecule string) (int64, error) {
	filter := bson.D{}
	if molecule != "" {
		filter = bson.D{{Key: "molecule", Value: molecule}}
	}
	res, err := s.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongo delete: %w", err)
	}
	return res.DeletedCount, nil
}

// Stats aggregates the entry count and total result count.
func (s *MongoStore) Stats(ctx context.Context) (*domain.CacheStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "entries", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$resultCount"}}},
		}}},
	}

	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo stats: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Entries int64 `bson:"entries"`
		Total   int64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("mongo stats decode: %w", err)
	}
	if len(rows) == 0 {
		return domain.NewCacheStats(0, 0), nil
	}
	return domain.NewCacheStats(rows[0].Entries, rows[0].Total), nil
}

// PurgeExpired deletes documents that expired at or before now. The TTL
// index usually gets there first.
func (s *MongoStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.D{{Key: "expiresAt", Value: bson.M{"$lte": now}}})
	if err != nil {
		return 0, fmt.Errorf("mongo purge: %w", err)
	}
	return res.DeletedCount, nil
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.col.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}
