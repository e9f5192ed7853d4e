package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// fakeUpstream lets each test override one step and counts calls.
type fakeUpstream struct {
	resolve   func(ctx context.Context, nameOrID string) (*domain.CompoundRecord, error)
	listIDs   func(ctx context.Context, cid int64) ([]int64, error)
	fetch     func(ctx context.Context, ids []int64, c domain.CompoundRecord, filter, target string, limit int) ([]domain.AssayRecord, error)
	mechanism func(ctx context.Context, nameOrID string) (*domain.MechanismResult, error)

	calls atomic.Int64
}

func (f *fakeUpstream) Resolve(ctx context.Context, nameOrID string) (*domain.CompoundRecord, error) {
	f.calls.Add(1)
	if f.resolve != nil {
		return f.resolve(ctx, nameOrID)
	}
	return &domain.CompoundRecord{ID: 2244, Name: "aspirin", StructureString: "CC(=O)OC1=CC=CC=C1C(=O)O"}, nil
}

func (f *fakeUpstream) ListAssayIDs(ctx context.Context, cid int64) ([]int64, error) {
	f.calls.Add(1)
	if f.listIDs != nil {
		return f.listIDs(ctx, cid)
	}
	return []int64{1, 2, 3}, nil
}

func (f *fakeUpstream) FetchRecords(ctx context.Context, ids []int64, c domain.CompoundRecord, filter, target string, limit int) ([]domain.AssayRecord, error) {
	f.calls.Add(1)
	if f.fetch != nil {
		return f.fetch(ctx, ids, c, filter, target, limit)
	}
	records := make([]domain.AssayRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, domain.NewAssayRecord(c, id, fmt.Sprintf("assay %d", id), "Screening", domain.CategoryScreening, ""))
	}
	return records, nil
}

func (f *fakeUpstream) FetchMechanism(ctx context.Context, nameOrID string) (*domain.MechanismResult, error) {
	f.calls.Add(1)
	if f.mechanism != nil {
		return f.mechanism(ctx, nameOrID)
	}
	text := "Inhibits COX-1."
	return &domain.MechanismResult{Query: nameOrID, Success: true, Mechanism: &text, HasData: true}, nil
}

type cachedSearch struct {
	records []domain.AssayRecord
	meta    domain.CompoundMetadata
}

// fakeCache keys entries the way the real cache does.
type fakeCache struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]cachedSearch
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[domain.CacheKey]cachedSearch)}
}

func (c *fakeCache) key(molecule, filter, target string, maxResults int) domain.CacheKey {
	return domain.NewCacheKey(molecule, filter, target, maxResults, domain.DefaultMaxResultsCeiling)
}

func (c *fakeCache) Get(_ context.Context, molecule, filter, target string, maxResults int) ([]domain.AssayRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(molecule, filter, target, maxResults)]
	return e.records, ok
}

func (c *fakeCache) Put(_ context.Context, molecule, filter, target string, maxResults int, records []domain.AssayRecord, meta domain.CompoundMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(molecule, filter, target, maxResults)] = cachedSearch{records: records, meta: meta}
	c.puts++
}

func (c *fakeCache) entry(molecule string) (cachedSearch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(molecule, "", "", 0)]
	return e, ok
}

func TestPipeline_Search_FetchesAndCaches(t *testing.T) {
	up := &fakeUpstream{}
	cache := newFakeCache()
	p := New(up, cache, Config{})
	ctx := context.Background()

	records := p.Search(ctx, SearchRequest{Molecule: "Aspirin"})
	require.Len(t, records, 3)
	assert.Equal(t, int64(2244), records[0].CompoundID)
	assert.Equal(t, int64(3), up.calls.Load())

	entry, ok := cache.entry("aspirin")
	require.True(t, ok)
	assert.Len(t, entry.records, 3)
	assert.Equal(t, int64(2244), entry.meta.CompoundID)
	assert.Equal(t, "aspirin", entry.meta.Name)
	assert.Equal(t, 3, entry.meta.TotalAssaysFound)

	again := p.Search(ctx, SearchRequest{Molecule: " ASPIRIN "})
	assert.Equal(t, records, again)
	assert.Equal(t, int64(3), up.calls.Load(), "cache hit must not call upstream")
}

func TestPipeline_Search_AppliesDefaults(t *testing.T) {
	var gotFilter string
	var gotLimit int
	up := &fakeUpstream{
		fetch: func(_ context.Context, _ []int64, _ domain.CompoundRecord, filter, _ string, limit int) ([]domain.AssayRecord, error) {
			gotFilter, gotLimit = filter, limit
			return []domain.AssayRecord{}, nil
		},
	}

	New(up, nil, Config{}).Search(context.Background(), SearchRequest{Molecule: "caffeine"})
	assert.Equal(t, domain.BioassayAny, gotFilter)
	assert.Equal(t, domain.DefaultMaxResults, gotLimit)
}

func TestPipeline_Search_NegativeCaching(t *testing.T) {
	up := &fakeUpstream{
		resolve: func(context.Context, string) (*domain.CompoundRecord, error) { return nil, nil },
	}
	cache := newFakeCache()
	p := New(up, cache, Config{})
	ctx := context.Background()

	first := p.Search(ctx, SearchRequest{Molecule: "nonexistent-molecule-xyz"})
	assert.NotNil(t, first)
	assert.Empty(t, first)
	callsAfterFirst := up.calls.Load()
	assert.Equal(t, int64(1), callsAfterFirst)

	second := p.Search(ctx, SearchRequest{Molecule: "nonexistent-molecule-xyz"})
	assert.NotNil(t, second)
	assert.Empty(t, second)
	assert.Equal(t, callsAfterFirst, up.calls.Load())
	assert.Equal(t, 1, cache.puts)
}

func TestPipeline_Search_NoAssaysCachesMetadata(t *testing.T) {
	up := &fakeUpstream{
		listIDs: func(context.Context, int64) ([]int64, error) { return []int64{}, nil },
	}
	cache := newFakeCache()

	records := New(up, cache, Config{}).Search(context.Background(), SearchRequest{Molecule: "aspirin"})
	assert.Empty(t, records)

	entry, ok := cache.entry("aspirin")
	require.True(t, ok)
	assert.NotNil(t, entry.records)
	assert.Empty(t, entry.records)
	assert.Equal(t, int64(2244), entry.meta.CompoundID)
	assert.Equal(t, 0, entry.meta.TotalAssaysFound)
	assert.Equal(t, int64(2), up.calls.Load(), "record fetch must be skipped")
}

func TestPipeline_Search_NeverFails(t *testing.T) {
	boom := errors.New("upstream exhausted retries")

	tests := []struct {
		name string
		up   *fakeUpstream
	}{
		{
			name: "resolver error",
			up: &fakeUpstream{resolve: func(context.Context, string) (*domain.CompoundRecord, error) {
				return nil, boom
			}},
		},
		{
			name: "assay id collector error",
			up: &fakeUpstream{listIDs: func(context.Context, int64) ([]int64, error) {
				return nil, boom
			}},
		},
		{
			name: "record fetcher error",
			up: &fakeUpstream{fetch: func(context.Context, []int64, domain.CompoundRecord, string, string, int) ([]domain.AssayRecord, error) {
				return nil, boom
			}},
		},
		{
			name: "resolver panic",
			up: &fakeUpstream{resolve: func(context.Context, string) (*domain.CompoundRecord, error) {
				panic("nil map write")
			}},
		},
		{
			name: "record fetcher panic",
			up: &fakeUpstream{fetch: func(context.Context, []int64, domain.CompoundRecord, string, string, int) ([]domain.AssayRecord, error) {
				panic("index out of range")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newFakeCache()
			p := New(tt.up, cache, Config{})

			var records []domain.AssayRecord
			require.NotPanics(t, func() {
				records = p.Search(context.Background(), SearchRequest{Molecule: "aspirin"})
			})
			assert.NotNil(t, records)
			assert.Empty(t, records)
			assert.Zero(t, cache.puts, "failures must not be cached")
		})
	}
}

func TestPipeline_Search_CancelledContext(t *testing.T) {
	up := &fakeUpstream{
		resolve: func(ctx context.Context, _ string) (*domain.CompoundRecord, error) {
			return nil, ctx.Err()
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := New(up, nil, Config{}).Search(ctx, SearchRequest{Molecule: "aspirin"})
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestPipeline_Search_EmptyMolecule(t *testing.T) {
	up := &fakeUpstream{}

	records := New(up, nil, Config{}).Search(context.Background(), SearchRequest{Molecule: "   "})
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Zero(t, up.calls.Load())
}

func TestPipeline_Search_Metrics(t *testing.T) {
	metrics := observability.NewMetrics("test_pipeline_search")
	up := &fakeUpstream{}
	p := New(up, newFakeCache(), Config{}, WithMetrics(metrics))
	ctx := context.Background()

	p.Search(ctx, SearchRequest{Molecule: "aspirin"})
	p.Search(ctx, SearchRequest{Molecule: "aspirin"})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues(OutcomeFetched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues(OutcomeCacheHit)))
}

func TestPipeline_Search_RecordsDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(250 * time.Millisecond)
		return now
	}
	cache := newFakeCache()

	New(&fakeUpstream{}, cache, Config{}, WithClock(clock)).Search(context.Background(), SearchRequest{Molecule: "aspirin"})

	entry, ok := cache.entry("aspirin")
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, entry.meta.SearchDuration)
}

func TestPipeline_FetchMechanism(t *testing.T) {
	t.Run("passes through results", func(t *testing.T) {
		p := New(&fakeUpstream{}, nil, Config{})

		result, err := p.FetchMechanism(context.Background(), " aspirin ")
		require.NoError(t, err)
		assert.True(t, result.HasData)
		assert.Equal(t, "aspirin", result.Query)
	})

	t.Run("rejects blank input", func(t *testing.T) {
		_, err := New(&fakeUpstream{}, nil, Config{}).FetchMechanism(context.Background(), " ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		up := &fakeUpstream{mechanism: func(context.Context, string) (*domain.MechanismResult, error) {
			return nil, domain.ErrServiceUnavailable
		}}

		_, err := New(up, nil, Config{}).FetchMechanism(context.Background(), "aspirin")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
	})

	t.Run("recovers panics", func(t *testing.T) {
		up := &fakeUpstream{mechanism: func(context.Context, string) (*domain.MechanismResult, error) {
			panic("unexpected shape")
		}}

		_, err := New(up, nil, Config{}).FetchMechanism(context.Background(), "aspirin")
		assert.True(t, errors.Is(err, domain.ErrInternalError))
	})
}

func TestPipeline_EnrichMechanisms(t *testing.T) {
	var running, peak atomic.Int64
	up := &fakeUpstream{mechanism: func(_ context.Context, name string) (*domain.MechanismResult, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		switch name {
		case "unobtainium":
			return domain.NewMechanismFailure(name, "compound not found"), nil
		case "timeout":
			return nil, errors.New("request timed out after 4 attempts")
		}
		text := "mechanism of " + name
		return &domain.MechanismResult{Query: name, Success: true, Mechanism: &text, HasData: true}, nil
	}}
	metrics := observability.NewMetrics("test_pipeline_enrich")
	p := New(up, nil, Config{MechanismConcurrency: 2}, WithMetrics(metrics))

	names := []string{"aspirin", "unobtainium", "caffeine", "timeout", "ibuprofen"}
	results := p.EnrichMechanisms(context.Background(), names)

	require.Len(t, results, len(names))
	for i, name := range names {
		require.NotNil(t, results[i], name)
		assert.Equal(t, name, results[i].Query)
	}
	assert.True(t, results[0].HasData)
	assert.False(t, results[1].Success)
	assert.False(t, results[3].Success)
	assert.Contains(t, results[3].Error, "timed out")
	assert.LessOrEqual(t, peak.Load(), int64(2))

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.MechanismLookups.WithLabelValues(MechanismFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MechanismLookups.WithLabelValues(MechanismNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MechanismLookups.WithLabelValues(MechanismError)))
}

func TestPipeline_EnrichMechanisms_Empty(t *testing.T) {
	results := New(&fakeUpstream{}, nil, Config{}).EnrichMechanisms(context.Background(), nil)
	assert.Empty(t, results)
}
