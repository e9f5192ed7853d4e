// Package cache persists compound search results so repeated searches skip
// the upstream API.
//
// ResultCache is best-effort: read and write failures are logged and
// counted, and callers observe them as misses. Administrative operations
// (Clear, Stats, PurgeExpired) do return errors. Storage is pluggable through
// the Store interface with PostgreSQL, MongoDB and SQLite implementations.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
)

const (
	// DefaultTTL is how long an entry stays valid.
	DefaultTTL = 30 * 24 * time.Hour
	// DefaultOperationTimeout bounds a single store call.
	DefaultOperationTimeout = 5 * time.Second
)

// Cache operation labels.
const (
	opGet   = "get"
	opPut   = "put"
	opClear = "clear"
	opPurge = "purge"
)

// Store is the persistence layer behind ResultCache. Implementations must
// make Upsert an atomic overwrite of the entry for the same key.
type Store interface {
	// Find returns the unexpired entry for key, or nil when none exists.
	Find(ctx context.Context, key domain.CacheKey, now time.Time) (*domain.CacheEntry, error)
	// Upsert stores entry, replacing any entry with the same key.
	Upsert(ctx context.Context, entry *domain.CacheEntry) error
	// Delete removes every entry for molecule, or all entries when molecule is empty.
	Delete(ctx context.Context, molecule string) (int64, error)
	// Stats counts entries and their result counts.
	Stats(ctx context.Context) (*domain.CacheStats, error)
	// PurgeExpired removes entries that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Config configures a ResultCache.
type Config struct {
	TTL              time.Duration
	MaxResultsCap    int
	OperationTimeout time.Duration
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithLogger sets the cache logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *ResultCache) { c.logger = l.With().Str("component", "result_cache").Logger() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *ResultCache) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// ResultCache stores search results keyed by the normalized search signature.
// A nil store disables caching: every Get misses and Put is a no-op.
type ResultCache struct {
	store     Store
	ttl       time.Duration
	ceiling   int
	opTimeout time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a ResultCache on top of store.
func New(store Store, cfg Config, opts ...Option) *ResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxResultsCap <= 0 {
		cfg.MaxResultsCap = domain.DefaultMaxResultsCeiling
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	c := &ResultCache{
		store:     store,
		ttl:       cfg.TTL,
		ceiling:   cfg.MaxResultsCap,
		opTimeout: cfg.OperationTimeout,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeKey builds the cache key with the default cap ceiling.
func NormalizeKey(molecule, bioassayFilter, targetClass string, maxResults int) domain.CacheKey {
	return domain.NewCacheKey(molecule, bioassayFilter, targetClass, maxResults, domain.DefaultMaxResultsCeiling)
}

// Key builds the cache key with this cache's cap ceiling.
func (c *ResultCache) Key(molecule, bioassayFilter, targetClass string, maxResults int) domain.CacheKey {
	return domain.NewCacheKey(molecule, bioassayFilter, targetClass, maxResults, c.ceiling)
}

// Enabled reports whether a store is configured.
func (c *ResultCache) Enabled() bool {
	return c.store != nil
}

// Get returns the cached records for the search. ok is false on a miss or
// when the store failed; an entry stored without records yields an empty,
// non-nil slice with ok true.
func (c *ResultCache) Get(ctx context.Context, molecule, bioassayFilter, targetClass string, maxResults int) (records []domain.AssayRecord, ok bool) {
	if c.store == nil {
		return nil, false
	}
	key := c.Key(molecule, bioassayFilter, targetClass, maxResults)

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	var entry *domain.CacheEntry
	err := guard(func() error {
		var findErr error
		entry, findErr = c.store.Find(ctx, key, c.now())
		return findErr
	})
	if err != nil {
		c.logKey(c.logger.Warn().Err(err), key).Msg("cache read failed, treating as miss")
		c.metrics.RecordCacheOperation(opGet, "error")
		return nil, false
	}
	if entry == nil {
		c.metrics.RecordCacheOperation(opGet, "miss")
		return nil, false
	}

	c.metrics.RecordCacheOperation(opGet, "hit")
	if entry.Records == nil {
		return []domain.AssayRecord{}, true
	}
	return entry.Records, true
}

// Put stores records for the search, replacing any previous entry. Records
// beyond the key's cap are not stored; ResultCount keeps the full length.
// Failures are logged and otherwise ignored.
func (c *ResultCache) Put(ctx context.Context, molecule, bioassayFilter, targetClass string, maxResults int, records []domain.AssayRecord, meta domain.CompoundMetadata) {
	if c.store == nil {
		return
	}
	key := c.Key(molecule, bioassayFilter, targetClass, maxResults)

	stored := make([]domain.AssayRecord, 0, min(len(records), key.MaxResults))
	stored = append(stored, records[:min(len(records), key.MaxResults)]...)

	now := c.now().UTC()
	entry := &domain.CacheEntry{
		Key:         key,
		Compound:    meta,
		Records:     stored,
		ResultCount: len(records),
		FetchedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}

	// The write outlives a cancelled caller.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opTimeout)
	defer cancel()

	if err := guard(func() error { return c.store.Upsert(ctx, entry) }); err != nil {
		c.logKey(c.logger.Warn().Err(err), key).Msg("cache write failed")
		c.metrics.RecordCacheOperation(opPut, "error")
		return
	}
	c.metrics.RecordCacheOperation(opPut, "ok")
	c.logKey(c.logger.Debug(), key).Int("stored", len(stored)).Int("result_count", entry.ResultCount).Msg("cached search result")
}

// Clear deletes the entries for molecule, or every entry when molecule is
// blank, and returns how many were removed.
func (c *ResultCache) Clear(ctx context.Context, molecule string) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	normalized := domain.NormalizeMolecule(molecule)
	deleted, err := c.store.Delete(ctx, normalized)
	if err != nil {
		c.metrics.RecordCacheOperation(opClear, "error")
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	c.metrics.RecordCacheOperation(opClear, "ok")
	c.logger.Info().Str("molecule", normalized).Int64("deleted", deleted).Msg("cache cleared")
	return deleted, nil
}

// Stats reports entry and result totals.
func (c *ResultCache) Stats(ctx context.Context) (*domain.CacheStats, error) {
	if c.store == nil {
		return domain.NewCacheStats(0, 0), nil
	}
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// PurgeExpired deletes entries past their expiry.
func (c *ResultCache) PurgeExpired(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	purged, err := c.store.PurgeExpired(ctx, c.now().UTC())
	if err != nil {
		c.metrics.RecordCacheOperation(opPurge, "error")
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	c.metrics.RecordCacheOperation(opPurge, "ok")
	return purged, nil
}

// Ping checks the backing store.
func (c *ResultCache) Ping(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Ping(ctx)
}

// RunJanitor purges expired entries every interval until ctx is done.
func (c *ResultCache) RunJanitor(ctx context.Context, interval time.Duration) {
	if c.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := c.PurgeExpired(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Msg("cache purge failed")
				continue
			}
			if purged > 0 {
				c.logger.Info().Int64("purged", purged).Msg("purged expired cache entries")
			}
		}
	}
}

func (c *ResultCache) logKey(e *zerolog.Event, key domain.CacheKey) *zerolog.Event {
	return e.Str("molecule", key.Molecule).
		Str("bioassay_filter", key.BioassayFilter).
		Str("target_class", key.TargetClass).
		Int("max_results", key.MaxResults)
}

// guard converts a panic inside fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: store panic: %v", domain.ErrCacheUnavailable, r)
		}
	}()
	return fn()
}
