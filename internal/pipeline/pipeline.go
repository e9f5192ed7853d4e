// Package pipeline orchestrates a compound search: cache lookup, compound
// resolution, assay id collection, batched record fetching and caching.
//
// Search never fails from the caller's point of view. Upstream faults,
// cancelled contexts and panics all degrade to an empty result and are
// visible only in logs and metrics.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// Search outcomes reported to metrics.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeNotFound = "not_found"
	OutcomeNoAssays = "no_assays"
	OutcomeFetched  = "fetched"
	OutcomeFailed   = "failed"
)

// Mechanism lookup outcomes reported to metrics.
const (
	MechanismFound    = "found"
	MechanismNoData   = "no_data"
	MechanismNotFound = "not_found"
	MechanismError    = "error"
)

// DefaultMechanismConcurrency bounds parallel compounds in EnrichMechanisms.
const DefaultMechanismConcurrency = 4

// Upstream is the compound database the pipeline reads from.
type Upstream interface {
	Resolve(ctx context.Context, nameOrID string) (*domain.CompoundRecord, error)
	ListAssayIDs(ctx context.Context, cid int64) ([]int64, error)
	FetchRecords(ctx context.Context, ids []int64, compound domain.CompoundRecord, bioassayFilter, targetClass string, limit int) ([]domain.AssayRecord, error)
	FetchMechanism(ctx context.Context, nameOrID string) (*domain.MechanismResult, error)
}

// Cache stores search results. Implementations must not fail: a read
// problem is a miss and a write problem is dropped.
type Cache interface {
	Get(ctx context.Context, molecule, bioassayFilter, targetClass string, maxResults int) ([]domain.AssayRecord, bool)
	Put(ctx context.Context, molecule, bioassayFilter, targetClass string, maxResults int, records []domain.AssayRecord, meta domain.CompoundMetadata)
}

// SearchRequest holds the parameters of one search.
type SearchRequest struct {
	Molecule       string
	BioassayFilter string
	TargetClass    string
	MaxResults     int
}

func (r SearchRequest) withDefaults() SearchRequest {
	r.Molecule = strings.TrimSpace(r.Molecule)
	if strings.TrimSpace(r.BioassayFilter) == "" {
		r.BioassayFilter = domain.BioassayAny
	}
	if r.MaxResults <= 0 {
		r.MaxResults = domain.DefaultMaxResults
	}
	return r
}

// Config configures a Pipeline.
type Config struct {
	MechanismConcurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With().Str("component", "pubchem_pipeline").Logger() }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock replaces time.Now for duration measurement.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline runs compound searches and mechanism lookups.
type Pipeline struct {
	upstream             Upstream
	cache                Cache
	mechanismConcurrency int
	now                  func() time.Time
	logger               zerolog.Logger
	metrics              *observability.Metrics
}

// New creates a Pipeline. cache may be nil to disable caching.
func New(upstream Upstream, cache Cache, cfg Config, opts ...Option) *Pipeline {
	if cfg.MechanismConcurrency <= 0 {
		cfg.MechanismConcurrency = DefaultMechanismConcurrency
	}
	if cache == nil {
		cache = noCache{}
	}
	p := &Pipeline{
		upstream:             upstream,
		cache:                cache,
		mechanismConcurrency: cfg.MechanismConcurrency,
		now:                  time.Now,
		logger:               zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Search returns the assay records for req, serving from cache when
// possible. The result is never nil.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (records []domain.AssayRecord) {
	req = req.withDefaults()
	start := p.now()
	logger := observability.WithSearchContext(observability.WithRequestContext(ctx, p.logger),
		req.Molecule, req.BioassayFilter, req.TargetClass, req.MaxResults)
	outcome := OutcomeFailed

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("search panicked")
			records, outcome = nil, OutcomeFailed
		}
		if records == nil {
			records = []domain.AssayRecord{}
		}
		p.metrics.RecordSearch(outcome, len(records), p.now().Sub(start).Seconds())
	}()

	if req.Molecule == "" {
		logger.Warn().Msg("search without molecule")
		return nil
	}

	if cached, ok := p.cache.Get(ctx, req.Molecule, req.BioassayFilter, req.TargetClass, req.MaxResults); ok {
		outcome = OutcomeCacheHit
		logger.Debug().Int("records", len(cached)).Msg("cache hit")
		return cached
	}

	records, outcome, err := p.fetch(ctx, req, start, logger)
	if err != nil {
		logger.Error().Err(err).Msg("search failed, returning no results")
		return nil
	}
	logger.Info().
		Str("outcome", outcome).
		Int("records", len(records)).
		Dur("elapsed", p.now().Sub(start)).
		Msg("search completed")
	return records
}

// fetch runs the uncached path. Failures are returned uncached.
func (p *Pipeline) fetch(ctx context.Context, req SearchRequest, start time.Time, logger zerolog.Logger) ([]domain.AssayRecord, string, error) {
	compound, err := p.upstream.Resolve(ctx, req.Molecule)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("resolve compound: %w", err)
	}
	if compound == nil {
		logger.Info().Msg("compound not found")
		p.store(ctx, req, nil, domain.CompoundMetadata{SearchDuration: p.now().Sub(start)})
		return nil, OutcomeNotFound, nil
	}
	logger = observability.WithCompoundContext(logger, compound.ID, compound.Name)

	ids, err := p.upstream.ListAssayIDs(ctx, compound.ID)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("list assay ids: %w", err)
	}

	meta := domain.CompoundMetadataFrom(compound)
	meta.TotalAssaysFound = len(ids)
	if len(ids) == 0 {
		logger.Info().Msg("compound has no assays")
		meta.SearchDuration = p.now().Sub(start)
		p.store(ctx, req, nil, meta)
		return nil, OutcomeNoAssays, nil
	}

	records, err := p.upstream.FetchRecords(ctx, ids, *compound, req.BioassayFilter, req.TargetClass, req.MaxResults)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("fetch assay records: %w", err)
	}

	meta.SearchDuration = p.now().Sub(start)
	p.store(ctx, req, records, meta)
	return records, OutcomeFetched, nil
}

func (p *Pipeline) store(ctx context.Context, req SearchRequest, records []domain.AssayRecord, meta domain.CompoundMetadata) {
	if records == nil {
		records = []domain.AssayRecord{}
	}
	p.cache.Put(ctx, req.Molecule, req.BioassayFilter, req.TargetClass, req.MaxResults, records, meta)
}

// FetchMechanism looks up the mechanism of action for a compound name or id.
// The error is non-nil only for transport failures that exhausted retries.
func (p *Pipeline) FetchMechanism(ctx context.Context, nameOrID string) (result *domain.MechanismResult, err error) {
	query := strings.TrimSpace(nameOrID)
	if query == "" {
		return nil, domain.NewValidationError("compound", "is required")
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("compound", query).Msg("mechanism lookup panicked")
			result, err = nil, fmt.Errorf("%w: mechanism lookup for %q", domain.ErrInternalError, query)
		}
		p.metrics.RecordMechanismLookup(mechanismOutcome(result, err))
	}()

	result, err = p.upstream.FetchMechanism(ctx, query)
	if err != nil {
		p.logger.Warn().Err(err).Str("compound", query).Msg("mechanism lookup failed")
		return nil, fmt.Errorf("fetch mechanism for %q: %w", query, err)
	}
	return result, nil
}

// EnrichMechanisms looks up several compounds in parallel, bounded by the
// configured concurrency. Results keep the input order; a failed lookup is
// reported as an unsuccessful result rather than an error.
func (p *Pipeline) EnrichMechanisms(ctx context.Context, compounds []string) []*domain.MechanismResult {
	results := make([]*domain.MechanismResult, len(compounds))

	var g errgroup.Group
	g.SetLimit(p.mechanismConcurrency)
	for i, name := range compounds {
		g.Go(func() error {
			result, err := p.FetchMechanism(ctx, name)
			if err != nil {
				result = domain.NewMechanismFailure(strings.TrimSpace(name), err.Error())
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func mechanismOutcome(result *domain.MechanismResult, err error) string {
	switch {
	case err != nil || result == nil:
		return MechanismError
	case !result.Success:
		return MechanismNotFound
	case result.HasData:
		return MechanismFound
	default:
		return MechanismNoData
	}
}

type noCache struct{}

func (noCache) Get(context.Context, string, string, string, int) ([]domain.AssayRecord, bool) {
	return nil, false
}

func (noCache) Put(context.Context, string, string, string, int, []domain.AssayRecord, domain.CompoundMetadata) {
}
