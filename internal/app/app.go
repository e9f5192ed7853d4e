// Package app assembles the service from configuration. The server, the
// worker and the admin CLI share it so they see the same cache and upstream.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/cache"
	"github.com/helixir/compound-enrichment-service/internal/config"
	"github.com/helixir/compound-enrichment-service/internal/database"
	"github.com/helixir/compound-enrichment-service/internal/events"
	"github.com/helixir/compound-enrichment-service/internal/observability"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
	"github.com/helixir/compound-enrichment-service/internal/upstream"
	"github.com/helixir/compound-enrichment-service/internal/upstream/pubchem"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Cache    *cache.ResultCache
	Governor *upstream.Governor
	PubChem  *pubchem.Client
	Pipeline *pipeline.Pipeline

	closers []func() error
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.AddSource,
		TimeFormat: cfg.TimeFormat,
	})
}

// New connects the cache store and builds the upstream client and pipeline.
// Callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if cfg.Metrics.Enabled {
		a.Metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	store, closeStore, err := OpenCacheStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	a.Cache = cache.New(store, cache.Config{
		TTL:              cfg.Cache.TTL,
		MaxResultsCap:    cfg.Cache.MaxResultsCap,
		OperationTimeout: cfg.Cache.OperationTimeout,
	}, cache.WithLogger(logger), cache.WithMetrics(a.Metrics))

	a.Governor = upstream.NewGovernor(cfg.PubChem.Concurrency, a.Metrics)
	fetcher := upstream.NewFetcher(a.Governor, upstream.FetcherConfig{
		MaxAttempts:       cfg.PubChem.MaxAttempts,
		InitialBackoff:    cfg.PubChem.InitialBackoff,
		BackoffMultiplier: cfg.PubChem.BackoffMultiplier,
		MaxBackoff:        cfg.PubChem.MaxBackoff,
		RequestTimeout:    cfg.PubChem.RequestTimeout,
		UserAgent:         cfg.PubChem.UserAgent,
		RateLimit:         cfg.PubChem.RateLimit,
		Burst:             cfg.PubChem.Burst,
	}, upstream.WithLogger(logger), upstream.WithMetrics(a.Metrics))

	a.PubChem = pubchem.New(fetcher, pubchem.Config{
		BaseURL:              cfg.PubChem.BaseURL,
		ViewBaseURL:          cfg.PubChem.ViewBaseURL,
		BatchSize:            cfg.PubChem.BatchSize,
		MaxAssaysPerCompound: cfg.PubChem.MaxAssaysPerCompound,
		InterBatchDelay:      cfg.PubChem.InterBatchDelay,
	}, pubchem.WithLogger(logger))

	a.Pipeline = pipeline.New(a.PubChem, a.Cache, pipeline.Config{
		MechanismConcurrency: cfg.PubChem.MechanismConcurrency,
	}, pipeline.WithLogger(logger), pipeline.WithMetrics(a.Metrics))

	logger.Info().
		Str("cache_backend", cfg.Cache.Backend).
		Int("upstream_concurrency", a.Governor.Limit()).
		Bool("metrics", a.Metrics != nil).
		Msg("application components initialized")
	return a, nil
}

// OpenCacheStore connects the configured cache backend. A nil store with a
// nil error means caching is disabled. The returned closer may be nil.
func OpenCacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, func() error, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case config.CacheBackendPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if cfg.Database.MigrationAutoRun {
			if err := database.RunMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return cache.NewPgStore(db), func() error { db.Close(); return nil }, nil

	case config.CacheBackendMongo:
		client, err := cache.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		closer := func() error {
			dctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.ConnectTimeout)
			defer cancel()
			return client.Disconnect(dctx)
		}
		store := cache.NewMongoStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection), cfg.Cache.TTL)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = closer()
			return nil, nil, err
		}
		logger.Info().
			Str("database", cfg.Mongo.Database).
			Str("collection", cfg.Mongo.Collection).
			Msg("mongo cache store connected")
		return store, closer, nil

	case config.CacheBackendSQLite:
		store, err := cache.OpenSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLite.Path).Msg("sqlite cache store opened")
		return store, store.Close, nil

	case config.CacheBackendNone:
		logger.Warn().Msg("result cache disabled")
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("invalid cache backend: %s", cfg.Cache.Backend)
	}
}

// NewPublisher creates the Kafka event publisher.
func (a *App) NewPublisher() *events.Publisher {
	return events.NewPublisher(events.PublisherConfig{
		Brokers:            a.Config.Kafka.Brokers,
		SearchRequestTopic: a.Config.Kafka.SearchRequestTopic,
		SearchResultTopic:  a.Config.Kafka.SearchResultTopic,
		BatchTimeout:       a.Config.Kafka.BatchTimeout,
	}, a.Metrics, a.Logger)
}

// NewMetricsServer returns the Prometheus endpoint server, or nil when
// metrics are disabled.
func (a *App) NewMetricsServer() *http.Server {
	if a.Metrics == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, promhttp.Handler())
	return &http.Server{
		Addr:         a.Config.Server.MetricsAddress(),
		Handler:      mux,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.ReadTimeout,
	}
}

// Close releases the cache store connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
