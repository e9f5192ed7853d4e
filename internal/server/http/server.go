// Package httpserver provides the HTTP REST API for compound searches,
// mechanism lookups and cache administration.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
)

// Searcher runs compound searches and mechanism lookups.
type Searcher interface {
	Search(ctx context.Context, req pipeline.SearchRequest) []domain.AssayRecord
	FetchMechanism(ctx context.Context, nameOrID string) (*domain.MechanismResult, error)
	EnrichMechanisms(ctx context.Context, compounds []string) []*domain.MechanismResult
}

// CacheAdmin exposes result cache maintenance.
type CacheAdmin interface {
	Stats(ctx context.Context) (*domain.CacheStats, error)
	Clear(ctx context.Context, molecule string) (int64, error)
	Ping(ctx context.Context) error
}

// JobPublisher enqueues background searches.
type JobPublisher interface {
	PublishSearchRequested(ctx context.Context, event *domain.SearchRequested) error
}

// Dependencies are the collaborators behind the API. Jobs may be nil, in
// which case asynchronous searches are rejected.
type Dependencies struct {
	Searcher Searcher
	Cache    CacheAdmin
	Jobs     JobPublisher
}

// Server is the HTTP REST API server.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	searcher       Searcher
	cache          CacheAdmin
	jobs           JobPublisher
	validate       *validator.Validate
	allowedOrigins []string
	logger         zerolog.Logger
	authMiddleware func(http.Handler) http.Handler
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins enables CORS for the listed origins when non-empty.
	AllowedOrigins []string
}

// NewServer creates a new HTTP server. authMiddleware may be nil to serve
// the API without authentication.
func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger, authMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		searcher:       deps.Searcher,
		cache:          deps.Cache,
		jobs:           deps.Jobs,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger.With().Str("component", "http-server").Logger(),
		authMiddleware: authMiddleware,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Correlation-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(correlationIDMiddleware)
	r.Use(accessLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/pubchem", func(r chi.Router) {
		if s.authMiddleware != nil {
			r.Use(s.authMiddleware)
		}

		r.Post("/search", s.searchCompound)
		r.Post("/mechanism", s.fetchMechanism)
		r.Get("/cache/stats", s.cacheStats)
		r.Delete("/cache/clear", s.clearCache)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports liveness only.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler checks that the cache store answers.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		if err := s.cache.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"cache":  "unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"cache":  "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
