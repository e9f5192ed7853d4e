package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/observability"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxMoleculeLength  = 256
)

// searchRequest is the JSON request body for a compound search.
type searchRequest struct {
	Molecule    string `json:"molecule" validate:"required,max=256"`
	Bioassay    string `json:"bioassay" validate:"omitempty,oneof=Any Screening Confirmatory Summary Other Unknown"`
	TargetClass string `json:"target_class" validate:"max=256"`
	MaxResults  int    `json:"max_results" validate:"omitempty,min=1,max=10000"`
	Async       bool   `json:"async"`
}

// mechanismRequest is the JSON request body for a mechanism lookup. Exactly
// one of Compound and Compounds is set.
type mechanismRequest struct {
	Compound  string   `json:"compound" validate:"max=256"`
	Compounds []string `json:"compounds" validate:"max=50,dive,required,max=256"`
}

// searchCompound handles POST /search. Synchronous searches return the
// records; asynchronous ones are queued and answered with 202.
func (s *Server) searchCompound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Molecule = strings.TrimSpace(req.Molecule)
	req.Bioassay = strings.TrimSpace(req.Bioassay)
	req.TargetClass = strings.TrimSpace(req.TargetClass)
	if !s.validateBody(w, &req) {
		return
	}

	search := pipeline.SearchRequest{
		Molecule:       req.Molecule,
		BioassayFilter: req.Bioassay,
		TargetClass:    req.TargetClass,
		MaxResults:     req.MaxResults,
	}
	if search.BioassayFilter == "" {
		search.BioassayFilter = domain.BioassayAny
	}
	if search.MaxResults == 0 {
		search.MaxResults = domain.DefaultMaxResults
	}

	if req.Async {
		s.queueSearch(w, r, search)
		return
	}

	records := s.searcher.Search(ctx, search)
	writeJSON(w, http.StatusOK, searchResponse{
		Molecule: req.Molecule,
		Count:    len(records),
		Results:  records,
	})
}

func (s *Server) queueSearch(w http.ResponseWriter, r *http.Request, search pipeline.SearchRequest) {
	ctx := r.Context()
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "asynchronous search is not enabled")
		return
	}

	// Results are delivered by email, so a job needs a recipient.
	email := observability.UserEmailFromContext(ctx)
	if email == "" {
		if s.authMiddleware != nil {
			writeError(w, http.StatusUnauthorized, "asynchronous search requires an email claim")
			return
		}
		writeError(w, http.StatusBadRequest, "asynchronous search requires authentication")
		return
	}

	event := domain.NewSearchRequested(email,
		search.Molecule, search.BioassayFilter, search.TargetClass, search.MaxResults)
	logger := observability.WithRequestContext(ctx, s.logger)
	if err := s.jobs.PublishSearchRequested(ctx, event); err != nil {
		logger.Error().Err(err).
			Str("job_id", event.JobID).
			Msg("failed to queue search job")
		writeDomainError(w, fmt.Errorf("%w: queue search job", domain.ErrServiceUnavailable))
		return
	}

	logger.Info().
		Str("job_id", event.JobID).
		Str("molecule", event.Molecule).
		Msg("search job queued")
	writeJSON(w, http.StatusAccepted, newAsyncSearchResponse(event))
}

// fetchMechanism handles POST /mechanism for one compound or a list.
func (s *Server) fetchMechanism(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req mechanismRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	req.Compound = strings.TrimSpace(req.Compound)
	for i := range req.Compounds {
		req.Compounds[i] = strings.TrimSpace(req.Compounds[i])
	}
	if !s.validateBody(w, &req) {
		return
	}

	switch {
	case req.Compound != "" && len(req.Compounds) > 0:
		writeError(w, http.StatusBadRequest, "specify either compound or compounds, not both")
	case len(req.Compounds) > 0:
		writeJSON(w, http.StatusOK, mechanismListResponse{
			Results: s.searcher.EnrichMechanisms(ctx, req.Compounds),
		})
	case req.Compound != "":
		result, err := s.searcher.FetchMechanism(ctx, req.Compound)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				writeDomainError(w, err)
				return
			}
			writeError(w, http.StatusBadGateway, "PubChem request failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusBadRequest, "compound is required")
	}
}

// cacheStats handles GET /cache/stats.
func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		logger := observability.WithRequestContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("failed to read cache stats")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// clearCache handles DELETE /cache/clear. Without a molecule parameter the
// whole cache is emptied.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	molecule := strings.TrimSpace(r.URL.Query().Get("molecule"))
	if len(molecule) > maxMoleculeLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("molecule must be at most %d characters", maxMoleculeLength))
		return
	}

	logger := observability.WithRequestContext(r.Context(), s.logger)
	deleted, err := s.cache.Clear(r.Context(), molecule)
	if err != nil {
		logger.Error().Err(err).Msg("failed to clear cache")
		writeDomainError(w, err)
		return
	}

	logger.Info().
		Str("molecule", molecule).
		Int64("deleted", deleted).
		Msg("cache cleared")
	writeJSON(w, http.StatusOK, clearCacheResponse{Deleted: deleted, Molecule: molecule})
}

// decodeBody reads a size-limited JSON body into dst, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// validateBody runs struct validation, writing the first failure as a 400.
func (s *Server) validateBody(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		writeError(w, http.StatusBadRequest, validationMessage(verrs[0]))
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid input")
	return false
}

// validationMessage renders a field error without echoing the input value.
func validationMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
		}
		if fe.Kind() == reflect.Int {
			return fmt.Sprintf("%s must be at most %s", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return field + " is invalid"
	}
}

var jsonFieldNames = map[string]string{
	"Molecule":    "molecule",
	"Bioassay":    "bioassay",
	"TargetClass": "target_class",
	"MaxResults":  "max_results",
	"Compound":    "compound",
	"Compounds":   "compounds",
}

func jsonFieldName(fe validator.FieldError) string {
	if name, ok := jsonFieldNames[fe.StructField()]; ok {
		return name
	}
	return strings.ToLower(fe.Field())
}

// writeDomainError maps domain errors to HTTP status codes and writes a
// generic message that never includes internal error text.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Field+" "+ve.Message)
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrCacheUnavailable):
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
