package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/pipeline"
)

// TestInjectionPayloads_MoleculeField verifies that hostile molecule strings
// reach the pipeline verbatim and never produce a 500.
func TestInjectionPayloads_MoleculeField(t *testing.T) {
	payloads := []struct {
		name     string
		molecule string
	}{
		{"drop table", "'; DROP TABLE compound_cache; --"},
		{"boolean tautology", "1 OR 1=1"},
		{"union select", "' UNION SELECT * FROM compound_cache --"},
		{"mongo operator", `{"$gt": ""}`},
		{"path traversal", "../../etc/passwd"},
		{"url metacharacters", "aspirin?cids=1&x=/JSON#frag"},
		{"smiles with slashes", "C/C=C/C(=O)O"},
	}

	for _, tc := range payloads {
		t.Run(tc.name, func(t *testing.T) {
			var got pipeline.SearchRequest
			searcher := &mockSearcher{
				searchFn: func(_ context.Context, req pipeline.SearchRequest) []domain.AssayRecord {
					got = req
					return []domain.AssayRecord{}
				},
			}
			srv := newTestHTTPServer(searcher, &mockCache{}, nil)

			body, _ := json.Marshal(map[string]string{"molecule": tc.molecule})
			rr := serveHTTP(srv, postJSON("/api/v1/pubchem/search", string(body)))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got.Molecule != tc.molecule {
				t.Errorf("expected molecule passed verbatim, got %q", got.Molecule)
			}
		})
	}
}

// TestXSSPayload_NotReflectedRaw checks that markup in the molecule field is
// escaped when echoed back.
func TestXSSPayload_NotReflectedRaw(t *testing.T) {
	srv := newTestHTTPServer(&mockSearcher{}, &mockCache{}, nil)

	payload := `<script>alert("x")</script>`
	body, _ := json.Marshal(map[string]string{"molecule": payload})
	rr := serveHTTP(srv, postJSON("/api/v1/pubchem/search", string(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "<script>") {
		t.Errorf("response reflects raw markup: %s", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

// TestValidationErrors_DoNotEchoInput ensures rejected values are not
// reflected in the error body.
func TestValidationErrors_DoNotEchoInput(t *testing.T) {
	srv := newTestHTTPServer(&mockSearcher{}, &mockCache{}, nil)

	payload := "<img src=x onerror=alert(1)>"
	body, _ := json.Marshal(map[string]string{"molecule": "aspirin", "bioassay": payload})
	rr := serveHTTP(srv, postJSON("/api/v1/pubchem/search", string(body)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "onerror") {
		t.Errorf("error body echoes input: %s", rr.Body.String())
	}
}

func TestRequestBodySizeLimit(t *testing.T) {
	srv := newTestHTTPServer(&mockSearcher{}, &mockCache{}, nil)

	oversized := `{"molecule":"` + strings.Repeat("C", maxRequestBodySize) + `"}`
	rr := serveHTTP(srv, postJSON("/api/v1/pubchem/search", oversized))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for truncated body, got %d", rr.Code)
	}
}

// TestWriteDomainError_NeverLeaksInternalDetails ensures that writeDomainError
// maps errors to generic responses and never reflects internal error text.
func TestWriteDomainError_NeverLeaksInternalDetails(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "generic error with DB details",
			err:            fmt.Errorf("FATAL: password authentication failed for user \"admin\""),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "internal server error",
		},
		{
			name:           "cache store down",
			err:            fmt.Errorf("%w: dial tcp 10.0.0.5:5432: connect: connection refused", domain.ErrCacheUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "cache unavailable",
		},
		{
			name:           "upstream throttled",
			err:            domain.NewExternalAPIError("PubChem", http.StatusTooManyRequests, "PUGREST.ServerBusy", nil),
			expectedStatus: http.StatusTooManyRequests,
			expectedBody:   "rate limited",
		},
		{
			name:           "upstream down",
			err:            domain.NewExternalAPIError("PubChem", http.StatusServiceUnavailable, "gateway timeout at pubchem.ncbi.nlm.nih.gov", nil),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "service unavailable",
		},
		{
			name:           "validation error",
			err:            domain.NewValidationError("compound", "is required"),
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "compound is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tc.err)

			if rr.Code != tc.expectedStatus {
				t.Errorf("expected status %d, got %d", tc.expectedStatus, rr.Code)
			}

			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tc.expectedBody {
				t.Errorf("expected error %q, got %q", tc.expectedBody, resp["error"])
			}
			if tc.expectedStatus != http.StatusBadRequest && strings.Contains(resp["error"], tc.err.Error()) {
				t.Errorf("response body contains raw error message: %s", resp["error"])
			}
		})
	}

	t.Run("nil error is no-op", func(t *testing.T) {
		rr := httptest.NewRecorder()
		writeDomainError(rr, nil)
		if rr.Body.Len() != 0 {
			t.Errorf("expected empty body, got %s", rr.Body.String())
		}
	})
}
