package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants for search job events.
const (
	EventTypeSearchRequested = "pubchem.search_requested"
	EventTypeSearchCompleted = "pubchem.search_completed"
)

// Search job outcome values carried by SearchCompleted.
const (
	SearchStatusCompleted = "completed"
	SearchStatusNoResults = "no_results"
)

// SearchRequested asks a worker to run a compound search in the background.
type SearchRequested struct {
	EventType      string    `json:"event_type"`
	JobID          string    `json:"job_id"`
	RequestedBy    string    `json:"requested_by"`
	Molecule       string    `json:"molecule"`
	BioassayFilter string    `json:"bioassay_filter"`
	TargetClass    string    `json:"target_class"`
	MaxResults     int       `json:"max_results"`
	RequestedAt    time.Time `json:"requested_at"`
}

// NewSearchRequested creates a search request event with a fresh job id.
func NewSearchRequested(requestedBy, molecule, bioassayFilter, targetClass string, maxResults int) *SearchRequested {
	return &SearchRequested{
		EventType:      EventTypeSearchRequested,
		JobID:          uuid.New().String(),
		RequestedBy:    requestedBy,
		Molecule:       molecule,
		BioassayFilter: bioassayFilter,
		TargetClass:    targetClass,
		MaxResults:     maxResults,
		RequestedAt:    time.Now().UTC(),
	}
}

// SearchCompleted reports the records found for a background search.
// Downstream collaborators turn it into the emailed spreadsheet.
type SearchCompleted struct {
	EventType      string        `json:"event_type"`
	JobID          string        `json:"job_id"`
	RequestedBy    string        `json:"requested_by"`
	Molecule       string        `json:"molecule"`
	BioassayFilter string        `json:"bioassay_filter"`
	TargetClass    string        `json:"target_class"`
	Status         string        `json:"status"`
	ResultCount    int           `json:"result_count"`
	Results        []AssayRecord `json:"results"`
	DurationMS     int64         `json:"duration_ms"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// NewSearchCompleted builds the completion event for req.
func NewSearchCompleted(req *SearchRequested, results []AssayRecord, elapsed time.Duration) *SearchCompleted {
	status := SearchStatusCompleted
	if len(results) == 0 {
		status = SearchStatusNoResults
	}
	if results == nil {
		results = []AssayRecord{}
	}
	return &SearchCompleted{
		EventType:      EventTypeSearchCompleted,
		JobID:          req.JobID,
		RequestedBy:    req.RequestedBy,
		Molecule:       req.Molecule,
		BioassayFilter: req.BioassayFilter,
		TargetClass:    req.TargetClass,
		Status:         status,
		ResultCount:    len(results),
		Results:        results,
		DurationMS:     elapsed.Milliseconds(),
		CompletedAt:    time.Now().UTC(),
	}
}
