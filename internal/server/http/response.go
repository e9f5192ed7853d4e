package httpserver

import (
	"github.com/helixir/compound-enrichment-service/internal/domain"
)

type searchResponse struct {
	Molecule string               `json:"molecule"`
	Count    int                  `json:"count"`
	Results  []domain.AssayRecord `json:"results"`
}

type asyncSearchResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Database      string `json:"database"`
	Message       string `json:"message"`
	EstimatedTime string `json:"estimated_time"`
}

type mechanismListResponse struct {
	Results []*domain.MechanismResult `json:"results"`
}

type clearCacheResponse struct {
	Deleted  int64  `json:"deleted"`
	Molecule string `json:"molecule,omitempty"`
}

func newAsyncSearchResponse(event *domain.SearchRequested) asyncSearchResponse {
	message := "Search request received. Results will be published when ready."
	if event.RequestedBy != "" {
		message = "Search request received! Results will be emailed to " + event.RequestedBy + " shortly."
	}
	return asyncSearchResponse{
		Success:       true,
		JobID:         event.JobID,
		Status:        "processing",
		Database:      domain.SourcePubChem,
		Message:       message,
		EstimatedTime: "1-2 minutes",
	}
}
