package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helixir/compound-enrichment-service/internal/domain"
)

type assayIDsResponse struct {
	InformationList struct {
		Information []struct {
			CID int64   `json:"CID"`
			AID []int64 `json:"AID"`
		} `json:"Information"`
	} `json:"InformationList"`
}

type assaySummaryResponse struct {
	AssaySummaries struct {
		AssaySummary []assaySummary `json:"AssaySummary"`
	} `json:"AssaySummaries"`
}

type assaySummary struct {
	AID        int64       `json:"AID"`
	Name       flexString  `json:"Name"`
	Method     flexString  `json:"Method"`
	AssayType  flexString  `json:"AssayType"`
	Type       flexString  `json:"Type"`
	Target     TargetField `json:"Target"`
	TargetName TargetField `json:"TargetName"`
}

// method returns the first non-empty method string.
func (s assaySummary) method() string {
	for _, m := range []flexString{s.Method, s.AssayType, s.Type} {
		if v := strings.TrimSpace(string(m)); v != "" {
			return v
		}
	}
	return ""
}

func (s assaySummary) target() string {
	if t := s.Target.String(); t != "" {
		return t
	}
	return s.TargetName.String()
}

// ClassifyAssay maps a method string to an assay category by case-insensitive
// substring match.
func ClassifyAssay(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	switch {
	case m == "":
		return domain.CategoryUnknown
	case strings.Contains(m, "screening"):
		return domain.CategoryScreening
	case strings.Contains(m, "confirmatory"):
		return domain.CategoryConfirmatory
	case strings.Contains(m, "summary"):
		return domain.CategorySummary
	default:
		return domain.CategoryOther
	}
}

// ListAssayIDs returns the assay ids tested against cid in upstream order,
// truncated to the configured maximum. A 404 yields an empty list.
func (c *Client) ListAssayIDs(ctx context.Context, cid int64) ([]int64, error) {
	resp, err := c.fetcher.Get(ctx, EndpointCompoundAIDs, c.assayIDsURL(cid))
	if err != nil {
		return nil, fmt.Errorf("list assay ids for cid %d: %w", cid, err)
	}
	if resp.NotFound() {
		return []int64{}, nil
	}
	if !resp.OK() {
		return nil, statusError(resp, "assay id lookup failed")
	}

	var body assayIDsResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.Warn().Err(err).Int64("cid", cid).Msg("malformed assay id response")
		return []int64{}, nil
	}
	if len(body.InformationList.Information) == 0 {
		return []int64{}, nil
	}

	ids := body.InformationList.Information[0].AID
	if len(ids) > c.config.MaxAssaysPerCompound {
		ids = ids[:c.config.MaxAssaysPerCompound]
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// FetchRecords fetches assay summaries for ids in sequential batches and
// returns those passing the category and target filters, annotated with
// compound. Scanning stops once limit records are accepted.
//
// A batch answered with a non-success status or an unreadable body counts as
// zero records. A transport failure that exhausted its retries ends the scan
// and is returned with the records accepted so far.
func (c *Client) FetchRecords(ctx context.Context, ids []int64, compound domain.CompoundRecord, bioassayFilter, targetClass string, limit int) ([]domain.AssayRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultMaxResults
	}
	filterAll := domain.IsAnyBioassay(bioassayFilter)
	category := strings.TrimSpace(bioassayFilter)
	target := strings.ToLower(strings.TrimSpace(targetClass))

	records := make([]domain.AssayRecord, 0)
	for i, batch := range chunk(ids, c.config.BatchSize) {
		if i > 0 && c.config.InterBatchDelay > 0 {
			if err := c.sleep(ctx, c.config.InterBatchDelay); err != nil {
				return records, err
			}
		}

		summaries, err := c.fetchSummaries(ctx, batch)
		if err != nil {
			return records, err
		}

		for _, s := range summaries {
			method := s.method()
			cat := ClassifyAssay(method)
			if !filterAll && !strings.EqualFold(cat, category) {
				continue
			}
			targetText := s.target()
			if target != "" && !strings.Contains(strings.ToLower(targetText), target) {
				continue
			}

			records = append(records, domain.NewAssayRecord(compound, s.AID, string(s.Name), method, cat, targetText))
			if len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

// fetchSummaries fetches one batch. Only transport errors are returned.
func (c *Client) fetchSummaries(ctx context.Context, batch []int64) ([]assaySummary, error) {
	resp, err := c.fetcher.Get(ctx, EndpointAssaySummary, c.assaySummaryURL(batch))
	if err != nil {
		return nil, fmt.Errorf("fetch assay summaries: %w", err)
	}
	if !resp.OK() {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Ints64("aids", batch).
			Msg("assay summary batch failed, skipping")
		return nil, nil
	}

	var body assaySummaryResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.Warn().Err(err).Ints64("aids", batch).Msg("malformed assay summary response, skipping")
		return nil, nil
	}
	return body.AssaySummaries.AssaySummary, nil
}

func chunk(ids []int64, size int) [][]int64 {
	var batches [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
