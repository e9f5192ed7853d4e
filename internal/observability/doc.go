// Package observability provides logging and metrics support for the
// compound enrichment service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Add search or compound fields:
//
//	logger = observability.WithSearchContext(logger, molecule, filter, target, maxResults)
//	logger = observability.WithCompoundContext(logger, cid, name)
//
// # Metrics
//
//	metrics := observability.NewMetrics("compound_enrichment")
//	metrics.RecordSearch("miss", len(records), elapsed.Seconds())
//
// A nil *Metrics is valid and records nothing.
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - correlation_id: caller supplied correlation identifier
//   - job_id: background search job identifier
//   - molecule: normalized search term
//   - cid: PubChem compound identifier
//   - endpoint: upstream endpoint label
package observability
