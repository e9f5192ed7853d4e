package domain

import (
	"math"
	"strings"
	"time"
)

// CacheKey is the normalized search signature used to look up cached results.
type CacheKey struct {
	Molecule       string
	BioassayFilter string
	TargetClass    string
	MaxResults     int
}

// NewCacheKey normalizes the search parameters into a CacheKey.
// Molecule and target class are trimmed and lowercased. The bioassay
// filter is trimmed and defaults to "Any" but keeps its casing. The cap
// defaults to DefaultMaxResults and is clamped to ceiling.
func NewCacheKey(molecule, bioassayFilter, targetClass string, maxResults, ceiling int) CacheKey {
	filter := strings.TrimSpace(bioassayFilter)
	if filter == "" {
		filter = BioassayAny
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxResultsCeiling
	}
	return CacheKey{
		Molecule:       strings.ToLower(strings.TrimSpace(molecule)),
		BioassayFilter: filter,
		TargetClass:    strings.ToLower(strings.TrimSpace(targetClass)),
		MaxResults:     min(maxResults, ceiling),
	}
}

// NormalizeMolecule applies the molecule part of key normalization.
func NormalizeMolecule(molecule string) string {
	return strings.ToLower(strings.TrimSpace(molecule))
}

// CompoundMetadata is the compound information stored alongside cached records.
type CompoundMetadata struct {
	CompoundID       int64
	Name             string
	StructureString  string
	TotalAssaysFound int
	SearchDuration   time.Duration
}

// CompoundMetadataFrom copies the cacheable fields of a resolved compound.
func CompoundMetadataFrom(c *CompoundRecord) CompoundMetadata {
	if c == nil {
		return CompoundMetadata{}
	}
	return CompoundMetadata{
		CompoundID:      c.ID,
		Name:            c.Name,
		StructureString: c.StructureString,
	}
}

// CacheEntry is a persisted search result.
// ResultCount is the record count before truncation to Key.MaxResults.
type CacheEntry struct {
	Key         CacheKey
	Compound    CompoundMetadata
	Records     []AssayRecord
	ResultCount int
	FetchedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Entries            int64 `json:"cache_entries" yaml:"cache_entries"`
	TotalResults       int64 `json:"total_results" yaml:"total_results"`
	AvgResultsPerEntry int64 `json:"avg_results_per_entry" yaml:"avg_results_per_entry"`
}

// NewCacheStats computes the rounded average from the raw totals.
func NewCacheStats(entries, totalResults int64) *CacheStats {
	stats := &CacheStats{Entries: entries, TotalResults: totalResults}
	if entries > 0 {
		stats.AvgResultsPerEntry = int64(math.Round(float64(totalResults) / float64(entries)))
	}
	return stats
}
