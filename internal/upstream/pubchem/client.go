// Package pubchem implements the PubChem PUG REST and PUG View lookups used by
// the enrichment pipeline: compound resolution, assay id collection, batched
// assay record fetching and mechanism-of-action extraction.
package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/domain"
	"github.com/helixir/compound-enrichment-service/internal/upstream"
)

// SourceName identifies PubChem in errors and logs.
const SourceName = "pubchem"

// Endpoint labels used for metrics and logs.
const (
	EndpointCompoundProperties = "compound_properties"
	EndpointCompoundAIDs       = "compound_aids"
	EndpointAssaySummary       = "assay_summary"
	EndpointCompoundProfile    = "compound_profile"
)

const (
	// DefaultBaseURL is the PUG REST root.
	DefaultBaseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	// DefaultViewBaseURL is the PUG View root.
	DefaultViewBaseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug_view"

	DefaultBatchSize            = 8
	DefaultMaxAssaysPerCompound = 150
	DefaultInterBatchDelay      = 300 * time.Millisecond

	// MaxSectionDepth bounds the profile section search.
	MaxSectionDepth = 20
)

// Fetcher is the subset of upstream.Fetcher the client needs.
type Fetcher interface {
	Get(ctx context.Context, endpoint, url string) (*upstream.Response, error)
}

// Config configures the PubChem client.
type Config struct {
	BaseURL              string
	ViewBaseURL          string
	BatchSize            int
	MaxAssaysPerCompound int
	// InterBatchDelay is slept between consecutive assay summary batches.
	InterBatchDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "pubchem_client").Logger() }
}

// WithSleeper replaces the inter-batch sleep function.
func WithSleeper(s upstream.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// Client talks to PubChem through a shared retrying fetcher.
type Client struct {
	fetcher Fetcher
	config  Config
	sleep   upstream.Sleeper
	logger  zerolog.Logger
}

// New creates a PubChem client. Zero config values fall back to defaults;
// a zero InterBatchDelay disables the delay.
func New(fetcher Fetcher, cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ViewBaseURL == "" {
		cfg.ViewBaseURL = DefaultViewBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ViewBaseURL = strings.TrimRight(cfg.ViewBaseURL, "/")
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAssaysPerCompound <= 0 {
		cfg.MaxAssaysPerCompound = DefaultMaxAssaysPerCompound
	}

	c := &Client{
		fetcher: fetcher,
		config:  cfg,
		sleep:   upstream.SleepContext,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) propertiesURL(name string) string {
	return fmt.Sprintf("%s/compound/name/%s/property/IUPACName,CanonicalSMILES,MolecularWeight,MolecularFormula/JSON",
		c.config.BaseURL, url.PathEscape(name))
}

func (c *Client) assayIDsURL(cid int64) string {
	return fmt.Sprintf("%s/compound/cid/%d/aids/JSON", c.config.BaseURL, cid)
}

func (c *Client) assaySummaryURL(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s/assay/aid/%s/summary/JSON", c.config.BaseURL, strings.Join(parts, ","))
}

func (c *Client) profileURL(cid int64) string {
	return fmt.Sprintf("%s/data/compound/%d/JSON", c.config.ViewBaseURL, cid)
}

// statusError converts a failed response (neither 2xx nor 404) into an error.
// A 429 that survived every retry becomes a RateLimitError carrying the
// Retry-After hint.
func statusError(resp *upstream.Response, what string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewRateLimitError(SourceName, retryAfter(resp.Header))
	}
	return domain.NewExternalAPIError(SourceName, resp.StatusCode, what, nil)
}

// retryAfter reads a delay-seconds Retry-After header. HTTP dates are ignored.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ParseCompoundID returns the compound id when s is a positive integer.
func ParseCompoundID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// flexString decodes a JSON string or number into a string. PubChem has
// served MolecularWeight as both.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*f = ""
		return nil
	}
	*f = flexString(n.String())
	return nil
}
