package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// maxBodySize bounds how much of an upstream response body is read.
const maxBodySize = 32 << 20

// FetcherConfig configures the retrying fetcher.
type FetcherConfig struct {
	// MaxAttempts is the total number of attempts per call, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// RequestTimeout bounds a single attempt, including reading the body.
	RequestTimeout time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int
}

// DefaultFetcherConfig returns the schedule the compound database expects:
// four attempts, 1.5s initial backoff growing by 2.5x up to 30s, 15s per attempt.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxAttempts:       4,
		InitialBackoff:    1500 * time.Millisecond,
		BackoffMultiplier: 2.5,
		MaxBackoff:        30 * time.Second,
		RequestTimeout:    15 * time.Second,
		UserAgent:         "Helixir-CompoundEnrichment/1.0",
	}
}

// Response is a fully-read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFound reports a 404 status.
func (r *Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleeper replaces the backoff sleep function.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the fetcher's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l.With().Str("component", "upstream_fetcher").Logger() }
}

// WithMetrics sets the fetcher's metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher issues GET requests through a Governor, retrying transient
// failures on a multiplicative backoff schedule. It is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	governor *Governor
	limiter  *RateLimiter
	config   FetcherConfig
	sleep    Sleeper
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewFetcher creates a fetcher that runs every attempt inside governor.
func NewFetcher(governor *Governor, cfg FetcherConfig, opts ...Option) *Fetcher {
	defaults := DefaultFetcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	f := &Fetcher{
		client:   &http.Client{},
		governor: governor,
		config:   cfg,
		sleep:    SleepContext,
		logger:   zerolog.Nop(),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.Burst),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get fetches url, labelling metrics and logs with endpoint.
//
// A 2xx, a 404 or any other non-retryable status is returned as soon as it
// arrives. 429 and 5xx responses, network errors and per-attempt timeouts are
// retried. When attempts run out, the last failing response is returned with a
// nil error, or the last transport error is returned if there was no response.
// Cancellation of ctx stops the loop immediately.
func (f *Fetcher) Get(ctx context.Context, endpoint, url string) (*Response, error) {
	backoff := f.config.InitialBackoff

	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, endpoint, url)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		last := attempt >= f.config.MaxAttempts
		if err == nil {
			if !isRetryable(resp.StatusCode) || last {
				return resp, nil
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				f.metrics.RecordUpstreamRateLimited(endpoint)
			}
			f.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retryable upstream status")
		} else {
			if last {
				return nil, fmt.Errorf("%s: request failed after %d attempts: %w", endpoint, attempt, err)
			}
			f.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("upstream request failed")
		}

		f.metrics.RecordUpstreamRetry(endpoint)
		if err := f.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = f.nextBackoff(backoff)
	}
}

// attempt performs one request while holding a governor slot.
func (f *Fetcher) attempt(ctx context.Context, endpoint, url string) (*Response, error) {
	var out *Response
	err := f.governor.Run(ctx, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", f.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := f.client.Do(req)
		if err != nil {
			f.metrics.RecordUpstreamRequest(endpoint, "error", time.Since(start).Seconds())
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			f.metrics.RecordUpstreamRequest(endpoint, "error", time.Since(start).Seconds())
			return fmt.Errorf("read body: %w", err)
		}
		f.metrics.RecordUpstreamRequest(endpoint, statusClass(resp.StatusCode), time.Since(start).Seconds())

		out = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * f.config.BackoffMultiplier)
	if next > f.config.MaxBackoff {
		return f.config.MaxBackoff
	}
	return next
}

// isRetryable returns true for 429 and every 5xx status.
func isRetryable(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500
}

func statusClass(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "5xx"
	case statusCode >= 400:
		return "4xx"
	case statusCode >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// SleepContext waits for delay, returning early with the context error if ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

