// Package upstream provides the shared transport used for every call to the
// compound database: a process-wide request governor, a courtesy rate limiter
// and a retrying fetcher with a fixed backoff schedule.
package upstream

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket that keeps the process under PubChem's
// requests-per-second allowance. A nil *RateLimiter never blocks.
type RateLimiter struct {
	bucket *rate.Limiter
}

// NewRateLimiter returns a limiter refilling perSecond tokens per second.
// It returns nil when perSecond is not positive. Burst is raised to 1.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &RateLimiter{bucket: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// Wait takes one token, blocking until it is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.bucket.Wait(ctx)
}
