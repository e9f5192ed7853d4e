package upstream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/helixir/compound-enrichment-service/internal/observability"
)

// DefaultConcurrency is the number of simultaneous upstream requests allowed
// when a governor is built with a non-positive limit.
const DefaultConcurrency = 2

// Governor bounds the number of in-flight upstream requests. Waiters are
// admitted in FIFO order. A single Governor must be shared by every component
// that calls the compound database so the ceiling holds process-wide.
type Governor struct {
	sem     *semaphore.Weighted
	limit   int64
	running atomic.Int64
	metrics *observability.Metrics
}

// NewGovernor creates a governor admitting at most limit concurrent tasks.
func NewGovernor(limit int, metrics *observability.Metrics) *Governor {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Governor{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   int64(limit),
		metrics: metrics,
	}
}

// Run waits for a free slot, runs task and releases the slot on every path,
// including a panic inside task. If ctx is done before a slot frees up, Run
// returns the context error without running task.
func (g *Governor) Run(ctx context.Context, task func(context.Context) error) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire governor slot: %w", err)
	}
	g.running.Add(1)
	g.metrics.RecordGovernorAcquired(time.Since(start).Seconds())

	defer func() {
		g.running.Add(-1)
		g.metrics.RecordGovernorReleased()
		g.sem.Release(1)
	}()

	return task(ctx)
}

// InFlight reports how many tasks currently hold a slot.
func (g *Governor) InFlight() int {
	return int(g.running.Load())
}

// Limit returns the configured concurrency ceiling.
func (g *Governor) Limit() int {
	return int(g.limit)
}
