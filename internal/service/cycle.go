package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/agentopt/internal/adapter/otel"
)

// CycleStats reports how often a background cycle ran or was skipped.
type CycleStats struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
	Runs     int64         `json:"runs"`
	Skipped  int64         `json:"skipped"`
	Failures int64         `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitempty"`
}

// Cycle runs a function periodically. At most one run is active at a time:
// a tick that finds a run in progress is skipped, while Run waits its turn.
type Cycle struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	sem      *semaphore.Weighted
	metrics  *otel.Metrics

	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	lastRun  atomic.Int64 // unix nanos

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCycle creates a stopped cycle.
func NewCycle(name string, interval time.Duration, fn func(ctx context.Context) error, m *otel.Metrics) *Cycle {
	return &Cycle{
		name:     name,
		interval: interval,
		fn:       fn,
		sem:      semaphore.NewWeighted(1),
		metrics:  m,
	}
}

// Start launches the ticker goroutine. Starting a started cycle is a no-op.
func (c *Cycle) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.interval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}(c.done)
}

// Stop cancels the ticker and waits for an in-progress run to return.
func (c *Cycle) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs the cycle function unless a run is already active. It reports
// whether the function ran.
func (c *Cycle) Tick(ctx context.Context) bool {
	if !c.sem.TryAcquire(1) {
		c.skipped.Add(1)
		c.metrics.Cycle(ctx, c.name, true)
		slog.Debug("cycle skipped, previous run still active", "cycle", c.name)
		return false
	}
	defer c.sem.Release(1)
	c.invoke(ctx, c.fn)
	return true
}

// Run waits until no other run is active, then executes fn under the
// cycle's guard.
func (c *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)
	return c.invoke(ctx, fn)
}

func (c *Cycle) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	c.runs.Add(1)
	c.lastRun.Store(time.Now().UnixNano())
	c.metrics.Cycle(ctx, c.name, false)

	err := fn(ctx)
	if err != nil {
		c.failures.Add(1)
		if ctx.Err() == nil {
			slog.Warn("cycle failed", "cycle", c.name, "error", err)
		}
	}
	return err
}

// Stats returns the cycle counters.
func (c *Cycle) Stats() CycleStats {
	c.mu.Lock()
	running := c.cancel != nil
	c.mu.Unlock()

	s := CycleStats{
		Name:     c.name,
		Interval: c.interval,
		Running:  running,
		Runs:     c.runs.Load(),
		Skipped:  c.skipped.Load(),
		Failures: c.failures.Load(),
	}
	if ns := c.lastRun.Load(); ns != 0 {
		s.LastRun = time.Unix(0, ns)
	}
	return s
}
