// Package worker runs background maintenance for generation records.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StaleFailer fails generation records left processing for longer than maxAge.
type StaleFailer interface {
	FailStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Config holds reaper configuration.
type Config struct {
	Interval time.Duration // Time between sweeps
	MaxAge   time.Duration // Must exceed the orchestrator's request timeout
}

// Reaper fails records whose request died before finalization (process crash,
// deploy mid-request), so no record stays processing forever.
type Reaper struct {
	records  StaleFailer
	interval time.Duration
	maxAge   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New creates a reaper.
func New(records StaleFailer, cfg Config, logger *slog.Logger) *Reaper {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		records:  records,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		stop:     make(chan struct{}),
		logger:   logger.With("component", "reaper"),
	}
}

// Start sweeps once immediately, then every interval until Stop or ctx ends.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("starting", "interval", r.interval.String(), "max_age", r.maxAge.String())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Sweep(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop waits for the running sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping")
		close(r.stop)
	})
	r.wg.Wait()
}

// Sweep runs one pass and returns how many records were failed. Errors are
// logged; the next tick retries.
func (r *Reaper) Sweep(ctx context.Context) int64 {
	n, err := r.records.FailStale(ctx, r.maxAge)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to reap stale generations", "error", err)
		return 0
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "reaped stale generations", "count", n)
	}
	return n
}
