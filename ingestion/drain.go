package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/gleaner/core"
	"github.com/poiesic/gleaner/notify"
)

// DrainOptions bounds a Drain call.
type DrainOptions struct {
	Concurrency int // <= 0 uses the worker's pool size
	MaxJobs     int // <= 0 means until the queue is empty
}

// DrainStats summarizes a Drain call.
type DrainStats struct {
	Processed int
	Completed int
	Failed    int
	Outcomes  []Outcome
}

// Drain runs RunOnce on a pool of goroutines until no job is left, MaxJobs
// jobs have been claimed, or ctx ends. Each RunOnce still handles one job.
func (w *Worker) Drain(ctx context.Context, opts DrainOptions) (DrainStats, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = w.poolSize
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return DrainStats{}, err
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		stats   DrainStats
		wg      sync.WaitGroup
		claimed atomic.Int64
	)

	loop := func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if opts.MaxJobs > 0 && claimed.Add(1) > int64(opts.MaxJobs) {
				return
			}
			outcome := w.RunOnce(ctx)
			if !outcome.Processed {
				return
			}
			mu.Lock()
			stats.Processed++
			switch outcome.Status {
			case core.JobStatusCompleted:
				stats.Completed++
			case core.JobStatusFailed:
				stats.Failed++
			}
			stats.Outcomes = append(stats.Outcomes, outcome)
			mu.Unlock()
		}
	}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		if err := pool.Submit(loop); err != nil {
			wg.Done()
			wg.Wait()
			return stats, err
		}
	}
	wg.Wait()

	w.logger.Info("drain finished", "processed", stats.Processed, "completed", stats.Completed, "failed", stats.Failed)
	return stats, ctx.Err()
}

// Serve drains the queue, then waits for a wake-up or pollInterval before
// draining again. It returns when ctx ends.
func (w *Worker) Serve(ctx context.Context, notifier notify.Notifier, pollInterval time.Duration, opts DrainOptions) error {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	for {
		if _, err := w.Drain(ctx, opts); err != nil && ctx.Err() == nil {
			w.logger.Error("drain failed", "err", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		tenant, woke, err := notifier.Wait(ctx, pollInterval)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			w.logger.Warn("wake-up wait failed", "err", err)
			timer := time.NewTimer(pollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		case woke:
			w.logger.Debug("woken", "tenant", tenant)
		}
	}
}
