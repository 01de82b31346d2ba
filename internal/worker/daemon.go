package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"postop-platform/internal/calls"
)

// Daemon polls for due calls and fans them out to a bounded worker pool.
//
// Polls never overlap: a slow batch simply delays the next tick. Before each
// poll the daemon sweeps stale claims so items from crashed workers get
// another chance instead of sitting in_progress forever.
type Daemon struct {
	sched *calls.Scheduler
	exec  *Executor
	log   *slog.Logger

	pollInterval time.Duration
	leaseTimeout time.Duration
	workerCount  int
	claimLimit   int
}

type DaemonConfig struct {
	PollInterval time.Duration
	LeaseTimeout time.Duration
	WorkerCount  int
	ClaimLimit   int
}

func NewDaemon(sched *calls.Scheduler, exec *Executor, cfg DaemonConfig, log *slog.Logger) *Daemon {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 50
	}
	return &Daemon{
		sched:        sched,
		exec:         exec,
		log:          log,
		pollInterval: cfg.PollInterval,
		leaseTimeout: cfg.LeaseTimeout,
		workerCount:  cfg.WorkerCount,
		claimLimit:   cfg.ClaimLimit,
	}
}

// Run blocks until ctx is cancelled. In-flight calls are allowed to finish
// dialing before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	jobs := make(chan calls.CallScheduleItem)
	var wg sync.WaitGroup
	for i := 0; i < d.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if err := d.exec.Execute(ctx, item); err != nil {
					d.log.ErrorContext(ctx, "call execution failed", "call_id", item.ID, "err", err)
				}
			}
		}()
	}

	d.log.InfoContext(ctx, "call worker started",
		"poll_interval", d.pollInterval, "workers", d.workerCount)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		d.pollOnce(ctx, jobs)
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			d.log.Info("call worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pollOnce(ctx context.Context, jobs chan<- calls.CallScheduleItem) {
	swept, err := d.sched.SweepStale(ctx, d.leaseTimeout)
	if err != nil {
		d.log.ErrorContext(ctx, "stale claim sweep failed", "err", err)
	} else if len(swept) > 0 {
		d.log.WarnContext(ctx, "reclaimed stale calls", "count", len(swept), "call_ids", swept)
	}

	claimed, err := d.sched.ClaimDueCalls(ctx, d.claimLimit)
	if err != nil {
		d.log.ErrorContext(ctx, "claim poll failed", "err", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	d.log.InfoContext(ctx, "claimed due calls", "count", len(claimed))

	for _, item := range claimed {
		select {
		case jobs <- item:
		case <-ctx.Done():
			return
		}
	}
}
