// Package runner re-runs the ingestion cycle on a cron schedule.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"web/featuremap/logger"
)

// Target is what a tick refreshes.
type Target interface {
	Refresh(ctx context.Context) error
}

var ErrNoTarget = errors.New("runner has no target")

type RefreshRunner struct {
	target Target
	spec   string
	cron   *cron.Cron
	log    *slog.Logger

	mu      sync.Mutex
	started bool
	runs    int
	lastRun time.Time
	lastErr error
}

// NewRefreshRunner validates spec (standard five-field cron or a
// descriptor like "@every 10m"). An empty spec yields a runner whose Start
// does nothing, so RunOnce can still be used for the initial load.
func NewRefreshRunner(target Target, spec string, log *slog.Logger) (*RefreshRunner, error) {
	if target == nil {
		return nil, ErrNoTarget
	}
	if log == nil {
		log = logger.L()
	}
	r := &RefreshRunner{
		target: target,
		spec:   spec,
		log:    log,
		// overlapping ticks are skipped while a cycle is running
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if spec == "" {
		return r, nil
	}
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RefreshRunner) tick() {
	if err := r.RunOnce(context.Background()); err != nil {
		r.log.Warn("scheduled_refresh_failed", "err", err)
	}
}

// RunOnce runs a cycle now and records its outcome.
func (r *RefreshRunner) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := r.target.Refresh(ctx)

	r.mu.Lock()
	r.runs++
	r.lastRun = start
	r.lastErr = err
	r.mu.Unlock()

	if err == nil {
		r.log.Info("refresh_done", "duration_ms", time.Since(start).Milliseconds())
	}
	return err
}

func (r *RefreshRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spec == "" {
		r.log.Info("scheduled_refresh_disabled")
		return
	}
	if r.started {
		return
	}
	r.started = true
	r.cron.Start()
	r.log.Info("scheduled_refresh_started", "spec", r.spec, "next", r.Next())
}

// Stop halts the schedule and waits for a running cycle to finish, or for
// ctx to expire.
func (r *RefreshRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is the time of the next scheduled run, zero when none is scheduled.
func (r *RefreshRunner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

type Stats struct {
	Runs    int
	LastRun time.Time
	LastErr error
}

func (r *RefreshRunner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Runs: r.runs, LastRun: r.lastRun, LastErr: r.lastErr}
}
