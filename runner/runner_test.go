package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"web/featuremap/logger"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) Refresh(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	target := &countingTarget{}
	r, err := NewRefreshRunner(target, "", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	target.err = errors.New("upstream down")
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := r.Stats()
	if st.Runs != 2 || st.LastErr == nil || st.LastRun.IsZero() {
		t.Errorf("stats = %+v", st)
	}
}

func TestInvalidSpec(t *testing.T) {
	if _, err := NewRefreshRunner(&countingTarget{}, "not a cron spec", logger.Discard()); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewRefreshRunner(nil, "", logger.Discard()); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("nil target: %v", err)
	}
}

func TestEmptySpecNeverSchedules(t *testing.T) {
	target := &countingTarget{}
	r, err := NewRefreshRunner(target, "", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	if !r.Next().IsZero() {
		t.Error("no run should be scheduled")
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if target.calls.Load() != 0 {
		t.Error("target refreshed without a schedule")
	}
}

func TestScheduledRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cron clock")
	}
	target := &countingTarget{}
	r, err := NewRefreshRunner(target, "@every 1s", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer r.Stop(context.Background())

	if r.Next().IsZero() {
		t.Fatal("expected a scheduled run")
	}
	deadline := time.Now().Add(3 * time.Second)
	for target.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled refresh never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
