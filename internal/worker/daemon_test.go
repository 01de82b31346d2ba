package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/records"
)

func TestDaemonClaimsAndExecutesDueCalls(t *testing.T) {
	dialer := &fakeDialer{}
	sched := calls.NewScheduler(calls.NewMemoryStore(), nil, nil)
	recs := records.NewService(records.NewMemoryRepo())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(sched, recs, dialer, nil, DefaultRetryPolicy(), log)

	item := calls.NewCallScheduleItem("clinic-1", "patient-1", "+14045551234",
		time.Now().UTC().Add(-time.Minute), calls.TypeWellnessCheck, calls.PriorityRoutine, "check in")
	if _, err := sched.ScheduleCall(context.Background(), item); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	d := NewDaemon(sched, exec, DaemonConfig{
		PollInterval: 10 * time.Millisecond,
		WorkerCount:  2,
		ClaimLimit:   10,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&dialer.dials) == 0 {
		select {
		case <-deadline:
			t.Fatal("daemon never dialed the due call")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if atomic.LoadInt32(&dialer.dials) != 1 {
		t.Fatalf("dials = %d, want 1", dialer.dials)
	}
}

func TestDaemonSweepsStaleClaims(t *testing.T) {
	dialer := &fakeDialer{}
	store := calls.NewMemoryStore()
	sched := calls.NewScheduler(store, nil, nil)
	recs := records.NewService(records.NewMemoryRepo())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(sched, recs, dialer, nil, DefaultRetryPolicy(), log)

	item := calls.NewCallScheduleItem("clinic-1", "patient-1", "+14045551234",
		time.Now().UTC().Add(-time.Minute), calls.TypeWellnessCheck, calls.PriorityRoutine, "check in")
	if _, err := sched.ScheduleCall(context.Background(), item); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(context.Background(), item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	// Simulate a worker that died an hour ago.
	store.SetClaimedAt(item.ID, time.Now().UTC().Add(-time.Hour))

	d := NewDaemon(sched, exec, DaemonConfig{
		PollInterval: 10 * time.Millisecond,
		LeaseTimeout: 10 * time.Minute,
		WorkerCount:  1,
		ClaimLimit:   10,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	// The sweep returns it to pending, and the same poll cycle (or the next)
	// reclaims and dials it.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&dialer.dials) == 0 {
		select {
		case <-deadline:
			t.Fatal("stale claim was never reclaimed and dialed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
