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
	"postop-platform/internal/telephony"
)

type fakeDialer struct {
	err   error
	dials int32
	last  telephony.DialRequest
}

func (f *fakeDialer) Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	atomic.AddInt32(&f.dials, 1)
	f.last = req
	if f.err != nil {
		return telephony.DialResult{}, f.err
	}
	return telephony.DialResult{
		ClinicID:            req.ClinicID,
		CallID:              req.CallID,
		RoomName:            telephony.RoomNameForCall(req.CallID),
		ParticipantIdentity: telephony.PatientIdentity,
		StartedAt:           time.Now().UTC(),
	}, nil
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, clinicID string) (bool, error) { return false, nil }
func (denyLimiter) Release(ctx context.Context, clinicID string) error         { return nil }

func testExecutor(dialer Dialer, limiter Limiter) (*Executor, *calls.Scheduler, *records.Service) {
	sched := calls.NewScheduler(calls.NewMemoryStore(), nil, nil)
	recs := records.NewService(records.NewMemoryRepo())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(sched, recs, dialer, limiter, DefaultRetryPolicy(), log)
	return exec, sched, recs
}

func claimTestItem(t *testing.T, sched *calls.Scheduler, attemptCount int) calls.CallScheduleItem {
	t.Helper()
	item := calls.NewCallScheduleItem("clinic-1", "patient-1", "+14045551234",
		time.Now().UTC(), calls.TypeWellnessCheck, calls.PriorityRoutine, "check in")
	item.AttemptCount = attemptCount
	if _, err := sched.ScheduleCall(context.Background(), item); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(context.Background(), item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	item.Status = calls.StatusInProgress
	return item
}

func TestExecuteSuccessfulDialStaysInProgress(t *testing.T) {
	dialer := &fakeDialer{}
	exec, sched, recs := testExecutor(dialer, nil)
	item := claimTestItem(t, sched, 0)

	if err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusInProgress {
		t.Fatalf("status = %s, want in_progress until result webhook", got.Status)
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no records for connected call, got %d", len(history))
	}
	if dialer.last.PatientPhone != "+14045551234" {
		t.Fatalf("dialed %q", dialer.last.PatientPhone)
	}
	if dialer.last.AgentMetadata == "" {
		t.Fatal("expected agent metadata")
	}
}

func TestExecuteBusyRetriesWithBackoff(t *testing.T) {
	dialer := &fakeDialer{err: telephony.ClassifySIPStatus(486)}
	exec, sched, recs := testExecutor(dialer, nil)
	item := claimTestItem(t, sched, 0)

	before := time.Now().UTC()
	if err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d", got.AttemptCount)
	}
	wantAt := before.Add(5 * time.Minute)
	if got.ScheduledTime.Before(wantAt.Add(-time.Minute)) || got.ScheduledTime.After(wantAt.Add(time.Minute)) {
		t.Fatalf("retry scheduled at %v, want ~%v", got.ScheduledTime, wantAt)
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if history[0].Outcome != records.OutcomeBusy {
		t.Fatalf("outcome = %s", history[0].Outcome)
	}
	if history[0].ErrorMessage != "Patient phone was busy" {
		t.Fatalf("error = %q", history[0].ErrorMessage)
	}
}

func TestExecuteFailsAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{err: telephony.ClassifySIPStatus(486)}
	exec, sched, _ := testExecutor(dialer, nil)
	item := claimTestItem(t, sched, 2)

	if err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Notes != "max attempts exceeded" {
		t.Fatalf("notes = %q", got.Notes)
	}
}

func TestExecutePermanentFailureNoRetry(t *testing.T) {
	dialer := &fakeDialer{err: telephony.ClassifySIPStatus(404)}
	exec, sched, recs := testExecutor(dialer, nil)
	item := claimTestItem(t, sched, 0)

	if err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusFailed {
		t.Fatalf("status = %s, want failed on first attempt", got.Status)
	}
	if got.Notes != "Phone number not found" {
		t.Fatalf("notes = %q", got.Notes)
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != records.OutcomeFailed {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestExecuteDialCapDefersWithoutBurningAttempt(t *testing.T) {
	dialer := &fakeDialer{}
	exec, sched, recs := testExecutor(dialer, denyLimiter{})
	item := claimTestItem(t, sched, 1)

	if err := exec.Execute(context.Background(), item); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if atomic.LoadInt32(&dialer.dials) != 0 {
		t.Fatal("dial should not happen when cap is reached")
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d, cap deferral must not burn an attempt", got.AttemptCount)
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("cap deferral should not produce a record, got %d", len(history))
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{3, 20 * time.Minute},
		{4, 30 * time.Minute},
		{10, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := p.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("NextDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
	if p.Exhausted(2) {
		t.Fatal("attempt 2 of 3 should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Fatal("attempt 3 of 3 should be exhausted")
	}
}
