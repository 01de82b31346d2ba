package calls

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func testScheduler() (*Scheduler, *MemoryStore) {
	store := NewMemoryStore()
	return NewScheduler(store, nil, nil), store
}

func baseGenerateRequest() GenerateRequest {
	return GenerateRequest{
		ClinicID:      "clinic-1",
		PatientID:     "patient-1",
		PatientPhone:  "+14045551234",
		PatientName:   "Joseph",
		DischargeTime: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerateCompressionReminder(t *testing.T) {
	sched, _ := testScheduler()
	req := baseGenerateRequest()
	req.SelectedOrderIDs = []string{"vm_compression"}

	result, err := sched.GenerateCallsForPatient(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.OrderErrors) != 0 {
		t.Fatalf("unexpected order errors: %v", result.OrderErrors)
	}
	// One reminder plus the automatic wellness check.
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}

	reminder := result.Items[0]
	want := time.Date(2025, 1, 16, 10, 0, 0, 0, time.UTC)
	if !reminder.ScheduledTime.Equal(want) {
		t.Fatalf("scheduled_time = %v, want %v", reminder.ScheduledTime, want)
	}
	if reminder.CallType != TypeDischargeReminder {
		t.Fatalf("call_type = %s", reminder.CallType)
	}
	if reminder.Priority != PriorityImportant {
		t.Fatalf("priority = %d", reminder.Priority)
	}
	if reminder.RelatedOrderID != "vm_compression" {
		t.Fatalf("related_order_id = %s", reminder.RelatedOrderID)
	}
	if !strings.Contains(reminder.LLMPrompt, "Joseph") {
		t.Fatalf("prompt missing patient name: %s", reminder.LLMPrompt)
	}
	if strings.Contains(reminder.LLMPrompt, "{") {
		t.Fatalf("prompt has unresolved placeholder: %s", reminder.LLMPrompt)
	}
}

func TestGenerateWellnessCheck(t *testing.T) {
	sched, _ := testScheduler()
	req := baseGenerateRequest()

	result, err := sched.GenerateCallsForPatient(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected only the wellness check, got %d items", len(result.Items))
	}
	wc := result.Items[0]
	if wc.CallType != TypeWellnessCheck {
		t.Fatalf("call_type = %s", wc.CallType)
	}
	if wc.Priority != PriorityRoutine {
		t.Fatalf("priority = %d", wc.Priority)
	}
	want := req.DischargeTime.Add(18 * time.Hour)
	if !wc.ScheduledTime.Equal(want) {
		t.Fatalf("scheduled_time = %v, want %v", wc.ScheduledTime, want)
	}
}

func TestGenerateDailySeries(t *testing.T) {
	sched, _ := testScheduler()
	req := baseGenerateRequest()
	req.SelectedOrderIDs = []string{"vm_medication"}

	result, err := sched.GenerateCallsForPatient(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 3 medication reminders plus wellness check.
	if len(result.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(result.Items))
	}
	first := req.DischargeTime.Add(8 * time.Hour)
	for i := 0; i < 3; i++ {
		want := first.Add(time.Duration(i) * 24 * time.Hour)
		if !result.Items[i].ScheduledTime.Equal(want) {
			t.Fatalf("item %d scheduled at %v, want %v", i, result.Items[i].ScheduledTime, want)
		}
		if result.Items[i].CallType != TypeMedicationReminder {
			t.Fatalf("item %d call_type = %s", i, result.Items[i].CallType)
		}
	}
}

func TestGenerateUnknownOrderReported(t *testing.T) {
	sched, _ := testScheduler()
	req := baseGenerateRequest()
	req.SelectedOrderIDs = []string{"vm_compression", "no_such_order"}

	result, err := sched.GenerateCallsForPatient(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.OrderErrors) != 1 {
		t.Fatalf("expected 1 order error, got %v", result.OrderErrors)
	}
	if _, ok := result.OrderErrors["no_such_order"]; !ok {
		t.Fatalf("missing error for no_such_order: %v", result.OrderErrors)
	}
	// The valid order still generated its call.
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
}

func TestGenerateNonCallOrderProducesNothing(t *testing.T) {
	sched, _ := testScheduler()
	req := baseGenerateRequest()
	req.SelectedOrderIDs = []string{"vm_shower", "vm_symptoms"}

	result, err := sched.GenerateCallsForPatient(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.OrderErrors) != 0 {
		t.Fatalf("unexpected order errors: %v", result.OrderErrors)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected only the wellness check, got %d items", len(result.Items))
	}
}

func TestGenerateValidation(t *testing.T) {
	sched, _ := testScheduler()

	req := baseGenerateRequest()
	req.PatientPhone = "bad"
	if _, err := sched.GenerateCallsForPatient(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad phone: expected ErrValidation, got %v", err)
	}

	req = baseGenerateRequest()
	req.DischargeTime = time.Time{}
	if _, err := sched.GenerateCallsForPatient(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero discharge time: expected ErrValidation, got %v", err)
	}
}

func TestScheduleCallIdempotent(t *testing.T) {
	sched, _ := testScheduler()
	item := NewCallScheduleItem("clinic-1", "patient-1", "+14045551234",
		time.Now().UTC().Add(time.Hour), TypeWellnessCheck, PriorityRoutine, "check in")

	ok, err := sched.ScheduleCall(context.Background(), item)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = sched.ScheduleCall(context.Background(), item)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if ok {
		t.Fatal("duplicate insert reported as new")
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LLMPrompt != "check in" {
		t.Fatalf("existing item was modified: %q", got.LLMPrompt)
	}
}

func TestPendingCallsOrdering(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	now := time.Now().UTC()

	later := NewCallScheduleItem("c", "p", "+14045551234", now.Add(-time.Minute), TypeWellnessCheck, PriorityRoutine, "later")
	urgent := NewCallScheduleItem("c", "p", "+14045551234", now.Add(-time.Hour), TypeUrgent, PriorityUrgent, "urgent")
	routine := NewCallScheduleItem("c", "p", "+14045551234", now.Add(-time.Hour), TypeWellnessCheck, PriorityRoutine, "routine")
	future := NewCallScheduleItem("c", "p", "+14045551234", now.Add(time.Hour), TypeWellnessCheck, PriorityRoutine, "future")

	for _, it := range []CallScheduleItem{later, routine, urgent, future} {
		if _, err := sched.ScheduleCall(ctx, it); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	due, err := sched.GetPendingCallsAsOf(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 due items, got %d", len(due))
	}
	if due[0].ID != urgent.ID {
		t.Fatalf("first due = %s, want urgent", due[0].LLMPrompt)
	}
	if due[1].ID != routine.ID {
		t.Fatalf("second due = %s, want routine", due[1].LLMPrompt)
	}
	if due[2].ID != later.ID {
		t.Fatalf("third due = %s, want later", due[2].LLMPrompt)
	}
}

func TestUpdateCallStatusGraph(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// pending -> completed skips in_progress.
	if err := sched.UpdateCallStatus(ctx, item.ID, StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := sched.UpdateCallStatus(ctx, item.ID, StatusInProgress, ""); err != nil {
		t.Fatalf("claim transition: %v", err)
	}
	if err := sched.UpdateCallStatus(ctx, item.ID, StatusCompleted, "call completed"); err != nil {
		t.Fatalf("complete transition: %v", err)
	}

	// Terminal states are frozen.
	if err := sched.UpdateCallStatus(ctx, item.ID, StatusPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from terminal, got %v", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := sched.Claim(ctx, item.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", won)
	}
}

func TestExecuteNowOnlyPending(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()

	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC().Add(48*time.Hour), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := sched.ExecuteNow(ctx, item.ID); err != nil {
		t.Fatalf("execute now: %v", err)
	}
	due, err := sched.GetPendingCalls(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(due) != 1 || due[0].ID != item.ID {
		t.Fatalf("expected item due now, got %+v", due)
	}

	if ok, err := sched.Claim(ctx, item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := sched.ExecuteNow(ctx, item.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for in_progress item, got %v", err)
	}
}

func TestCancelPendingOnly(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := sched.Cancel(ctx, item.ID, "patient opted out"); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	got, err := sched.GetCall(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}

	other := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "y")
	if _, err := sched.ScheduleCall(ctx, other); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(ctx, other.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := sched.Cancel(ctx, other.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel in_progress: expected ErrInvalidTransition, got %v", err)
	}
}

func TestRetryLaterRequeues(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(ctx, item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	retryAt := time.Now().UTC().Add(5 * time.Minute)
	if err := sched.RetryLater(ctx, item.ID, retryAt, 1, "Patient phone was busy"); err != nil {
		t.Fatalf("retry later: %v", err)
	}
	got, err := sched.GetCall(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status = %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d", got.AttemptCount)
	}
	if !got.ScheduledTime.Equal(retryAt) {
		t.Fatalf("scheduled_time = %v, want %v", got.ScheduledTime, retryAt)
	}
}

func TestSweepStaleReclaims(t *testing.T) {
	sched, store := testScheduler()
	ctx := context.Background()
	item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
	if _, err := sched.ScheduleCall(ctx, item); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(ctx, item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	store.SetClaimedAt(item.ID, time.Now().UTC().Add(-time.Hour))

	swept, err := sched.SweepStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0] != item.ID {
		t.Fatalf("swept = %v", swept)
	}
	got, err := sched.GetCall(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("status after sweep = %s", got.Status)
	}
}

func TestStatsCounts(t *testing.T) {
	sched, _ := testScheduler()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		item := NewCallScheduleItem("c", "p", "+14045551234", time.Now().UTC(), TypeWellnessCheck, PriorityRoutine, "x")
		if _, err := sched.ScheduleCall(ctx, item); err != nil {
			t.Fatalf("schedule: %v", err)
		}
		if i == 0 {
			if ok, err := sched.Claim(ctx, item.ID); err != nil || !ok {
				t.Fatalf("claim: ok=%v err=%v", ok, err)
			}
		}
	}

	counts, err := sched.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if counts[StatusPending] != 2 {
		t.Fatalf("pending = %d", counts[StatusPending])
	}
	if counts[StatusInProgress] != 1 {
		t.Fatalf("in_progress = %d", counts[StatusInProgress])
	}
}
