package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/records"

	"github.com/gin-gonic/gin"
)

func setupWebhook(t *testing.T) (*gin.Engine, *calls.Scheduler, *records.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sched := calls.NewScheduler(calls.NewMemoryStore(), nil, nil)
	recs := records.NewService(records.NewMemoryRepo())

	h := CallResultHandler{Scheduler: sched, Records: recs, Secret: "s3cret"}
	r := gin.New()
	r.POST("/webhooks/voice/result", h.HandleCallResult)
	return r, sched, recs
}

func claimedItem(t *testing.T, sched *calls.Scheduler) calls.CallScheduleItem {
	t.Helper()
	item := calls.NewCallScheduleItem("clinic-1", "patient-1", "+14045551234",
		time.Now().UTC(), calls.TypeWellnessCheck, calls.PriorityRoutine, "check in")
	if _, err := sched.ScheduleCall(context.Background(), item); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if ok, err := sched.Claim(context.Background(), item.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	return item
}

func postResult(t *testing.T, r *gin.Engine, secret string, payload CallResultPayload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice/result", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallResultCompletesItem(t *testing.T) {
	r, sched, recs := setupWebhook(t)
	item := claimedItem(t, sched)

	started := time.Now().UTC().Add(-5 * time.Minute)
	w := postResult(t, r, "s3cret", CallResultPayload{
		CallID:              item.ID,
		Outcome:             "completed",
		StartedAt:           started,
		EndedAt:             started.Add(3 * time.Minute),
		RoomName:            "followup-" + item.ID,
		ConversationSummary: "patient doing well, no concerns",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	got, err := sched.GetCall(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != calls.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if history[0].Outcome != records.OutcomeCompleted {
		t.Fatalf("outcome = %s", history[0].Outcome)
	}
	if history[0].AttemptNumber != 1 {
		t.Fatalf("attempt = %d", history[0].AttemptNumber)
	}
}

func TestCallResultSchedulesFollowUps(t *testing.T) {
	r, sched, _ := setupWebhook(t)
	item := claimedItem(t, sched)

	followUpAt := time.Now().UTC().Add(24 * time.Hour)
	w := postResult(t, r, "s3cret", CallResultPayload{
		CallID:  item.ID,
		Outcome: "completed",
		AdditionalCalls: []AdditionalCallRequest{
			{
				ScheduledTime: followUpAt,
				CallType:      "wellness_check",
				Priority:      2,
				Prompt:        "Patient mentioned lingering swelling; check back tomorrow.",
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		AdditionalCallsScheduled int `json:"additional_calls_scheduled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AdditionalCallsScheduled != 1 {
		t.Fatalf("additional_calls_scheduled = %d", resp.AdditionalCallsScheduled)
	}

	patientCalls, err := sched.GetPatientCalls(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("patient calls: %v", err)
	}
	if len(patientCalls) != 2 {
		t.Fatalf("expected 2 items, got %d", len(patientCalls))
	}
	var followUp *calls.CallScheduleItem
	for i := range patientCalls {
		if patientCalls[i].ID != item.ID {
			followUp = &patientCalls[i]
		}
	}
	if followUp == nil {
		t.Fatal("follow-up item not found")
	}
	if followUp.Metadata["parent_call_id"] != item.ID {
		t.Fatalf("parent_call_id = %q", followUp.Metadata["parent_call_id"])
	}
	if !followUp.ScheduledTime.Equal(followUpAt) {
		t.Fatalf("scheduled_time = %v", followUp.ScheduledTime)
	}
}

func TestCallResultDefaultsEndTimestamp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sched := calls.NewScheduler(calls.NewMemoryStore(), nil, nil)
	recs := records.NewService(records.NewMemoryRepo())

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := CallResultHandler{
		Scheduler: sched,
		Records:   recs,
		Secret:    "s3cret",
		Now:       func() time.Time { return now },
	}
	r := gin.New()
	r.POST("/webhooks/voice/result", h.HandleCallResult)
	item := claimedItem(t, sched)

	// No ended_at in the payload; the handler fills it.
	w := postResult(t, r, "s3cret", CallResultPayload{
		CallID:    item.ID,
		Outcome:   "completed",
		StartedAt: now.Add(-2 * time.Minute),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	history, err := recs.History(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if !history[0].EndedAt.Equal(now) {
		t.Fatalf("ended_at = %v, want %v", history[0].EndedAt, now)
	}
	if history[0].DurationSeconds != 120 {
		t.Fatalf("duration = %d, want 120", history[0].DurationSeconds)
	}
}

func TestCallResultRejectsBadSecret(t *testing.T) {
	r, sched, _ := setupWebhook(t)
	item := claimedItem(t, sched)

	w := postResult(t, r, "wrong", CallResultPayload{CallID: item.ID, Outcome: "completed"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCallResultUnknownCall(t *testing.T) {
	r, _, _ := setupWebhook(t)
	w := postResult(t, r, "s3cret", CallResultPayload{CallID: "nope", Outcome: "completed"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}
