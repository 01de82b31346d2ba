package telephony

import (
	"crypto/subtle"
	"net/http"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/records"
	"postop-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallResultHandler receives the voice agent's end-of-call report, persists
// the attempt record, finalizes the schedule item, and schedules any
// follow-up calls the agent requested during the conversation.
//
// No conversation logic here.
//
// Tenant scoping:
// - clinic_id comes from the stored schedule item, never from the payload.

type CallResultHandler struct {
	Scheduler *calls.Scheduler
	Records   *records.Service

	// Secret guards the endpoint; the agent sends it in X-Webhook-Secret.
	Secret string

	Now func() time.Time
}

// CallResultPayload is what the agent posts when a call ends.
type CallResultPayload struct {
	CallID string `json:"call_id" binding:"required"`

	Outcome string `json:"outcome" binding:"required"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	RoomName            string `json:"room_name,omitempty"`
	ConversationSummary string `json:"conversation_summary,omitempty"`
	OutcomeNotes        string `json:"outcome_notes,omitempty"`

	AdditionalCalls []AdditionalCallRequest `json:"additional_calls,omitempty"`
}

// AdditionalCallRequest is a follow-up the agent decided the patient needs.
type AdditionalCallRequest struct {
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	CallType      string    `json:"call_type"`
	Priority      int       `json:"priority"`
	Prompt        string    `json:"prompt" binding:"required"`
}

func (h CallResultHandler) HandleCallResult(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Scheduler == nil || h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call result handler not configured"})
		return
	}
	if !h.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload CallResultPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn("call result parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// Agents that crash mid-report may omit the end timestamp; fill it so
	// the record still gets a duration.
	if payload.EndedAt.IsZero() {
		payload.EndedAt = h.Now().UTC()
	}

	ctx := c.Request.Context()
	item, err := h.Scheduler.GetCall(ctx, payload.CallID)
	if err != nil {
		log.Warn("call result for unknown call", "call_id", payload.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}

	outcome := records.Outcome(payload.Outcome)
	scheduled := 0
	for _, add := range payload.AdditionalCalls {
		followUp := calls.NewCallScheduleItem(
			item.ClinicID, item.PatientID, item.PatientPhone,
			add.ScheduledTime,
			calls.ParseCallType(add.CallType),
			normalizePriority(add.Priority),
			add.Prompt,
		)
		followUp.Metadata["call_source"] = "agent_follow_up"
		followUp.Metadata["parent_call_id"] = item.ID
		ok, err := h.Scheduler.ScheduleCall(ctx, followUp)
		if err != nil {
			log.Error("follow-up scheduling failed", "call_id", item.ID, "err", err)
			continue
		}
		if ok {
			scheduled++
		}
	}

	rec := records.CallRecord{
		ScheduleItemID:           item.ID,
		ClinicID:                 item.ClinicID,
		PatientID:                item.PatientID,
		AttemptNumber:            item.AttemptCount + 1,
		Outcome:                  outcome,
		StartedAt:                payload.StartedAt,
		EndedAt:                  payload.EndedAt,
		RoomName:                 payload.RoomName,
		ParticipantIdentity:      PatientIdentity,
		ConversationSummary:      payload.ConversationSummary,
		AdditionalCallsScheduled: scheduled,
		OutcomeNotes:             payload.OutcomeNotes,
	}
	stored, err := h.Records.Record(ctx, rec)
	if err != nil {
		log.Error("call record append failed", "call_id", item.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid outcome"})
		return
	}

	next := calls.StatusCompleted
	note := "call completed"
	if outcome != records.OutcomeCompleted {
		next = calls.StatusFailed
		note = payload.OutcomeNotes
	}
	if item.Status == calls.StatusInProgress {
		if err := h.Scheduler.UpdateCallStatus(ctx, item.ID, next, note); err != nil {
			// The worker may have finalized the item first; the record above
			// is still the source of truth for what happened on the call.
			log.Warn("call result finalize skipped", "call_id", item.ID, "err", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"record_id":                  stored.ID,
		"additional_calls_scheduled": scheduled,
	})
}

func (h CallResultHandler) authorized(c *gin.Context) bool {
	return webhookAuthorized(c, h.Secret)
}

func webhookAuthorized(c *gin.Context, secret string) bool {
	if secret == "" {
		return true
	}
	got := c.GetHeader("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

func normalizePriority(p int) int {
	if p < calls.PriorityUrgent || p > calls.PriorityRoutine {
		return calls.PriorityRoutine
	}
	return p
}
