package telephony

import (
	"net/http"
	"strings"
	"time"

	"postop-platform/internal/calls"
	"postop-platform/internal/session"
	"postop-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DischargeSessionHandler receives the in-room agent's report at the end of a
// discharge conversation. It replays the transcript through the listening
// session workflow, finalizes the verified instruction list, and turns the
// discharge orders into the patient's follow-up call plan.
//
// Tenant scoping:
// - clinic_id comes from the payload; the in-room agent is clinic-deployed
//   and authenticates with the shared webhook secret.

type DischargeSessionHandler struct {
	Scheduler *calls.Scheduler

	// Secret guards the endpoint; the agent sends it in X-Webhook-Secret.
	Secret string

	// AgentName is the vocative the nurse uses to address the agent.
	AgentName string
}

// DischargeSessionPayload is what the agent posts when the nurse finishes the
// discharge conversation.
type DischargeSessionPayload struct {
	ClinicID     string `json:"clinic_id" binding:"required"`
	PatientID    string `json:"patient_id" binding:"required"`
	PatientName  string `json:"patient_name" binding:"required"`
	PatientPhone string `json:"patient_phone" binding:"required"`

	PatientLanguage string `json:"patient_language,omitempty"`

	DischargeTime    time.Time `json:"discharge_time" binding:"required"`
	SelectedOrderIDs []string  `json:"selected_order_ids"`

	// Utterances is the nurse-side transcript, in order.
	Utterances []string `json:"utterances" binding:"required"`
}

func (h DischargeSessionHandler) HandleDischargeSession(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "discharge session handler not configured"})
		return
	}
	if !webhookAuthorized(c, h.Secret) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var payload DischargeSessionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn("discharge session parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	summary, err := h.replay(payload)
	if err != nil {
		log.Warn("discharge session replay failed", "patient_id", payload.PatientID, "err", err)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	result, err := h.Scheduler.GenerateCallsForPatient(ctx, calls.GenerateRequest{
		ClinicID:         payload.ClinicID,
		PatientID:        payload.PatientID,
		PatientPhone:     payload.PatientPhone,
		PatientName:      payload.PatientName,
		DischargeTime:    payload.DischargeTime,
		SelectedOrderIDs: payload.SelectedOrderIDs,
	})
	if err != nil {
		log.Warn("discharge call generation failed", "patient_id", payload.PatientID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The follow-up caller reads these back to the patient, so every item in
	// the plan carries the verified instruction list.
	attachInstructions(result.Items, summary.Instructions)

	scheduled, err := h.Scheduler.ScheduleAll(ctx, result.Items)
	if err != nil {
		log.Error("discharge call scheduling failed", "patient_id", payload.PatientID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "scheduling unavailable"})
		return
	}

	log.Info("discharge session processed",
		"clinic_id", payload.ClinicID,
		"patient_id", payload.PatientID,
		"instructions", len(summary.Instructions),
		"calls_scheduled", scheduled,
	)
	c.JSON(http.StatusOK, gin.H{
		"instructions_captured": len(summary.Instructions),
		"calls_scheduled":       scheduled,
		"order_errors":          result.OrderErrors,
	})
}

// replay feeds the transcript through a fresh listening session. The
// conversation must reach verification (the nurse confirmed the readback
// before the agent reported), otherwise the instructions are unverified and
// the plan is not built.
func (h DischargeSessionHandler) replay(payload DischargeSessionPayload) (session.FinalSummary, error) {
	agent := h.AgentName
	if agent == "" {
		agent = "maya"
	}
	m := session.NewMachine(agent, payload.PatientName, payload.PatientLanguage)
	if err := m.Begin(); err != nil {
		return session.FinalSummary{}, err
	}

	for _, text := range payload.Utterances {
		res, err := m.ProcessUtterance(text)
		if err != nil {
			return session.FinalSummary{}, err
		}
		if !res.Exited {
			continue
		}
		if res.Mode == session.ModeVerification {
			break
		}
		// Translation interludes are spoken live; in the transcript replay
		// the session just goes back to listening.
		if err := m.ResumeListening(); err != nil {
			return session.FinalSummary{}, err
		}
	}

	if m.Mode() == session.ModeVerification {
		if err := m.Confirm(); err != nil {
			return session.FinalSummary{}, err
		}
	}
	return m.Finalize()
}

func attachInstructions(items []calls.CallScheduleItem, instructions []session.Instruction) {
	if len(instructions) == 0 {
		return
	}
	texts := make([]string, len(instructions))
	for i, inst := range instructions {
		texts[i] = inst.Text
	}
	joined := strings.Join(texts, " | ")
	for i := range items {
		items[i].Metadata["discharge_instructions"] = joined
	}
}
