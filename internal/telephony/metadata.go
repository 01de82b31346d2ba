package telephony

import (
	"encoding/json"

	"postop-platform/internal/calls"
)

// AgentMetadata is the JSON payload delivered to the voice agent when it is
// dispatched into a call room. It carries everything the agent needs to run
// the conversation without a backend round trip.
type AgentMetadata struct {
	CallID       string `json:"call_id"`
	ClinicID     string `json:"clinic_id"`
	PatientID    string `json:"patient_id"`
	PatientPhone string `json:"patient_phone"`

	CallType string `json:"call_type"`
	Priority int    `json:"priority"`

	// Prompt is the fully rendered instruction text for this call.
	Prompt string `json:"prompt"`

	AttemptNumber int `json:"attempt_number"`

	// Extra carries the item's free-form metadata (order label, timing).
	Extra map[string]string `json:"extra,omitempty"`
}

// BuildAgentMetadata serializes the dispatch payload for a schedule item.
// AttemptNumber is 1-based.
func BuildAgentMetadata(item calls.CallScheduleItem, attemptNumber int) (string, error) {
	m := AgentMetadata{
		CallID:        item.ID,
		ClinicID:      item.ClinicID,
		PatientID:     item.PatientID,
		PatientPhone:  item.PatientPhone,
		CallType:      string(item.CallType),
		Priority:      item.Priority,
		Prompt:        item.LLMPrompt,
		AttemptNumber: attemptNumber,
		Extra:         item.Metadata,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
