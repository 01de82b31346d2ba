package telephony

import (
	"context"
	"time"
)

// VoiceProvider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - All requests must be clinic-scoped (clinic_id required).
// - Keep request/response types provider-agnostic; store provider raw payloads in metadata if needed.
type VoiceProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Dial places one outbound patient call: it provisions the call room,
	// dispatches the voice agent, then bridges the patient in over SIP.
	// Failures carry a *DialFailure so callers can decide retry vs give up.
	Dial(ctx context.Context, req DialRequest) (DialResult, error)

	// Hangup tears down the call room, disconnecting everyone in it.
	Hangup(ctx context.Context, roomName string) error
}

// DialRequest describes one outbound call attempt.
type DialRequest struct {
	ClinicID string `json:"clinic_id"`

	// CallID is the schedule item being executed. The room name is derived
	// from it, so a duplicate dial for the same item lands in the same room.
	CallID string `json:"call_id"`

	// PatientPhone is E.164.
	PatientPhone string `json:"patient_phone"`

	// AgentMetadata is the JSON payload handed to the voice agent at
	// dispatch time (prompt, patient context). Built by BuildAgentMetadata.
	AgentMetadata string `json:"agent_metadata"`
}

// DialResult reports a successfully bridged call.
type DialResult struct {
	ClinicID string `json:"clinic_id"`
	CallID   string `json:"call_id"`

	RoomName            string `json:"room_name"`
	ParticipantIdentity string `json:"participant_identity"`

	// ProviderCallID is the provider's identifier for the SIP leg.
	ProviderCallID string `json:"provider_call_id,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// RoomNameForCall derives the deterministic room name for a schedule item.
func RoomNameForCall(callID string) string {
	return "followup-" + callID
}

// PatientIdentity is the participant identity assigned to the patient leg.
const PatientIdentity = "patient"
