package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoomAPI is the slice of the media server API the provider needs. The real
// implementation wraps the server SDK; tests inject a fake.
type RoomAPI interface {
	// DispatchAgent asks the server to place the named agent into the room
	// with the given metadata, and blocks until the agent has joined.
	DispatchAgent(ctx context.Context, roomName, agentName, metadata string) error

	// CreateSIPParticipant dials the phone number through the outbound trunk
	// and bridges the answered leg into the room. A non-2xx SIP final
	// response surfaces as a SIPStatusError.
	CreateSIPParticipant(ctx context.Context, req SIPParticipantRequest) (SIPParticipantInfo, error)

	// DeleteRoom tears the room down, disconnecting all participants.
	DeleteRoom(ctx context.Context, roomName string) error

	Ping(ctx context.Context) error
}

type SIPParticipantRequest struct {
	TrunkID             string
	RoomName            string
	PhoneNumber         string
	ParticipantIdentity string
	// WaitUntilAnswered blocks the call until the remote side picks up, so
	// an error return means the dial definitively failed.
	WaitUntilAnswered bool
}

type SIPParticipantInfo struct {
	ParticipantID string
	SIPCallID     string
}

// SIPStatusError is returned by RoomAPI implementations when the SIP leg
// fails with a final response code.
type SIPStatusError struct {
	Status int
}

func (e *SIPStatusError) Error() string {
	return fmt.Sprintf("sip: final response %d", e.Status)
}

// LiveKitProvider places outbound calls through a LiveKit-style media server:
// agent dispatch first, SIP participant second, so the patient never sits in
// an empty room.
type LiveKitProvider struct {
	api             RoomAPI
	trunkID         string
	agentName       string
	dispatchTimeout time.Duration

	clock func() time.Time
}

type LiveKitConfig struct {
	// OutboundTrunkID must be a SIP trunk id ("ST_" prefix).
	OutboundTrunkID string
	AgentName       string
	DispatchTimeout time.Duration
}

func NewLiveKitProvider(api RoomAPI, cfg LiveKitConfig) (*LiveKitProvider, error) {
	if api == nil {
		return nil, errors.New("telephony: room api is required")
	}
	if !strings.HasPrefix(cfg.OutboundTrunkID, "ST_") {
		return nil, fmt.Errorf("telephony: outbound trunk id %q must start with ST_", cfg.OutboundTrunkID)
	}
	if cfg.AgentName == "" {
		return nil, errors.New("telephony: agent name is required")
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 5 * time.Minute
	}
	return &LiveKitProvider{
		api:             api,
		trunkID:         cfg.OutboundTrunkID,
		agentName:       cfg.AgentName,
		dispatchTimeout: cfg.DispatchTimeout,
		clock:           time.Now,
	}, nil
}

func (p *LiveKitProvider) Name() string { return "livekit" }

func (p *LiveKitProvider) HealthCheck(ctx context.Context) error {
	return p.api.Ping(ctx)
}

func (p *LiveKitProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if req.CallID == "" || req.PatientPhone == "" {
		return DialResult{}, errors.New("telephony: call_id and patient_phone are required")
	}

	roomName := RoomNameForCall(req.CallID)
	startedAt := p.clock().UTC()

	dispatchCtx, cancel := context.WithTimeout(ctx, p.dispatchTimeout)
	defer cancel()
	if err := p.api.DispatchAgent(dispatchCtx, roomName, p.agentName, req.AgentMetadata); err != nil {
		// A dispatch that never came up is a provider-side problem, retryable.
		return DialResult{}, &DialFailure{
			SIPStatus: 503,
			Kind:      FailureTransient,
			Message:   "Service temporarily unavailable",
		}
	}

	info, err := p.api.CreateSIPParticipant(ctx, SIPParticipantRequest{
		TrunkID:             p.trunkID,
		RoomName:            roomName,
		PhoneNumber:         req.PatientPhone,
		ParticipantIdentity: PatientIdentity,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		// Clean up the room so the agent is not left waiting for a patient
		// who will never join.
		_ = p.api.DeleteRoom(context.WithoutCancel(ctx), roomName)

		var se *SIPStatusError
		if errors.As(err, &se) {
			return DialResult{}, ClassifySIPStatus(se.Status)
		}
		return DialResult{}, fmt.Errorf("telephony: sip participant: %w", err)
	}

	return DialResult{
		ClinicID:            req.ClinicID,
		CallID:              req.CallID,
		RoomName:            roomName,
		ParticipantIdentity: PatientIdentity,
		ProviderCallID:      info.SIPCallID,
		StartedAt:           startedAt,
	}, nil
}

func (p *LiveKitProvider) Hangup(ctx context.Context, roomName string) error {
	return p.api.DeleteRoom(ctx, roomName)
}
