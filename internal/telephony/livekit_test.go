package telephony

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRoomAPI struct {
	dispatchErr error
	sipErr      error

	dispatchedRoom  string
	dispatchedAgent string
	dispatchedMeta  string
	sipReq          SIPParticipantRequest
	deletedRoom     string
	order           []string
}

func (f *fakeRoomAPI) DispatchAgent(ctx context.Context, roomName, agentName, metadata string) error {
	f.order = append(f.order, "dispatch")
	f.dispatchedRoom = roomName
	f.dispatchedAgent = agentName
	f.dispatchedMeta = metadata
	return f.dispatchErr
}

func (f *fakeRoomAPI) CreateSIPParticipant(ctx context.Context, req SIPParticipantRequest) (SIPParticipantInfo, error) {
	f.order = append(f.order, "sip")
	f.sipReq = req
	if f.sipErr != nil {
		return SIPParticipantInfo{}, f.sipErr
	}
	return SIPParticipantInfo{ParticipantID: "PA_1", SIPCallID: "SCL_1"}, nil
}

func (f *fakeRoomAPI) DeleteRoom(ctx context.Context, roomName string) error {
	f.order = append(f.order, "delete")
	f.deletedRoom = roomName
	return nil
}

func (f *fakeRoomAPI) Ping(ctx context.Context) error { return nil }

func newTestProvider(t *testing.T, api RoomAPI) *LiveKitProvider {
	t.Helper()
	p, err := NewLiveKitProvider(api, LiveKitConfig{
		OutboundTrunkID: "ST_trunk1",
		AgentName:       "maya-followup",
		DispatchTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

func TestDialAgentFirstThenPatient(t *testing.T) {
	api := &fakeRoomAPI{}
	p := newTestProvider(t, api)

	res, err := p.Dial(context.Background(), DialRequest{
		ClinicID:      "clinic-1",
		CallID:        "call-1",
		PatientPhone:  "+14045551234",
		AgentMetadata: `{"prompt":"x"}`,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if len(api.order) != 2 || api.order[0] != "dispatch" || api.order[1] != "sip" {
		t.Fatalf("call order = %v", api.order)
	}
	if res.RoomName != "followup-call-1" {
		t.Fatalf("room = %q", res.RoomName)
	}
	if res.ParticipantIdentity != "patient" {
		t.Fatalf("identity = %q", res.ParticipantIdentity)
	}
	if api.sipReq.TrunkID != "ST_trunk1" {
		t.Fatalf("trunk = %q", api.sipReq.TrunkID)
	}
	if !api.sipReq.WaitUntilAnswered {
		t.Fatal("expected WaitUntilAnswered")
	}
	if api.dispatchedAgent != "maya-followup" {
		t.Fatalf("agent = %q", api.dispatchedAgent)
	}
}

func TestDialDispatchFailureIsTransient(t *testing.T) {
	api := &fakeRoomAPI{dispatchErr: errors.New("no workers available")}
	p := newTestProvider(t, api)

	_, err := p.Dial(context.Background(), DialRequest{CallID: "call-1", PatientPhone: "+14045551234"})
	f, ok := AsDialFailure(err)
	if !ok {
		t.Fatalf("expected DialFailure, got %v", err)
	}
	if f.Kind != FailureTransient {
		t.Fatalf("kind = %v", f.Kind)
	}
}

func TestDialBusyClassifiedAndRoomCleaned(t *testing.T) {
	api := &fakeRoomAPI{sipErr: &SIPStatusError{Status: 486}}
	p := newTestProvider(t, api)

	_, err := p.Dial(context.Background(), DialRequest{CallID: "call-1", PatientPhone: "+14045551234"})
	f, ok := AsDialFailure(err)
	if !ok {
		t.Fatalf("expected DialFailure, got %v", err)
	}
	if f.Kind != FailureTransient || f.Message != "Patient phone was busy" {
		t.Fatalf("unexpected classification: %+v", f)
	}
	if api.deletedRoom != "followup-call-1" {
		t.Fatalf("room not cleaned up: %q", api.deletedRoom)
	}
}

func TestNewLiveKitProviderValidatesTrunk(t *testing.T) {
	_, err := NewLiveKitProvider(&fakeRoomAPI{}, LiveKitConfig{
		OutboundTrunkID: "trunk1",
		AgentName:       "maya-followup",
	})
	if err == nil {
		t.Fatal("expected error for trunk id without ST_ prefix")
	}
}
