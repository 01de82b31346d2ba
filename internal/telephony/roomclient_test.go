package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestRoomAPI(t *testing.T, handler http.Handler) *HTTPRoomAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api, err := NewHTTPRoomAPI(HTTPRoomAPIConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
	})
	if err != nil {
		t.Fatalf("new room api: %v", err)
	}
	return api
}

func TestHTTPRoomAPI_DispatchSendsAuth(t *testing.T) {
	var gotUser, gotPass, gotPath string
	api := newTestRoomAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	if err := api.DispatchAgent(context.Background(), "followup-1", "maya-followup", "{}"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if gotUser != "key" || gotPass != "secret" {
		t.Fatalf("auth = %q/%q", gotUser, gotPass)
	}
	if gotPath != "/v1/agents/dispatch" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestHTTPRoomAPI_SIPFailureMapsToStatusError(t *testing.T) {
	api := newTestRoomAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"sip_status": 486, "error": "busy"})
	}))

	_, err := api.CreateSIPParticipant(context.Background(), SIPParticipantRequest{
		TrunkID:             "ST_abc",
		RoomName:            "followup-1",
		PhoneNumber:         "+14045551234",
		ParticipantIdentity: PatientIdentity,
		WaitUntilAnswered:   true,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	var se *SIPStatusError
	if !errors.As(err, &se) || se.Status != 486 {
		t.Fatalf("expected sip status 486, got %v", err)
	}
}

func TestHTTPRoomAPI_SIPSuccessDecodesInfo(t *testing.T) {
	api := newTestRoomAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"participant_id": "PA_1",
			"sip_call_id":    "SCL_1",
		})
	}))

	info, err := api.CreateSIPParticipant(context.Background(), SIPParticipantRequest{
		TrunkID:     "ST_abc",
		RoomName:    "followup-1",
		PhoneNumber: "+14045551234",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if info.SIPCallID != "SCL_1" {
		t.Fatalf("sip call id = %q", info.SIPCallID)
	}
}

func TestNewHTTPRoomAPI_RequiresCredentials(t *testing.T) {
	if _, err := NewHTTPRoomAPI(HTTPRoomAPIConfig{BaseURL: "http://voice"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	if _, err := NewHTTPRoomAPI(HTTPRoomAPIConfig{APIKey: "k", APISecret: "s"}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
