package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPRoomAPI talks to the media server's REST API. It implements RoomAPI.
//
// The server bridges SIP into WebRTC rooms; all endpoints are authenticated
// with an API key pair sent as basic auth.
type HTTPRoomAPI struct {
	baseURL   string
	apiKey    string
	apiSecret string

	client *http.Client
}

type HTTPRoomAPIConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string

	// Timeout bounds individual requests except CreateSIPParticipant, which
	// blocks until the remote side answers and is bounded by its context.
	Timeout time.Duration
}

func NewHTTPRoomAPI(cfg HTTPRoomAPIConfig) (*HTTPRoomAPI, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("telephony: room api base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("telephony: room api base url: %w", err)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("telephony: room api key and secret are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRoomAPI{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type dispatchAgentRequest struct {
	RoomName  string `json:"room_name"`
	AgentName string `json:"agent_name"`
	Metadata  string `json:"metadata,omitempty"`
}

func (a *HTTPRoomAPI) DispatchAgent(ctx context.Context, roomName, agentName, metadata string) error {
	body := dispatchAgentRequest{RoomName: roomName, AgentName: agentName, Metadata: metadata}
	return a.do(ctx, http.MethodPost, "/v1/agents/dispatch", body, nil)
}

type sipParticipantResponse struct {
	ParticipantID string `json:"participant_id"`
	SIPCallID     string `json:"sip_call_id"`
}

type sipErrorResponse struct {
	SIPStatus int    `json:"sip_status"`
	Error     string `json:"error"`
}

func (a *HTTPRoomAPI) CreateSIPParticipant(ctx context.Context, req SIPParticipantRequest) (SIPParticipantInfo, error) {
	payload := map[string]any{
		"trunk_id":             req.TrunkID,
		"room_name":            req.RoomName,
		"phone_number":         req.PhoneNumber,
		"participant_identity": req.ParticipantIdentity,
		"wait_until_answered":  req.WaitUntilAnswered,
	}

	// This request blocks until the dial resolves, so it deliberately bypasses
	// the client timeout and relies on ctx.
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/v1/sip/participants", payload)
	if err != nil {
		return SIPParticipantInfo{}, err
	}
	resp, err := (&http.Client{Transport: a.client.Transport}).Do(httpReq)
	if err != nil {
		return SIPParticipantInfo{}, fmt.Errorf("telephony: sip participant request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SIPParticipantInfo{}, fmt.Errorf("telephony: sip participant response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var se sipErrorResponse
		if json.Unmarshal(raw, &se) == nil && se.SIPStatus != 0 {
			return SIPParticipantInfo{}, &SIPStatusError{Status: se.SIPStatus}
		}
		return SIPParticipantInfo{}, fmt.Errorf("telephony: sip participant: http %d", resp.StatusCode)
	}

	var out sipParticipantResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SIPParticipantInfo{}, fmt.Errorf("telephony: sip participant decode: %w", err)
	}
	return SIPParticipantInfo{ParticipantID: out.ParticipantID, SIPCallID: out.SIPCallID}, nil
}

func (a *HTTPRoomAPI) DeleteRoom(ctx context.Context, roomName string) error {
	return a.do(ctx, http.MethodDelete, "/v1/rooms/"+url.PathEscape(roomName), nil, nil)
}

func (a *HTTPRoomAPI) Ping(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (a *HTTPRoomAPI) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("telephony: encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(a.apiKey, a.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *HTTPRoomAPI) do(ctx context.Context, method, path string, body, out any) error {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telephony: %s %s: http %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return fmt.Errorf("telephony: %s %s decode: %w", method, path, err)
		}
	}
	return nil
}
