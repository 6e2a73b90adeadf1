package wire

import (
	"encoding/json"
	"testing"
)

func TestEncode_RoundTrips(t *testing.T) {
	env, err := Encode(FrameRequest, "req-1", Request{Method: "GET", Path: "/api/scale"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != FrameRequest || env.RequestID != "req-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var req Request
	if err := json.Unmarshal(env.Body, &req); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if req.Method != "GET" || req.Path != "/api/scale" {
		t.Errorf("got %+v", req)
	}
}

func TestEncode_NilPayloadOmitsBody(t *testing.T) {
	env, err := Encode(FrameHeartbeat, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Body != nil {
		t.Errorf("expected nil body, got %s", env.Body)
	}
}

func TestEnvelope_OmitsEmptyRequestID(t *testing.T) {
	env, _ := Encode(FrameHeartbeat, "", Heartbeat{})
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw["request_id"]; ok {
		t.Error("expected request_id to be omitted when empty")
	}
}
