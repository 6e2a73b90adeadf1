// Package wire defines the frame envelope exchanged over the coordinator<->
// agent session, grounded on original_source/src/kubedoor-agent/kubedoor-agent.py's
// process_request dispatch (a JSON object with a "type" discriminant and a
// "request_id" correlation field) and on Design Note §9's tagged-variant
// AdmisReply proposal.
package wire

import "encoding/json"

// FrameType is the "type" discriminant carried by every frame.
type FrameType string

const (
	// Control plane
	FrameHello     FrameType = "hello"     // agent -> coordinator, session handshake
	FrameHeartbeat FrameType = "heartbeat" // agent -> coordinator, liveness
	FrameAck       FrameType = "ack"       // coordinator -> agent, hello/heartbeat ack

	// Request/response correlation (coordinator -> agent, forwarded operator calls)
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"

	// Pod log fan-out
	FrameLogStart FrameType = "log_start"
	FrameLogStop  FrameType = "log_stop"
	FrameLogLine  FrameType = "log_line"

	// K8s event ingestion (agent -> coordinator, fire-and-forget)
	FrameK8SEvent FrameType = "k8s_event"
)

// Envelope is the outer frame shape. Body carries the type-specific payload
// as raw JSON so the dispatcher can defer decoding until FrameType is known,
// matching the original's loosely-typed dict-based dispatch while keeping Go
// static typing at the edges.
type Envelope struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Hello is the first frame an agent sends after dialing the coordinator.
type Hello struct {
	Env     string `json:"env"`
	Version string `json:"version"`
}

// Heartbeat carries no payload beyond the envelope today but is a distinct
// type so it can grow fields (load, pending counts) without breaking the
// wire shape.
type Heartbeat struct{}

// Request is a coordinator-forwarded HTTP-shaped operator call: method/path
// plus body, mirroring kubedoor-master.py's http_handler forwarding shape.
type Request struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Body   json.RawMessage   `json:"body,omitempty"`
}

// Response is the agent's reply to a Request, correlated by RequestID.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// LogStart/LogStop identify a pod whose logs should be streamed/unstreamed,
// correlated by ConnectionID rather than namespace/pod so the coordinator
// can relay to the one browser connection that asked, matching spec.md §4.1's
// "relays any text frame the agent subsequently emits on that session whose
// originating connection matches."
type LogStart struct {
	ConnectionID string `json:"connectionId"`
	Namespace    string `json:"namespace"`
	Pod          string `json:"pod"`
	Container    string `json:"container,omitempty"`
}

type LogStop struct {
	ConnectionID string `json:"connectionId"`
}

// LogLine is a single plain-text log line relayed from the agent's
// container log stream, matching the original's text-only plumbing
// (spec.md design note: "pod-log text-only plumbing").
type LogLine struct {
	ConnectionID string `json:"connectionId"`
	Line         string `json:"line"`
}

// K8SEvent is the agent->coordinator watch-stream event payload, grounded on
// K8SEventProcessor._process_event_data's required-field set.
type K8SEvent struct {
	EventUID            string `json:"eventUid"`
	EventStatus         string `json:"eventStatus"` // ADDED | MODIFIED | DELETED
	Level               string `json:"level"`       // Normal | Warning
	Count               int    `json:"count"`
	Kind                string `json:"kind"`
	K8s                 string `json:"k8s"`
	Namespace           string `json:"namespace"`
	Name                string `json:"name"`
	Reason              string `json:"reason"`
	Message             string `json:"message"`
	FirstTimestamp      string `json:"firstTimestamp"` // RFC3339 UTC, e.g. 2025-08-28T11:16:47Z
	LastTimestamp       string `json:"lastTimestamp"`
	ReportingComponent  string `json:"reportingComponent"`
	ReportingInstance   string `json:"reportingInstance"`
	MsgToken            string `json:"msgToken,omitempty"`
}

// Encode wraps a typed payload into an Envelope ready for transmission.
func Encode(t FrameType, requestID string, payload interface{}) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Type: t, RequestID: requestID, Body: raw}, nil
}
