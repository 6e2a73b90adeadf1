package restapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/wire"
)

// podLogsRequest is the browser's opening frame on /ws/pod-logs, naming the
// agent env and the pod whose logs it wants to tail.
type podLogsRequest struct {
	Env       string `json:"env"`
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
	Container string `json:"container,omitempty"`
}

// HandlePodLogs implements spec.md §4.1's browser-facing log fan-out
// endpoint: allocate a connection_id, ask the owning agent to start_pod_logs,
// and relay every log_line it emits for that connection back to the
// browser as a plain text frame. Client disconnect sends stop_pod_logs to
// the agent so it stops tailing.
func (d WebsocketDeps) HandlePodLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("pod-logs websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req podLogsRequest
	if err := conn.ReadJSON(&req); err != nil {
		d.Log.Warn("pod-logs: expected opening request frame", zap.Error(err))
		return
	}

	sess, ok := d.Registry.Get(req.Env)
	if !ok {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("agent for this environment is not connected"))
		return
	}

	connectionID := uuid.NewString()
	sink := make(chan wire.LogLine, 32)
	unsubscribe := sess.SubscribeLogs(connectionID, sink)
	defer unsubscribe()

	if err := sess.SendLogStart(wire.LogStart{
		ConnectionID: connectionID,
		Namespace:    req.Namespace,
		Pod:          req.Pod,
		Container:    req.Container,
	}); err != nil {
		d.Log.Error("pod-logs: failed to send start_pod_logs", zap.Error(err))
		return
	}
	defer func() {
		_ = sess.SendLogStop(wire.LogStop{ConnectionID: connectionID})
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-sink:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Line)); err != nil {
				return
			}
		}
	}
}
