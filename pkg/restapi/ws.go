package restapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/events"
	"github.com/nikarhub/kubedoor/pkg/session"
	"github.com/nikarhub/kubedoor/pkg/store"
	"github.com/nikarhub/kubedoor/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketDeps bundles the coordinator's session endpoint collaborators.
type WebsocketDeps struct {
	Registry  *session.Registry
	Store     *store.Store
	Processor *events.Processor
	Log       *zap.Logger
}

// HandleWebsocket accepts an agent connection: waits for the hello frame,
// registers the session, then loops reading frames until the connection
// drops. A duplicate env is rejected after the upgrade by a websocket close
// frame with code 4090; no HTTP 409 status is sent.
func (d WebsocketDeps) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	var helloEnv wire.Envelope
	if err := conn.ReadJSON(&helloEnv); err != nil || helloEnv.Type != wire.FrameHello {
		d.Log.Warn("expected hello frame", zap.Error(err))
		conn.Close()
		return
	}
	var hello wire.Hello
	if err := json.Unmarshal(helloEnv.Body, &hello); err != nil {
		conn.Close()
		return
	}

	sess, err := d.Registry.Accept(hello.Env, hello.Version, conn)
	if err != nil {
		d.Log.Warn("rejecting duplicate agent connection", zap.String("env", hello.Env))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4090, err.Error()))
		conn.Close()
		return
	}
	sess.OnRecover(func() {
		if err := d.Store.SetAgentOnline(context.Background(), hello.Env, hello.Version, true); err != nil {
			d.Log.Error("failed to mark agent online after heartbeat recovery", zap.Error(err))
		}
	})
	defer func() {
		d.Registry.Remove(hello.Env, sess)
		if err := d.Store.SetAgentOnline(r.Context(), hello.Env, hello.Version, false); err != nil {
			d.Log.Error("failed to mark agent offline", zap.Error(err))
		}
	}()

	if err := d.Store.InitAgentStatus(r.Context(), hello.Env, hello.Version); err != nil {
		d.Log.Error("failed to init agent status", zap.Error(err))
	}
	d.Log.Info("agent connected", zap.String("env", hello.Env), zap.String("version", hello.Version))

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			d.Log.Info("agent disconnected", zap.String("env", hello.Env), zap.Error(err))
			return
		}

		if env.Type == wire.FrameK8SEvent {
			d.handleEvent(r, env)
			continue
		}
		sess.Dispatch(env)
	}
}

func (d WebsocketDeps) handleEvent(r *http.Request, env wire.Envelope) {
	var e wire.K8SEvent
	if err := json.Unmarshal(env.Body, &e); err != nil {
		d.Log.Error("failed to decode k8s_event frame", zap.Error(err))
		return
	}
	record, err := events.ToRecord(e)
	if err != nil {
		d.Log.Error("failed to process k8s event", zap.Error(err))
		return
	}
	if err := d.Store.UpsertEvent(r.Context(), record); err != nil {
		d.Log.Error("failed to store k8s event", zap.Error(err))
		return
	}
	if d.Processor != nil {
		if err := d.Processor.Process(r.Context(), record); err != nil {
			d.Log.Error("failed to process alert for event", zap.Error(err))
		}
	}
}
