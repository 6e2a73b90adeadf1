// Package session implements the coordinator-side control plane: one
// *Session per connected agent, a registry keyed by environment name, and
// request/response correlation via per-request completion channels.
// Grounded on original_source/src/kubedoor-master/kubedoor-master.py's
// websocket_handler (accept/reject-409/heartbeat/online-state) and
// heartbeat_check (3s-poll / 5s-timeout offline detection).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/wire"
)

func unmarshalBody(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Session is one agent's live connection and bookkeeping.
type Session struct {
	Env             string
	Version         string
	conn            *websocket.Conn
	writeMu         sync.Mutex // gorilla/websocket requires single-writer discipline
	lastHeartbeatAt atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan wire.Response

	logFanoutMu sync.RWMutex
	logFanout   map[string][]chan wire.LogLine // key: connection_id

	online     atomic.Bool
	onRecover  func()
	closeOnce  sync.Once
	closed     chan struct{}
}

// OnRecover registers a callback fired the first time a heartbeat arrives
// after the session had timed out, so the caller can flip the persisted
// agent_status row back online without polling it on every heartbeat.
func (s *Session) OnRecover(fn func()) {
	s.onRecover = fn
}

func newSession(env, version string, conn *websocket.Conn) *Session {
	s := &Session{
		Env:       env,
		Version:   version,
		conn:      conn,
		pending:   make(map[string]chan wire.Response),
		logFanout: make(map[string][]chan wire.LogLine),
		closed:    make(chan struct{}),
	}
	s.online.Store(true)
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastHeartbeatAt.Store(time.Now().UnixNano())
	if s.online.CompareAndSwap(false, true) && s.onRecover != nil {
		s.onRecover()
	}
}

func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeatAt.Load())
}

// Online reports whether the session is within its heartbeat window. A
// timed-out session flips this false but keeps its socket and registry entry
// so a late heartbeat can flip it back without a full reconnect.
func (s *Session) Online() bool {
	return s.online.Load()
}

// writeEnvelope serializes writes to the underlying connection; gorilla's
// *websocket.Conn permits only one concurrent writer.
func (s *Session) writeEnvelope(env wire.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(env)
}

// Request sends a Request frame and blocks for the correlated Response, or
// until ctx is done / the 120s coordinator-side deadline elapses (spec.md §5).
func (s *Session) Request(ctx context.Context, req wire.Request) (wire.Response, error) {
	id := uuid.NewString()
	env, err := wire.Encode(wire.FrameRequest, id, req)
	if err != nil {
		return wire.Response{}, err
	}

	ch := make(chan wire.Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeEnvelope(env); err != nil {
		return wire.Response{}, fmt.Errorf("write request to agent %s: %w", s.Env, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-s.closed:
		return wire.Response{}, fmt.Errorf("agent %s session closed while awaiting response", s.Env)
	case <-ctx.Done():
		return wire.Response{}, ctx.Err()
	}
}

// resolve delivers a Response frame to its waiting Request caller.
func (s *Session) resolve(requestID string, resp wire.Response) {
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	s.pendingMu.Unlock()
	if !ok {
		return // late or duplicate response; drop
	}
	select {
	case ch <- resp:
	default:
	}
}

// SubscribeLogs registers a sink for a connection's log lines and returns an
// unsubscribe func.
func (s *Session) SubscribeLogs(connectionID string, sink chan wire.LogLine) func() {
	s.logFanoutMu.Lock()
	s.logFanout[connectionID] = append(s.logFanout[connectionID], sink)
	s.logFanoutMu.Unlock()
	return func() {
		s.logFanoutMu.Lock()
		defer s.logFanoutMu.Unlock()
		sinks := s.logFanout[connectionID]
		for i, c := range sinks {
			if c == sink {
				s.logFanout[connectionID] = append(sinks[:i], sinks[i+1:]...)
				break
			}
		}
	}
}

func (s *Session) fanoutLogLine(line wire.LogLine) {
	s.logFanoutMu.RLock()
	sinks := append([]chan wire.LogLine(nil), s.logFanout[line.ConnectionID]...)
	s.logFanoutMu.RUnlock()
	for _, c := range sinks {
		select {
		case c <- line:
		default:
		}
	}
}

// SendLogStart/SendLogStop push fire-and-forget control frames to the agent,
// asking it to begin or stop streaming a pod's logs for connectionID.
func (s *Session) SendLogStart(start wire.LogStart) error {
	env, err := wire.Encode(wire.FrameLogStart, "", start)
	if err != nil {
		return err
	}
	return s.writeEnvelope(env)
}

func (s *Session) SendLogStop(stop wire.LogStop) error {
	env, err := wire.Encode(wire.FrameLogStop, "", stop)
	if err != nil {
		return err
	}
	return s.writeEnvelope(env)
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Registry is the coordinator's map of connected agents, read far more often
// than it's written (one write per connect/disconnect, many reads per
// operator call), matching spec.md §5's sync.RWMutex guidance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

// ErrAlreadyConnected is returned when an env already has a live session;
// restapi.HandleWebsocket then closes the new connection with websocket
// close code 4090.
var ErrAlreadyConnected = fmt.Errorf("agent for this environment is already connected")

func (r *Registry) Accept(env, version string, conn *websocket.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[env]; ok && existing != nil {
		select {
		case <-existing.closed:
			// stale entry, fall through and replace
		default:
			return nil, ErrAlreadyConnected
		}
	}
	s := newSession(env, version, conn)
	r.sessions[env] = s
	return s, nil
}

func (r *Registry) Get(env string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[env]
	return s, ok
}

func (r *Registry) Remove(env string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[env]; ok && cur == s {
		delete(r.sessions, env)
	}
}

// Names returns the sorted-by-caller-discretion list of connected agent
// environment names, for the /api/agent/names endpoint.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for env := range r.sessions {
		out = append(out, env)
	}
	return out
}

// HeartbeatCheck runs forever until ctx is cancelled, flagging sessions that
// have missed their heartbeat window as offline. Grounded on
// kubedoor-master.py's heartbeat_check: polls every 3s, declares an agent
// offline after 5s of silence. A timeout never closes the socket or removes
// the registry entry (spec.md §5: "Heartbeat timeout does not close the
// socket — it only flips online, allowing quick recovery on the next tick");
// a dead TCP connection is instead discovered by the session's read loop,
// which calls Remove when ReadJSON errors.
func (r *Registry) HeartbeatCheck(ctx context.Context, pollInterval, timeout time.Duration, onTimeout func(env string)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.RLock()
			var timedOut []string
			for env, s := range r.sessions {
				if s.Online() && now.Sub(s.LastHeartbeat()) > timeout {
					timedOut = append(timedOut, env)
				}
			}
			r.mu.RUnlock()
			for _, env := range timedOut {
				s, ok := r.Get(env)
				if !ok || !s.online.CompareAndSwap(true, false) {
					continue
				}
				r.logger.Warn("agent heartbeat timed out, marking offline", zap.String("env", env))
				if onTimeout != nil {
					onTimeout(env)
				}
			}
		}
	}
}

// Dispatch routes an inbound Envelope from an agent's connection to the
// right handling path: heartbeat touch, response correlation, or log-line
// fanout. The coordinator's read loop calls this for every frame it
// receives from a given session.
func (s *Session) Dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.FrameHeartbeat:
		s.touch()
	case wire.FrameResponse:
		var resp wire.Response
		if err := unmarshalBody(env.Body, &resp); err == nil {
			s.resolve(env.RequestID, resp)
		}
	case wire.FrameLogLine:
		var line wire.LogLine
		if err := unmarshalBody(env.Body, &line); err == nil {
			s.fanoutLogLine(line)
		}
	}
}
