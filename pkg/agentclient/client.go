// Package agentclient is the agent-side half of C1: dial the coordinator,
// send hello/heartbeat frames, dispatch inbound Request frames to local
// handlers, and reconnect on disconnect. Grounded on
// original_source/src/kubedoor-agent/kubedoor-agent.py's connect_to_server,
// process_request dispatch loop, and heartbeat sender.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/wire"
)

// Handler answers a forwarded Request frame.
type Handler func(ctx context.Context, req wire.Request) wire.Response

// LogStartFunc begins tailing the requested pod's logs, calling emit for
// each line until ctx is cancelled (the coordinator sent log_stop, or the
// session dropped). Grounded on kubedoor-agent.py's start_pod_logs handler.
type LogStartFunc func(ctx context.Context, start wire.LogStart, emit func(line string) error) error

type Client struct {
	url         string
	env         string
	version     string
	handler     Handler
	logStart    LogStartFunc
	log         *zap.Logger
	dialTimeout time.Duration
	heartbeat   time.Duration

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla/websocket requires single-writer discipline

	streamsMu sync.Mutex
	streams   map[string]context.CancelFunc
}

// writeEnvelope serializes every write against the active connection:
// heartbeats, request responses, and log lines can all fire concurrently.
func (c *Client) writeEnvelope(conn *websocket.Conn, env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func New(coordinatorURL, env, version string, handler Handler, log *zap.Logger, dialTimeout, heartbeat time.Duration) *Client {
	return &Client{
		url: coordinatorURL, env: env, version: version, handler: handler,
		log: log, dialTimeout: dialTimeout, heartbeat: heartbeat,
		streams: make(map[string]context.CancelFunc),
	}
}

// SetLogStartFunc wires the pod-log tailer; left unset, log_start frames are
// ignored (the agent has no k8s client, e.g. in tests).
func (c *Client) SetLogStartFunc(fn LogStartFunc) {
	c.logStart = fn
}

// Run connects and reconnects indefinitely until ctx is cancelled, matching
// connect_to_server's outer retry loop. Each connection attempt backs off
// briefly on failure to avoid a hot reconnect loop against a down
// coordinator.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("coordinator session ended, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse coordinator url: %w", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 409 {
			return fmt.Errorf("coordinator rejected connection (already connected): %w", err)
		}
		return fmt.Errorf("dial coordinator: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	hello, err := wire.Encode(wire.FrameHello, "", wire.Hello{Env: c.env, Version: c.version})
	if err != nil {
		return err
	}
	if err := c.writeEnvelope(conn, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeatLoop(sessionCtx, conn)

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		c.dispatch(ctx, conn, env)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb, err := wire.Encode(wire.FrameHeartbeat, "", wire.Heartbeat{})
			if err != nil {
				continue
			}
			if err := c.writeEnvelope(conn, hb); err != nil {
				c.log.Warn("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, conn *websocket.Conn, env wire.Envelope) {
	switch env.Type {
	case wire.FrameRequest:
		var req wire.Request
		if err := json.Unmarshal(env.Body, &req); err != nil {
			c.log.Error("failed to decode request frame", zap.Error(err))
			return
		}
		resp := c.handler(ctx, req)
		out, err := wire.Encode(wire.FrameResponse, env.RequestID, resp)
		if err != nil {
			return
		}
		if err := c.writeEnvelope(conn, out); err != nil {
			c.log.Warn("failed to write response frame", zap.Error(err))
		}
	case wire.FrameLogStart:
		var start wire.LogStart
		if err := json.Unmarshal(env.Body, &start); err != nil {
			c.log.Error("failed to decode log_start frame", zap.Error(err))
			return
		}
		c.beginLogStream(ctx, start)
	case wire.FrameLogStop:
		var stop wire.LogStop
		if err := json.Unmarshal(env.Body, &stop); err != nil {
			c.log.Error("failed to decode log_stop frame", zap.Error(err))
			return
		}
		c.endLogStream(stop.ConnectionID)
	case wire.FrameAck:
		// no-op: handshake/heartbeat acknowledgement
	}
}

func (c *Client) beginLogStream(parent context.Context, start wire.LogStart) {
	if c.logStart == nil {
		c.log.Warn("log_start received but no log tailer is configured", zap.String("connectionId", start.ConnectionID))
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.streamsMu.Lock()
	if old, ok := c.streams[start.ConnectionID]; ok {
		old()
	}
	c.streams[start.ConnectionID] = cancel
	c.streamsMu.Unlock()

	go func() {
		defer c.endLogStream(start.ConnectionID)
		err := c.logStart(ctx, start, func(line string) error {
			return c.SendLogLine(start.ConnectionID, line)
		})
		if err != nil && ctx.Err() == nil {
			c.log.Warn("pod log tail ended", zap.String("connectionId", start.ConnectionID), zap.Error(err))
		}
	}()
}

func (c *Client) endLogStream(connectionID string) {
	c.streamsMu.Lock()
	cancel, ok := c.streams[connectionID]
	delete(c.streams, connectionID)
	c.streamsMu.Unlock()
	if ok {
		cancel()
	}
}

// SendLogLine emits a fire-and-forget log_line frame carrying one tailed
// line back to the coordinator for fan-out to the owning browser connection.
func (c *Client) SendLogLine(connectionID, line string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no active coordinator session")
	}
	env, err := wire.Encode(wire.FrameLogLine, "", wire.LogLine{ConnectionID: connectionID, Line: line})
	if err != nil {
		return err
	}
	return c.writeEnvelope(conn, env)
}

// SendEvent emits a fire-and-forget k8s_event frame, used by the agent's
// watch-stream ingestion to push events to the coordinator.
func (c *Client) SendEvent(e wire.K8SEvent) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no active coordinator session")
	}
	env, err := wire.Encode(wire.FrameK8SEvent, "", e)
	if err != nil {
		return err
	}
	return c.writeEnvelope(conn, env)
}
