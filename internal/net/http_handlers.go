// Package net exposes the service over HTTP: health and diagnostics probes,
// Prometheus metrics, and the per-session WebSocket channel.
package net

import (
	"context"
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	server "nightfall/server"
)

type HandlerConfig struct {
	Logger   *log.Logger
	Gatherer prometheus.Gatherer
}

// clientMessage is the flat envelope for everything a client sends on the
// channel. Unknown types are logged and ignored so older or newer clients
// cannot wedge the read loop.
type clientMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Role      string          `json:"role,omitempty"`
	Full      bool            `json:"full,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
	TS        int64           `json:"ts,omitempty"`
	Message   string          `json:"message,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Action    string          `json:"action,omitempty"`
	SentAt    int64           `json:"sentAt,omitempty"`
}

// wsSession is the explicit per-connection state threaded through the read
// loop instead of being hung off the socket.
type wsSession struct {
	connID    string
	sessionID string
	role      string
}

// session resolves which session a message addresses: an explicit sessionId
// wins, otherwise the one this connection joined.
func (s *wsSession) session(msg clientMessage) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	return s.sessionID
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	r.Get("/diagnostics", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Sessions   any    `json:"sessions"`
			Telemetry  any    `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Sessions:   hub.DiagnosticsSnapshot(),
			Telemetry:  hub.TelemetrySnapshot(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *nethttp.Request) bool {
			return true
		},
	}

	r.Get("/ws", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		c, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Printf("upgrade failed: %v", err)
			return
		}
		serveChannel(req.Context(), hub, c, logger)
	})

	return r
}

func serveChannel(ctx context.Context, hub *server.Hub, c *websocket.Conn, logger *log.Logger) {
	state := &wsSession{connID: uuid.NewString()}
	defer func() {
		if state.sessionID != "" {
			hub.Disconnect(state.sessionID, state.connID)
		}
		c.Close()
	}()

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Printf("discarding malformed message from %s: %v", state.connID, err)
			continue
		}

		switch msg.Type {
		case "join":
			if msg.SessionID == "" {
				continue
			}
			if state.sessionID != "" && state.sessionID != msg.SessionID {
				hub.Disconnect(state.sessionID, state.connID)
			}
			state.sessionID = msg.SessionID
			state.role = msg.Role
			hub.Join(ctx, msg.SessionID, state.connID, msg.Role, c)
		case "request_full":
			if id := state.session(msg); id != "" {
				hub.RequestFull(ctx, id, state.connID)
			}
		case "state_diff":
			id := state.session(msg)
			if id == "" {
				continue
			}
			if msg.Full {
				hub.SubmitFull(ctx, id, state.connID, msg.Snapshot, msg.TS)
			} else if len(msg.Patch) > 0 {
				hub.SubmitPatch(ctx, id, state.connID, msg.Patch, msg.TS)
			}
		case "chat":
			if id := state.session(msg); id != "" {
				hub.Chat(ctx, id, state.connID, msg.Message, msg.TS)
			}
		case "room_completed":
			if id := state.session(msg); id != "" {
				hub.RoomCompleted(ctx, id, state.connID, msg.RoomID, msg.TS)
			}
		case "lock":
			id := state.session(msg)
			if id == "" || msg.RoomID == "" {
				continue
			}
			role := msg.Role
			if role == "" {
				role = state.role
			}
			hub.Lock(ctx, id, state.connID, msg.RoomID, msg.Action, role)
		case "heartbeat":
			if id := state.session(msg); id != "" {
				hub.Heartbeat(id, state.connID, msg.SentAt)
			}
		default:
			logger.Printf("unknown message type %q from %s", msg.Type, state.connID)
		}
	}
}
