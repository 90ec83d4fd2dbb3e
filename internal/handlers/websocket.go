package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
)

// WebSocketHandler upgrades /ws connections and registers them as
// sessions. All outbound traffic flows through the broadcaster; this
// handler only establishes the connection, replays initial state, and
// holds the read loop open until the client goes away.
type WebSocketHandler struct {
	registry       *sessions.Registry
	queueRemaining func() int
	upgrader       websocket.Upgrader
	logger         arbor.ILogger
}

func NewWebSocketHandler(registry *sessions.Registry, queueRemaining func() int, cfg common.WebSocketConfig) *WebSocketHandler {
	return &WebSocketHandler{
		registry:       registry,
		queueRemaining: queueRemaining,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Origin policy is enforced by the CORS middleware; the
			// upgrade itself accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: common.GetLogger(),
	}
}

// ServeWS handles GET /ws. A clientId query parameter is a continuity
// token: reconnecting with the same ID replaces the old connection and
// replays in-flight execution state.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sess := h.registry.Register(conn, r.URL.Query().Get("clientId"))
	h.logger.Debug().Str("client_id", sess.ID).Msg("WebSocket client connected")

	// Initial state: current queue status with the session ID attached, so
	// clients learn (or confirm) their continuity token.
	remaining := 0
	if h.queueRemaining != nil {
		remaining = h.queueRemaining()
	}
	if err := sess.SendJSON(models.EventStatus, models.StatusPayload(remaining, sess.ID)); err != nil {
		h.registry.Unregister(sess)
		conn.Close()
		return
	}

	// A client that reconnects mid-execution is told which node its job is
	// currently on, so progress UIs resume instead of starting blank.
	if nodeID, promptID, ok := h.registry.ExecutingFor(sess.ID); ok {
		node := nodeID
		sess.SendJSON(models.EventExecuting, models.ExecutingPayload(&node, promptID))
	}

	go h.readLoop(sess, conn)
}

// readLoop drains inbound frames until the connection dies. The protocol
// is server-push only; client frames are ignored but must be read so pings
// are answered and closure is noticed.
func (h *WebSocketHandler) readLoop(sess *sessions.Session, conn *websocket.Conn) {
	defer func() {
		h.registry.Unregister(sess)
		conn.Close()
		h.logger.Debug().Str("client_id", sess.ID).Msg("WebSocket client disconnected")
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
