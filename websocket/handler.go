// Package websocket serves hub connections over gorilla/websocket at /ws.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
)

// Handler upgrades HTTP requests and runs one read loop per connection.
type Handler struct {
	hub      *hub.Handler
	manager  *ClientManager
	cfg      *config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket handler feeding h.
func NewHandler(h *hub.Handler, manager *ClientManager, cfg *config.WebSocketConfig, logger *slog.Logger) *Handler {
	return &Handler{
		hub:     h,
		manager: manager,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles incoming websocket connections.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	if h.cfg.MessageSizeLimit > 0 {
		conn.SetReadLimit(int64(h.cfg.MessageSizeLimit))
	}

	session := NewClientSession(conn, h.cfg, h.logger)
	go session.Run()

	// Tracked before the hub sees it so shutdown either closes it or refuses it.
	if !h.manager.AddClient(session) {
		session.closeWith(websocket.CloseGoingAway, "Server shutting down")
		return
	}
	defer h.manager.RemoveClient(session)

	nodeID := h.hub.Connect(session)
	defer func() {
		session.Close("")
		h.hub.Disconnect(nodeID)
	}()

	// The request context ends with ServeHTTP; handlers get their own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(session.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(session.pongWait()))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				h.logger.Info("Read error from node", "nodeId", nodeID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(session.pongWait()))

		if res := h.hub.Handle(ctx, nodeID, msg); res.Outcome == hub.OutcomeClose {
			// The writer flushes the reply, then closes the socket.
			select {
			case <-session.Done():
			case <-time.After(session.writeTimeout()):
			}
			return
		}
	}
}
