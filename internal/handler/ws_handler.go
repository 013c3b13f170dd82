package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/swapmeet/swapmeet-backend/internal/ws"
	"github.com/swapmeet/swapmeet-backend/pkg/logger"
)

// WSHandler upgrades realtime connections. Authentication happens on the socket
// through the authenticate event, so the upgrade itself is anonymous.
type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	upgrader       websocket.Upgrader
	pump           ws.PumpConfig
}

// NewWSHandler creates a new WSHandler. An empty allowedOrigins accepts any origin.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string, pump ws.PumpConfig) *WSHandler {
	h := &WSHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
		pump:           pump,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	// empty allow-list means development
	return len(h.allowedOrigins) == 0 || slices.Contains(h.allowedOrigins, origin)
}

// Connect handles GET /ws
func (h *WSHandler) Connect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().Debug().Err(err).Str("origin", c.GetHeader("Origin")).Msg("websocket upgrade failed")
		return
	}

	session := ws.NewSession(h.hub, conn)
	h.hub.Register(session)

	go session.WritePump(h.pump.PongWait)
	go session.ReadPump(h.pump)
}
