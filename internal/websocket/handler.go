package websocket

import (
	"context"
	"net"
	"net/http"
	"slices"

	"github.com/askwhyharsh/sonar/internal/radar"
	"github.com/askwhyharsh/sonar/internal/session"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/askwhyharsh/sonar/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*session.Session, error)
}

type Handler struct {
	hub      *Hub
	registry *radar.Registry
	sessions SessionValidator
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler builds the device endpoint. allowedOrigins may hold "*" to
// accept any origin.
func NewHandler(hub *Hub, registry *radar.Registry, sessions SessionValidator, allowedOrigins []string, log logger.Logger) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		sessions: sessions,
		logger:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = c.GetHeader("X-Session-ID")
	}
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, response.Error("session_id required", "INVALID_REQUEST"))
		return
	}

	if _, err := h.sessions.ValidateSession(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusUnauthorized, response.Error("invalid session", "INVALID_SESSION"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "session_id", sessionID, "error", err)
		return
	}

	client := NewClient(conn, sessionID, isSecure(c.Request), h.logger)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	orch, err := h.registry.Open(sessionID)
	if err != nil {
		h.logger.Error("Failed to open radar session", "session_id", sessionID, "error", err)
		_ = conn.WriteJSON(NewErrorMessage("Radar unavailable", "RADAR_UNAVAILABLE"))
		return
	}
	defer h.registry.Close(sessionID, orch)
	client.orch = orch

	updates, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	go client.WritePump()
	go client.forward(updates)

	h.logger.Info("Device connected", "session_id", sessionID)
	client.ReadPump()
	h.logger.Info("Device disconnected", "session_id", sessionID)
}

// isSecure reports whether the device reached us over TLS or from the
// local machine, the two contexts where geolocation is available.
func isSecure(r *http.Request) bool {
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		return true
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
