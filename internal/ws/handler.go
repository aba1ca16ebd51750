package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler handles WebSocket connections
type Handler struct {
	hub        *Hub
	jwtManager *utils.JWTManager
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler. Browsers may connect from the
// given origins; "*" or no origins allows any.
func NewHandler(hub *Hub, jwtManager *utils.JWTManager, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		jwtManager: jwtManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles WebSocket connection requests
// @Summary WebSocket connection
// @Description Open the realtime channel for room presence, moderation and chat
// @Tags WebSocket
// @Param token query string true "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} response.Response
// @Router /ws [get]
func (h *Handler) ServeWS(c *gin.Context) {
	// Get token from query parameter or header
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": http.StatusUnauthorized, "message": "missing token"}})
		return
	}

	claims, err := h.jwtManager.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn("Invalid token for WebSocket",
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": gin.H{"code": http.StatusUnauthorized, "message": "invalid token"}})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket",
			zap.Error(err),
		)
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, h.hub.NewLimiter(), h.logger)
	h.hub.Register(client)

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns WebSocket hub statistics
// @Summary Realtime statistics
// @Description Connection, user and room counts plus event delivery counters
// @Tags WebSocket
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=HubStats}
// @Router /api/v1/ws/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.hub.Stats(),
	})
}
