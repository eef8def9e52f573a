package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/auth"
)

// Handler serves the live event stream
type Handler struct {
	manager *Manager
	issuer  *auth.Issuer
	logger  *zap.Logger
}

func NewHandler(manager *Manager, issuer *auth.Issuer, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, issuer: issuer, logger: logger}
}

// RegisterRoutes registers the stream endpoints
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws", h.connect)
	router.GET("/ws/connections", h.connections)
}

// connect handles GET /ws. A token (query or bearer header) is optional; with one,
// the connection also receives private notices for that account.
func (h *Handler) connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	var account string
	if token != "" {
		a, err := h.issuer.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		account = a
	}

	if _, err := h.manager.HandleConnection(c.Writer, c.Request, account); err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
	}
}

// connections handles GET /ws/connections
func (h *Handler) connections(c *gin.Context) {
	info := h.manager.GetConnectionInfo()
	c.JSON(http.StatusOK, gin.H{"connections": info, "total": len(info)})
}
