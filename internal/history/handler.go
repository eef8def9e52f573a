package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the event history API
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new history handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers history routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	{
		events.GET("", h.listEvents)
		events.GET("/latest", h.latest)
	}
}

// listEvents handles GET /events?account=&kind=&disbursement_id=&after=&limit=
func (h *Handler) listEvents(c *gin.Context) {
	filter := Filter{
		Account: c.Query("account"),
		Kind:    c.Query("kind"),
	}

	var err error
	if v := c.Query("after"); v != "" {
		if filter.AfterSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after", "code": "invalid_filter"})
			return
		}
	}
	if v := c.Query("disbursement_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid disbursement_id", "code": "invalid_filter"})
			return
		}
		filter.DisbursementID = &id
	}
	if v := c.Query("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "invalid_filter"})
			return
		}
	}

	page, err := h.service.Events(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_filter"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// latest handles GET /events/latest
func (h *Handler) latest(c *gin.Context) {
	seq, err := h.service.LatestSeq(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read latest event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}
