package reports

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/internal/reports/export"
)

// Handler handles HTTP requests for report exports
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.GET("/disbursements", h.disbursements)
		reports.GET("/donors/:address/statement", h.donorStatement)
	}
}

// disbursements handles GET /api/v1/reports/disbursements
func (h *Handler) disbursements(c *gin.Context) {
	format, ok := h.format(c)
	if !ok {
		return
	}

	var filter DisbursementReportFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	doc, err := h.service.DisbursementReport(c.Request.Context(), filter, format)
	if err != nil {
		h.fail(c, "Failed to build disbursement report", err)
		return
	}
	h.deliver(c, doc)
}

// donorStatement handles GET /api/v1/reports/donors/:address/statement
func (h *Handler) donorStatement(c *gin.Context) {
	format, ok := h.format(c)
	if !ok {
		return
	}

	doc, err := h.service.DonorStatement(c.Request.Context(), c.Param("address"), format)
	if err != nil {
		h.fail(c, "Failed to build donor statement", err)
		return
	}
	h.deliver(c, doc)
}

func (h *Handler) format(c *gin.Context) (export.Format, bool) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_format"})
		return "", false
	}
	return format, true
}

// deliver streams doc as an attachment, or archives it when ?archive=true.
func (h *Handler) deliver(c *gin.Context, doc *Document) {
	if archive, _ := strconv.ParseBool(c.Query("archive")); archive {
		result, err := h.service.Archive(c.Request.Context(), doc)
		if err != nil {
			h.fail(c, "Failed to archive report", err)
			return
		}
		c.JSON(http.StatusCreated, result)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename()+`"`)
	c.Data(http.StatusOK, doc.ContentType(), doc.Content)
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status, code := ledger.StatusFor(err)
	if errors.Is(err, ErrArchiveDisabled) {
		status, code = http.StatusServiceUnavailable, "archive_disabled"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Info(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
