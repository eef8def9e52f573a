package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/auth"
	"fairfund/fairfund-backend/pkg/units"
)

// Handler exposes the ledger over HTTP
type Handler struct {
	ledger   *Ledger
	decimals int32
	logger   *zap.Logger
}

// NewHandler creates a ledger handler. decimals is used to convert amount_decimal
// inputs to base units.
func NewHandler(ledger *Ledger, decimals int32, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		decimals: decimals,
		logger:   logger,
	}
}

// RegisterRoutes registers ledger routes. Reads are public; writes go through
// requireAccount.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAccount gin.HandlerFunc) {
	router.GET("/owner", h.getOwner)
	router.GET("/stats", h.getStats)

	donors := router.Group("/donors")
	{
		donors.GET("", h.listDonors)
		donors.GET("/:address", h.getDonor)
		donors.GET("/:address/disbursements", h.getDonorDisbursements)
		donors.GET("/:address/registered", h.isDonorRegistered)
		donors.POST("", requireAccount, h.registerDonor)
		donors.POST("/:address/verify", requireAccount, h.verifyDonor)
	}

	farmers := router.Group("/farmers")
	{
		farmers.GET("", h.listFarmers)
		farmers.GET("/:address", h.getFarmer)
		farmers.GET("/:address/disbursements", h.getFarmerDisbursements)
		farmers.GET("/:address/registered", h.isFarmerRegistered)
		farmers.POST("", requireAccount, h.registerFarmer)
		farmers.POST("/:address/verify", requireAccount, h.verifyFarmer)
	}

	disbursements := router.Group("/disbursements")
	{
		disbursements.GET("", h.listDisbursements)
		disbursements.GET("/:id", h.getDisbursement)
		disbursements.GET("/:id/qr", h.claimQR)
		disbursements.POST("", requireAccount, h.createDisbursement)
		disbursements.POST("/:id/claim", requireAccount, h.claimFunds)
		disbursements.POST("/:id/reclaim", requireAccount, h.reclaimFunds)
	}

	accounts := router.Group("/accounts")
	{
		accounts.GET("/:address/balance", h.getBalance)
		accounts.POST("/:address/fund", requireAccount, h.fundAccount)
	}
}

// RegisterDonorRequest is the body of POST /donors
type RegisterDonorRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// RegisterFarmerRequest is the body of POST /farmers
type RegisterFarmerRequest struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location"`
	FarmType string `json:"farm_type"`
}

// CreateDisbursementRequest is the body of POST /disbursements. Exactly one of
// Amount (base units) and AmountDecimal (human units) is required.
type CreateDisbursementRequest struct {
	Farmer            string `json:"farmer" binding:"required"`
	Purpose           string `json:"purpose"`
	ClaimDeadlineDays int64  `json:"claim_deadline_days"`
	Amount            string `json:"amount"`
	AmountDecimal     string `json:"amount_decimal"`
}

// FundAccountRequest is the body of POST /accounts/:address/fund
type FundAccountRequest struct {
	Amount        string `json:"amount"`
	AmountDecimal string `json:"amount_decimal"`
}

func (h *Handler) registerDonor(c *gin.Context) {
	var req RegisterDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, _ := auth.AccountFrom(c)

	donor, err := h.ledger.RegisterDonor(c.Request.Context(), caller, req.Name, req.Description)
	if err != nil {
		h.fail(c, "Failed to register donor", err)
		return
	}
	c.JSON(http.StatusCreated, donor)
}

func (h *Handler) registerFarmer(c *gin.Context) {
	var req RegisterFarmerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, _ := auth.AccountFrom(c)

	farmer, err := h.ledger.RegisterFarmer(c.Request.Context(), caller, req.Name, req.Location, req.FarmType)
	if err != nil {
		h.fail(c, "Failed to register farmer", err)
		return
	}
	c.JSON(http.StatusCreated, farmer)
}

func (h *Handler) verifyDonor(c *gin.Context) {
	caller, _ := auth.AccountFrom(c)
	donor, err := h.ledger.VerifyDonor(c.Request.Context(), caller, c.Param("address"))
	if err != nil {
		h.fail(c, "Failed to verify donor", err)
		return
	}
	c.JSON(http.StatusOK, donor)
}

func (h *Handler) verifyFarmer(c *gin.Context) {
	caller, _ := auth.AccountFrom(c)
	farmer, err := h.ledger.VerifyFarmer(c.Request.Context(), caller, c.Param("address"))
	if err != nil {
		h.fail(c, "Failed to verify farmer", err)
		return
	}
	c.JSON(http.StatusOK, farmer)
}

func (h *Handler) createDisbursement(c *gin.Context) {
	var req CreateDisbursementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := h.parseAmount(req.Amount, req.AmountDecimal)
	if err != nil {
		h.fail(c, "Invalid disbursement amount", err)
		return
	}
	caller, _ := auth.AccountFrom(c)

	d, err := h.ledger.CreateDisbursement(c.Request.Context(), caller, req.Farmer, req.Purpose, req.ClaimDeadlineDays, amount)
	if err != nil {
		h.fail(c, "Failed to create disbursement", err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) claimFunds(c *gin.Context) {
	id, ok := h.disbursementID(c)
	if !ok {
		return
	}
	caller, _ := auth.AccountFrom(c)

	d, err := h.ledger.ClaimFunds(c.Request.Context(), caller, id)
	if err != nil {
		h.fail(c, "Failed to claim funds", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) reclaimFunds(c *gin.Context) {
	id, ok := h.disbursementID(c)
	if !ok {
		return
	}
	caller, _ := auth.AccountFrom(c)

	d, err := h.ledger.ReclaimExpiredFunds(c.Request.Context(), caller, id)
	if err != nil {
		h.fail(c, "Failed to reclaim funds", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) fundAccount(c *gin.Context) {
	var req FundAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := h.parseAmount(req.Amount, req.AmountDecimal)
	if err != nil {
		h.fail(c, "Invalid funding amount", err)
		return
	}
	caller, _ := auth.AccountFrom(c)

	balance, err := h.ledger.FundAccount(c.Request.Context(), caller, c.Param("address"), amount)
	if err != nil {
		h.fail(c, "Failed to fund account", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": c.Param("address"), "balance": balance})
}

func (h *Handler) getOwner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"owner": h.ledger.Owner()})
}

func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.GetContractStats())
}

func (h *Handler) listDonors(c *gin.Context) {
	if c.Query("detail") == "true" {
		c.JSON(http.StatusOK, gin.H{"donors": h.ledger.Donors()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"donors": h.ledger.GetAllDonors()})
}

func (h *Handler) getDonor(c *gin.Context) {
	donor, err := h.ledger.GetDonorStats(c.Param("address"))
	if err != nil {
		h.fail(c, "Failed to get donor", err)
		return
	}
	c.JSON(http.StatusOK, donor)
}

func (h *Handler) getDonorDisbursements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ids": h.ledger.GetDonorDisbursements(c.Param("address"))})
}

func (h *Handler) isDonorRegistered(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registered": h.ledger.IsDonorRegistered(c.Param("address"))})
}

func (h *Handler) listFarmers(c *gin.Context) {
	if c.Query("detail") == "true" {
		c.JSON(http.StatusOK, gin.H{"farmers": h.ledger.Farmers()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"farmers": h.ledger.GetAllFarmers()})
}

func (h *Handler) getFarmer(c *gin.Context) {
	farmer, err := h.ledger.GetFarmerStats(c.Param("address"))
	if err != nil {
		h.fail(c, "Failed to get farmer", err)
		return
	}
	c.JSON(http.StatusOK, farmer)
}

func (h *Handler) getFarmerDisbursements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ids": h.ledger.GetFarmerDisbursements(c.Param("address"))})
}

func (h *Handler) isFarmerRegistered(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registered": h.ledger.IsFarmerRegistered(c.Param("address"))})
}

// listDisbursements handles GET /disbursements?donor=&farmer=&status=
func (h *Handler) listDisbursements(c *gin.Context) {
	filter := DisbursementFilter{
		Donor:  c.Query("donor"),
		Farmer: c.Query("farmer"),
		Status: c.Query("status"),
	}
	list, err := h.ledger.ListDisbursements(filter)
	if err != nil {
		h.fail(c, "Failed to list disbursements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disbursements": list, "total": len(list)})
}

func (h *Handler) getDisbursement(c *gin.Context) {
	id, ok := h.disbursementID(c)
	if !ok {
		return
	}
	d, err := h.ledger.GetDisbursementDetails(id)
	if err != nil {
		h.fail(c, "Failed to get disbursement", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) getBalance(c *gin.Context) {
	balance, err := h.ledger.BalanceOf(c.Param("address"))
	if err != nil {
		h.fail(c, "Failed to get balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": c.Param("address"),
		"balance": balance,
		"display": units.Format(balance, h.decimals, ""),
	})
}

func (h *Handler) disbursementID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid disbursement ID", "code": "invalid_id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) parseAmount(base, human string) (decimal.Decimal, error) {
	switch {
	case base != "" && human != "":
		return decimal.Zero, fmt.Errorf("%w: set either amount or amount_decimal, not both", ErrInvalidAmount)
	case base != "":
		return units.ParseBaseUnits(base)
	case human != "":
		return units.ToBaseUnits(human, h.decimals)
	}
	return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
}

// fail writes the error response for err. Ledger rejections are expected and logged
// at info; anything else is a server error.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	} else {
		h.logger.Info(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

// StatusFor maps an operation error to its HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		return http.StatusConflict, "already_registered"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrNotVerified):
		return http.StatusUnprocessableEntity, "not_verified"
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidDeadline):
		return http.StatusBadRequest, "invalid_deadline"
	case errors.Is(err, ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, ErrExpired):
		return http.StatusConflict, "expired"
	case errors.Is(err, ErrNotYetExpired):
		return http.StatusConflict, "not_yet_expired"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest, "invalid_filter"
	case errors.Is(err, units.ErrMalformed), errors.Is(err, units.ErrPrecision), errors.Is(err, units.ErrNegative):
		return http.StatusBadRequest, "invalid_amount"
	}
	return http.StatusInternalServerError, "internal"
}
