package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/pkg/address"
	"fairfund/fairfund-backend/pkg/security"
)

// Handler exposes token endpoints. Wallets sign in by signing a challenge; the
// dev endpoint is only mounted when enabled.
type Handler struct {
	issuer   *Issuer
	allowDev bool
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(issuer *Issuer, allowDev bool, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, allowDev: allowDev, logger: logger, now: time.Now}
}

// RegisterRoutes registers auth routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/challenge", h.challenge)
		authGroup.POST("/login", h.login)
		authGroup.GET("/me", RequireAccount(h.issuer), h.me)
		if h.allowDev {
			authGroup.POST("/token", h.issueToken)
		}
	}
}

type tokenRequest struct {
	Address string `json:"address" binding:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Account   string    `json:"account"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// challenge handles GET /api/v1/auth/challenge?address=
func (h *Handler) challenge(c *gin.Context) {
	issued := h.now().UTC().Truncate(time.Second)
	message, err := Challenge(c.Query("address"), issued)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    message,
		"expires_at": issued.Add(ChallengeTTL),
	})
}

// login handles POST /api/v1/auth/login
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	account, err := VerifyLogin(req.Address, req.Message, req.Signature, h.now())
	switch {
	case err == nil:
	case errors.Is(err, address.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_address"})
		return
	case errors.Is(err, ErrBadChallenge), errors.Is(err, ErrExpiredChallenge), errors.Is(err, security.ErrInvalidSignature):
		h.logger.Info("Rejected sign-in", zap.String("address", req.Address), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "invalid_signature"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "internal"})
		return
	}

	token, expires, err := h.issuer.Issue(account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": "internal"})
		return
	}
	h.logger.Info("Wallet signed in", zap.String("account", account))
	c.JSON(http.StatusCreated, tokenResponse{Token: token, Account: account, ExpiresAt: expires})
}

// issueToken handles POST /api/v1/auth/token
func (h *Handler) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, expires, err := h.issuer.Issue(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, _ := h.issuer.Parse(token)
	h.logger.Warn("Issued development token", zap.String("account", account))
	c.JSON(http.StatusCreated, tokenResponse{Token: token, Account: account, ExpiresAt: expires})
}

// me handles GET /api/v1/auth/me
func (h *Handler) me(c *gin.Context) {
	account, _ := AccountFrom(c)
	c.JSON(http.StatusOK, gin.H{"account": account})
}
