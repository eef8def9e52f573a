package auth

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/pkg/security"
)

func signText(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(security.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestVerifyLogin(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	message, err := Challenge(strings.ToLower(wallet), issued)
	require.NoError(t, err)
	assert.Contains(t, message, wallet)

	t.Run("valid", func(t *testing.T) {
		got, err := VerifyLogin(wallet, message, signText(t, key, message), issued.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, wallet, got)
	})
	t.Run("expired", func(t *testing.T) {
		_, err := VerifyLogin(wallet, message, signText(t, key, message), issued.Add(ChallengeTTL+time.Second))
		assert.ErrorIs(t, err, ErrExpiredChallenge)
	})
	t.Run("issued in the future", func(t *testing.T) {
		_, err := VerifyLogin(wallet, message, signText(t, key, message), issued.Add(-2*time.Minute))
		assert.ErrorIs(t, err, ErrExpiredChallenge)
	})
	t.Run("wrong signer", func(t *testing.T) {
		_, err := VerifyLogin(wallet, message, signText(t, other, message), issued)
		assert.ErrorIs(t, err, security.ErrInvalidSignature)
	})
	t.Run("message for another account", func(t *testing.T) {
		foreign, err := Challenge(crypto.PubkeyToAddress(other.PublicKey).Hex(), issued)
		require.NoError(t, err)
		_, err = VerifyLogin(wallet, foreign, signText(t, key, foreign), issued)
		assert.ErrorIs(t, err, ErrBadChallenge)
	})
	t.Run("free-form message", func(t *testing.T) {
		_, err := VerifyLogin(wallet, "hello", signText(t, key, "hello"), issued)
		assert.ErrorIs(t, err, ErrBadChallenge)
	})
}

func TestLoginEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := NewIssuer("secret", time.Hour)
	now := time.Now().UTC()

	h := NewHandler(issuer, false, zap.NewNop())
	h.now = func() time.Time { return now }
	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/challenge?address="+wallet, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var challenge struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))

	post := func(signature string) *httptest.ResponseRecorder {
		body, err := json.Marshal(loginRequest{Address: wallet, Message: challenge.Message, Signature: signature})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w = post(signText(t, key, challenge.Message))
	require.Equal(t, http.StatusCreated, w.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, wallet, resp.Account)
	got, err := issuer.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, wallet, got)

	w = post("0x1234")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/challenge?address=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
