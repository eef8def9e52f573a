package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const accountKey = "auth.account"

// RequireAccount rejects requests without a valid bearer token and stores the
// token's account on the context.
func RequireAccount(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expected a bearer token"})
			return
		}
		account, err := issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(accountKey, account)
		c.Next()
	}
}

// AccountFrom returns the account set by RequireAccount
func AccountFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(accountKey)
	if !ok {
		return "", false
	}
	account, ok := v.(string)
	return account, ok && account != ""
}
