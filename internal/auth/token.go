package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fairfund/fairfund-backend/pkg/address"
)

const tokenIssuer = "fairfund"

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the account behind a bearer token. The subject is the
// checksummed account address.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 account tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer for the shared secret
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for account and its expiry.
func (i *Issuer) Issue(account string) (string, time.Time, error) {
	subject, err := address.Normalize(account)
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns the account it was issued for
func (i *Issuer) Parse(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	account, err := address.Normalize(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return account, nil
}
