package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes
const (
	ScopeAdmin = "admin"
	ScopeRead  = "read"
)

// Claims are the claims carried by API tokens
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// CanWrite reports whether the token may change state
func (c *Claims) CanWrite() bool {
	return c.Scope == ScopeAdmin
}

// TokenManager issues and validates HMAC signed API tokens
type TokenManager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewTokenManager creates a token manager
func NewTokenManager(secretKey, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// ValidScope reports whether scope is known
func ValidScope(scope string) bool {
	return scope == ScopeAdmin || scope == ScopeRead
}

// Issue creates a token for subject with scope
func (m *TokenManager) Issue(subject, scope string) (string, time.Time, error) {
	if !ValidScope(scope) {
		return "", time.Time{}, fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and returns its claims
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !ValidScope(claims.Scope) {
		return nil, fmt.Errorf("unknown scope %q", claims.Scope)
	}
	return claims, nil
}
