package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/servervisor/internal/auth"
)

// ClaimsKey is the context key holding validated token claims
const ClaimsKey = "claims"

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// RequireToken rejects requests without a valid bearer token. Browsers
// cannot set headers on websocket upgrades, so those may pass the token as
// a query parameter instead. Read scoped tokens are limited to GET and HEAD.
func RequireToken(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isHealthPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && strings.HasSuffix(c.Request.URL.Path, "/ws") {
			query := c.Request.URL.Query()
			token = query.Get("token")
			query.Del("token")
			c.Request.URL.RawQuery = query.Encode()
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		if !claims.CanWrite() && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token is read-only"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
