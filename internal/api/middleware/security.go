package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds security headers to every response. API responses
// carry console output and server state, so they are never cached.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// ContentSecurityPolicy restricts responses to JSON API use. In debug mode
// websocket connections from any origin are allowed for the dashboard dev server.
func ContentSecurityPolicy(isDev bool) gin.HandlerFunc {
	connectSrc := "'self'"
	if isDev {
		connectSrc += " ws: wss:"
	}
	policy := "default-src 'none'; connect-src " + connectSrc + "; frame-ancestors 'none';"

	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", policy)
		c.Next()
	}
}
