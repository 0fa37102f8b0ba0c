package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/server"
)

// statusFor maps supervisor errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, server.ErrUnknownServer):
		return http.StatusNotFound
	case errors.Is(err, server.ErrAlreadyRunning), errors.Is(err, server.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, server.ErrPreconditionNotMet):
		return http.StatusPreconditionFailed
	case errors.Is(err, server.ErrInvalidCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondAction writes an ActionResult with the status matching err
func respondAction(c *gin.Context, result models.ActionResult, err error) {
	if err != nil && result.Message == "" {
		result.Message = err.Error()
	}
	c.JSON(statusFor(err), result)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Server not found"})
}

// queryInt parses a positive integer query parameter clamped to max
func queryInt(c *gin.Context, key string, def, max int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
