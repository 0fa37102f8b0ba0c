package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/console"
	ws "github.com/TheGojiOG/servervisor/internal/websocket"
)

// RecentOutput returns lines streamed since a server started
type RecentOutput interface {
	Recent(name string, n int) []string
}

// ConsoleHandler streams live console output and lifecycle events
type ConsoleHandler struct {
	config        *config.Config
	serverManager *config.ServerManager
	hub           *ws.Hub
	recent        RecentOutput
	upgrader      websocket.Upgrader
}

// NewConsoleHandler creates a console handler. recent may be nil.
func NewConsoleHandler(cfg *config.Config, serverManager *config.ServerManager, hub *ws.Hub, recent RecentOutput) *ConsoleHandler {
	return &ConsoleHandler{
		config:        cfg,
		serverManager: serverManager,
		hub:           hub,
		recent:        recent,
		upgrader:      buildUpgrader(cfg.Security.CORS.AllowedOrigins),
	}
}

// HandleConsoleWebSocket joins the viewer to the room of one server. Recent
// output is replayed first, then appended lines and lifecycle events arrive
// as they happen.
func (h *ConsoleHandler) HandleConsoleWebSocket(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Console] Failed to upgrade WebSocket: %v (origin=%s, server=%s)", err, c.Request.Header.Get("Origin"), name)
		return
	}

	client := ws.NewClient(h.hub, conn, ws.ServerRoom(name))
	h.hub.Register <- client

	for _, line := range h.history(name) {
		_ = client.SendMessage("console_output", map[string]interface{}{
			"server":     name,
			"line":       line,
			"historical": true,
		})
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *ConsoleHandler) history(name string) []string {
	n := h.config.Supervisor.LogTailLines
	if h.recent != nil {
		if lines := h.recent.Recent(name, n); len(lines) > 0 {
			return lines
		}
	}
	lines, err := console.ReadRecent(h.serverManager.LogPath(name), n)
	if err != nil {
		return nil
	}
	return lines
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == "0.0.0.0/0" || normalized == origin {
			return true
		}
	}

	return false
}
