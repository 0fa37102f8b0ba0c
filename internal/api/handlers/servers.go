package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/console"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/metrics"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/server"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

const maxLogLines = 1000

// Lifecycle is the supervisor surface used by the HTTP API
type Lifecycle interface {
	Start(ctx context.Context, name string) (models.ActionResult, error)
	Stop(ctx context.Context, name string) (models.ActionResult, error)
	SendCommand(ctx context.Context, name, text string) (models.ActionResult, error)
	Status(name string) (models.InstanceStatus, error)
	Logs(ctx context.Context, name string, maxLines int) ([]string, error)
	Players(name string) ([]string, error)
	AcceptEULA(name string) error
	EULAAccepted(name string) (bool, error)
	ReportEvent(ctx context.Context, name string, trigger webhook.Trigger, detail string) error
}

// StatusHistory returns the last persisted exit of a server
type StatusHistory interface {
	Get(name string) (*server.StatusRecord, error)
}

// UsageSource returns the latest resource sample of a running server
type UsageSource interface {
	Latest(server string) (metrics.Usage, bool)
}

// ServerHandler handles server management requests
type ServerHandler struct {
	config         *config.Config
	serverManager  *config.ServerManager
	lifecycle      Lifecycle
	history        StatusHistory
	usage          UsageSource
	activityLogger *logging.ActivityLogger
}

// NewServerHandler creates a new server handler. history and usage may be nil.
func NewServerHandler(
	cfg *config.Config,
	serverManager *config.ServerManager,
	lifecycle Lifecycle,
	history StatusHistory,
	usage UsageSource,
	activityLogger *logging.ActivityLogger,
) *ServerHandler {
	return &ServerHandler{
		config:         cfg,
		serverManager:  serverManager,
		lifecycle:      lifecycle,
		history:        history,
		usage:          usage,
		activityLogger: activityLogger,
	}
}

// ListServers returns every configured server with its live status
func (h *ServerHandler) ListServers(c *gin.Context) {
	defs := h.serverManager.GetAll()

	response := make([]models.ServerListItem, 0, len(defs))
	for _, def := range defs {
		status, err := h.lifecycle.Status(def.Name)
		if err != nil {
			status = models.InstanceStatus{Name: def.Name, Status: models.StateStopped}
		}
		item := models.ServerListItem{
			Name:        def.Name,
			Description: def.Description,
			Platform:    def.Platform,
			Status:      status,
		}
		h.attachHistory(&item)
		response = append(response, item)
	}

	c.JSON(http.StatusOK, response)
}

func (h *ServerHandler) attachHistory(item *models.ServerListItem) {
	if h.history == nil {
		return
	}
	rec, err := h.history.Get(item.Name)
	if err != nil {
		log.Printf("[API] Failed to load status history for %s: %v", item.Name, err)
		return
	}
	if rec != nil {
		item.LastExit = rec.LastExit
		item.ExitCode = rec.ExitCode
	}
}

// GetServer returns the definition and status of one server
func (h *ServerHandler) GetServer(c *gin.Context) {
	name := c.Param("name")
	def, ok := h.serverManager.Get(name)
	if !ok {
		notFound(c)
		return
	}

	status, err := h.lifecycle.Status(name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	item := models.ServerListItem{Name: def.Name, Description: def.Description, Platform: def.Platform, Status: status}
	h.attachHistory(&item)
	c.JSON(http.StatusOK, gin.H{"server": def, "status": item})
}

// CreateServer adds a server definition to servers.yaml
func (h *ServerHandler) CreateServer(c *gin.Context) {
	var def config.InstanceDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := h.serverManager.Add(def); err != nil {
		code := http.StatusBadRequest
		if strings.Contains(err.Error(), "already exists") {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save server definitions", "details": err.Error()})
		return
	}
	h.logConfigChange(def.Name, "Server definition created")

	created, _ := h.serverManager.Get(def.Name)
	c.JSON(http.StatusCreated, gin.H{"success": true, "server": created})
}

// UpdateServer replaces a server definition. Changes apply on the next start.
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	var def config.InstanceDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	def.Name = name

	if err := h.serverManager.Update(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save server definitions", "details": err.Error()})
		return
	}
	h.logConfigChange(name, "Server definition updated")

	updated, _ := h.serverManager.Get(name)
	c.JSON(http.StatusOK, gin.H{"success": true, "server": updated})
}

// DeleteServer removes a stopped server definition
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	status, _ := h.lifecycle.Status(name)
	if status.Status != models.StateStopped {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Stop the server before deleting it"})
		return
	}

	if err := h.serverManager.Delete(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := h.serverManager.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save server definitions", "details": err.Error()})
		return
	}
	h.logConfigChange(name, "Server definition deleted")

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Server deleted"})
}

func (h *ServerHandler) logConfigChange(name, description string) {
	_ = h.activityLogger.LogActivity(&logging.Activity{
		ServerName:   name,
		ActivityType: logging.ActivityConfigUpdate,
		Description:  description,
		Success:      true,
	})
}

// StartServer launches a server and returns once it is running
func (h *ServerHandler) StartServer(c *gin.Context) {
	result, err := h.lifecycle.Start(c.Request.Context(), c.Param("name"))
	respondAction(c, result, err)
}

// StopServer stops a server and returns once the exit is reconciled. The
// stop is detached from the request so a client disconnect cannot leave the
// server half stopped.
func (h *ServerHandler) StopServer(c *gin.Context) {
	result, err := h.lifecycle.Stop(context.WithoutCancel(c.Request.Context()), c.Param("name"))
	respondAction(c, result, err)
}

// ExecuteCommand writes one console line to a running server
func (h *ServerHandler) ExecuteCommand(c *gin.Context) {
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ActionResult{Success: false, Message: "Command is required"})
		return
	}

	result, err := h.lifecycle.SendCommand(c.Request.Context(), c.Param("name"), req.Command)
	respondAction(c, result, err)
}

// GetServerStatus returns the current status of a server
func (h *ServerHandler) GetServerStatus(c *gin.Context) {
	status, err := h.lifecycle.Status(c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetServerStats returns status plus the latest process resource sample
func (h *ServerHandler) GetServerStats(c *gin.Context) {
	name := c.Param("name")
	status, err := h.lifecycle.Status(name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	response := gin.H{"success": true, "status": status}
	if h.usage != nil && status.Status != models.StateStopped {
		if usage, ok := h.usage.Latest(name); ok {
			response["usage"] = usage
		}
	}
	if status.StartedAt != nil {
		response["uptime_seconds"] = int64(time.Since(*status.StartedAt).Seconds())
	}
	c.JSON(http.StatusOK, response)
}

// GetLogs returns recent console output. Running servers return fewer lines
// by default; the lines parameter overrides both defaults.
func (h *ServerHandler) GetLogs(c *gin.Context) {
	name := c.Param("name")
	status, err := h.lifecycle.Status(name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	def := h.config.Supervisor.OfflineLogLines
	if status.Status != models.StateStopped {
		def = h.config.Supervisor.LogTailLines
	}
	maxLines := queryInt(c, "lines", def, maxLogLines)

	filter, err := console.NewOutputFilter(c.Query("filter"), c.Query("q"), c.Query("case_sensitive") == "true")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	lines, err := h.lifecycle.Logs(c.Request.Context(), name, maxLines)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	lines = filter.FilterLines(lines)

	c.JSON(http.StatusOK, models.LogsResponse{Server: name, Lines: lines})
}

// GetPlayers returns the players currently believed online
func (h *ServerHandler) GetPlayers(c *gin.Context) {
	name := c.Param("name")
	players, err := h.lifecycle.Players(name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.PlayersResponse{Server: name, Count: len(players), Players: players})
}

// GetEULA reports whether the server may start without acceptance
func (h *ServerHandler) GetEULA(c *gin.Context) {
	accepted, err := h.lifecycle.EULAAccepted(c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eula_accepted": accepted})
}

// AcceptEULA writes the acceptance marker
func (h *ServerHandler) AcceptEULA(c *gin.Context) {
	if err := h.lifecycle.AcceptEULA(c.Param("name")); err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "EULA accepted"})
}

// ReportEvent accepts jar_updated and backup_completed events from tools
// that run outside the supervisor.
func (h *ServerHandler) ReportEvent(c *gin.Context) {
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	trigger, err := webhook.ParseTrigger(req.Trigger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := h.lifecycle.ReportEvent(c.Request.Context(), c.Param("name"), trigger, req.Detail); err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Event reported"})
}

// GetServerActivity returns the activity log of a server
func (h *ServerHandler) GetServerActivity(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}
	limit := queryInt(c, "limit", 50, 500)
	activityType := strings.TrimSpace(c.Query("type"))

	activities, err := h.activityLogger.GetActivities(name, activityType, time.Time{}, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load activity log"})
		return
	}

	// Counts cover the last day regardless of the type filter
	counts, err := h.activityLogger.GetActivityStats(name, time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Printf("[API] Failed to count activity for %s: %v", name, err)
		counts = map[string]int{}
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities, "counts_24h": counts})
}
