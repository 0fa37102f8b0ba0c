package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/maintenance"
)

// SettingsHandler exposes the runtime configuration
type SettingsHandler struct {
	cfg        *config.Config
	configPath string
}

// SettingsPayload is the editable part of the configuration
type SettingsPayload struct {
	Security config.SecurityConfig `json:"security"`
	Logging  config.LoggingConfig  `json:"logging"`
}

// SettingsResponse is returned by GET and PUT /settings
type SettingsResponse struct {
	Security        config.SecurityConfig    `json:"security"`
	Logging         config.LoggingConfig     `json:"logging"`
	Supervisor      config.SupervisorConfig  `json:"supervisor"`
	Webhooks        config.WebhookConfig     `json:"webhooks"`
	Maintenance     config.MaintenanceConfig `json:"maintenance"`
	Metrics         config.MetricsConfig     `json:"metrics"`
	RequiresRestart bool                     `json:"requires_restart"`
}

func NewSettingsHandler(cfg *config.Config, configPath string) *SettingsHandler {
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	return &SettingsHandler{
		cfg:        cfg,
		configPath: configPath,
	}
}

func (h *SettingsHandler) response() SettingsResponse {
	return SettingsResponse{
		Security:        h.cfg.Security,
		Logging:         h.cfg.Logging,
		Supervisor:      h.cfg.Supervisor,
		Webhooks:        h.cfg.Webhooks,
		Maintenance:     h.cfg.Maintenance,
		Metrics:         h.cfg.Metrics,
		RequiresRestart: true,
	}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.response())
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var payload SettingsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload.Security.CORS.AllowedOrigins = normalizeList(payload.Security.CORS.AllowedOrigins)
	payload.Security.CORS.AllowedMethods = normalizeList(payload.Security.CORS.AllowedMethods)

	updated := *h.cfg
	updated.Security = payload.Security
	// Token auth is fixed at boot and its secret never leaves the server
	updated.Security.Auth = h.cfg.Security.Auth
	updated.Logging = payload.Logging

	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := config.Save(&updated, h.configPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings", "details": err.Error()})
		return
	}

	h.cfg.Security = updated.Security
	h.cfg.Logging = updated.Logging

	c.JSON(http.StatusOK, h.response())
}

func normalizeList(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	return clean
}

// MaintenanceRunner runs retention cleanup on demand
type MaintenanceRunner interface {
	RunOnce(ctx context.Context) (maintenance.Report, error)
	LastReport() (maintenance.Report, bool)
}

// MaintenanceHandler exposes retention cleanup
type MaintenanceHandler struct {
	runner MaintenanceRunner
}

func NewMaintenanceHandler(runner MaintenanceRunner) *MaintenanceHandler {
	return &MaintenanceHandler{runner: runner}
}

// GetLastRun returns the most recent cleanup report
func (h *MaintenanceHandler) GetLastRun(c *gin.Context) {
	report, ok := h.runner.LastReport()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ran": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ran": true, "report": report})
}

// RunNow performs a cleanup pass immediately
func (h *MaintenanceHandler) RunNow(c *gin.Context) {
	report, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ran": true, "report": report})
}
