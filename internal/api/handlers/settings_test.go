package handlers

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/maintenance"
)

func setupSettingsRouter(t *testing.T) (*gin.Engine, *config.Config, string) {
	t.Helper()
	cfg := newTestConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	h := NewSettingsHandler(cfg, path)
	router := gin.New()
	router.GET("/settings", h.GetSettings)
	router.PUT("/settings", h.UpdateSettings)
	return router, cfg, path
}

func TestGetSettings(t *testing.T) {
	router, _, _ := setupSettingsRouter(t)

	w := performRequest(router, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SettingsResponse
	decode(t, w, &resp)
	assert.Equal(t, "stop", resp.Supervisor.StopCommand)
	assert.Equal(t, "30s", resp.Supervisor.StopTimeout)
	assert.True(t, resp.RequiresRestart)
}

func TestUpdateSettingsPersists(t *testing.T) {
	router, cfg, path := setupSettingsRouter(t)

	payload := SettingsPayload{
		Security: config.SecurityConfig{
			RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 30},
			CORS: config.CORSConfig{
				AllowedOrigins: []string{" https://panel.example.com ", ""},
				AllowedMethods: []string{"GET", "POST"},
			},
		},
		Logging: config.LoggingConfig{Level: "debug", Format: "text"},
	}

	w := performRequest(router, http.MethodPut, "/settings", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"https://panel.example.com"}, cfg.Security.CORS.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)

	saved, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 30, saved.Security.RateLimit.RequestsPerMinute)
	assert.Equal(t, "text", saved.Logging.Format)
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	router, cfg, _ := setupSettingsRouter(t)

	payload := SettingsPayload{
		Security: cfg.Security,
		Logging:  config.LoggingConfig{Level: "verbose"},
	}
	w := performRequest(router, http.MethodPut, "/settings", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "info", cfg.Logging.Level)
}

type fakeMaintenance struct {
	last *maintenance.Report
	err  error
}

func (f *fakeMaintenance) RunOnce(context.Context) (maintenance.Report, error) {
	report := maintenance.Report{Activities: 3, Deliveries: 2, Logs: 1, RanAt: time.Now()}
	f.last = &report
	return report, f.err
}

func (f *fakeMaintenance) LastReport() (maintenance.Report, bool) {
	if f.last == nil {
		return maintenance.Report{}, false
	}
	return *f.last, true
}

func TestMaintenanceHandler(t *testing.T) {
	runner := &fakeMaintenance{}
	h := NewMaintenanceHandler(runner)
	router := gin.New()
	router.GET("/maintenance", h.GetLastRun)
	router.POST("/maintenance/run", h.RunNow)

	var resp struct {
		Ran    bool               `json:"ran"`
		Report maintenance.Report `json:"report"`
	}

	w := performRequest(router, http.MethodGet, "/maintenance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.False(t, resp.Ran)

	w = performRequest(router, http.MethodPost, "/maintenance/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.True(t, resp.Ran)
	assert.EqualValues(t, 3, resp.Report.Activities)

	w = performRequest(router, http.MethodGet, "/maintenance", nil)
	decode(t, w, &resp)
	assert.True(t, resp.Ran)

	runner.err = errors.New("database is locked")
	w = performRequest(router, http.MethodPost, "/maintenance/run", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
