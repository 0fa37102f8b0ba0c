package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheGojiOG/servervisor/internal/auth"
	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/server"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// stoppedLifecycle reports every configured server as stopped
type stoppedLifecycle struct {
	sm *config.ServerManager
}

func (s stoppedLifecycle) known(name string) error {
	if _, ok := s.sm.Get(name); !ok {
		return server.ErrUnknownServer
	}
	return nil
}

func (s stoppedLifecycle) Start(_ context.Context, name string) (models.ActionResult, error) {
	return models.ActionResult{}, s.known(name)
}

func (s stoppedLifecycle) Stop(_ context.Context, name string) (models.ActionResult, error) {
	if err := s.known(name); err != nil {
		return models.ActionResult{}, err
	}
	return models.ActionResult{Message: "Server is not running"}, server.ErrNotRunning
}

func (s stoppedLifecycle) SendCommand(_ context.Context, name, _ string) (models.ActionResult, error) {
	return s.Stop(context.Background(), name)
}

func (s stoppedLifecycle) Status(name string) (models.InstanceStatus, error) {
	if err := s.known(name); err != nil {
		return models.InstanceStatus{}, err
	}
	return models.InstanceStatus{Name: name, Status: models.StateStopped}, nil
}

func (s stoppedLifecycle) Logs(_ context.Context, name string, _ int) ([]string, error) {
	return nil, s.known(name)
}

func (s stoppedLifecycle) Players(name string) ([]string, error) {
	return []string{}, s.known(name)
}

func (s stoppedLifecycle) AcceptEULA(name string) error { return s.known(name) }

func (s stoppedLifecycle) EULAAccepted(name string) (bool, error) { return false, s.known(name) }

func (s stoppedLifecycle) ReportEvent(_ context.Context, name string, _ webhook.Trigger, _ string) error {
	return s.known(name)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return newTestRouterWithTokens(t, nil)
}

func newTestRouterWithTokens(t *testing.T, tokens *auth.TokenManager) http.Handler {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.ConfigDir = filepath.Join(root, "configs")
	cfg.Storage.ServersDir = filepath.Join(root, "servers")
	cfg.Storage.LogsDir = filepath.Join(root, "logs")

	sm, err := config.NewServerManager(cfg.Storage)
	require.NoError(t, err)
	require.NoError(t, sm.Add(config.InstanceDefinition{Name: "survival"}))

	return SetupRouter(Dependencies{
		Config:        cfg,
		ConfigPath:    filepath.Join(root, "configs", "config.yaml"),
		ServerManager: sm,
		Lifecycle:     stoppedLifecycle{sm: sm},
		WebhookStore:  webhook.NewMemoryStore(),
		Tokens:        tokens,
	})
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServerRoutes(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var items []models.ServerListItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "survival", items[0].Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/servers/survival/stop", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers/missing/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/maintenance", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIRequiresTokenWhenEnabled(t *testing.T) {
	tokens := auth.NewTokenManager("0123456789abcdef0123456789abcdef", "servervisor", time.Hour)
	router := newTestRouterWithTokens(t, tokens)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	token, _, err := tokens.Issue("dashboard", auth.ScopeRead)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/servers/survival/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
