package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/models"
	"github.com/TheGojiOG/servervisor/internal/server"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// mockLifecycle implements Lifecycle with canned behaviour
type mockLifecycle struct {
	mu       sync.Mutex
	known    map[string]bool
	running  map[string]bool
	eula     map[string]bool
	logs     []string
	players  []string
	commands []string
	events   []webhook.Trigger
	startErr error
	maxLines int
}

func newMockLifecycle(names ...string) *mockLifecycle {
	m := &mockLifecycle{
		known:   make(map[string]bool),
		running: make(map[string]bool),
		eula:    make(map[string]bool),
	}
	for _, name := range names {
		m.known[name] = true
	}
	return m
}

func (m *mockLifecycle) Start(_ context.Context, name string) (models.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return models.ActionResult{Message: "not configured"}, server.ErrUnknownServer
	}
	if m.startErr != nil {
		return models.ActionResult{EULARequired: true, Message: m.startErr.Error()}, m.startErr
	}
	if m.running[name] {
		return models.ActionResult{Message: "already running"}, server.ErrAlreadyRunning
	}
	m.running[name] = true
	return models.ActionResult{Success: true, Message: "started"}, nil
}

func (m *mockLifecycle) Stop(_ context.Context, name string) (models.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running[name] {
		return models.ActionResult{Message: "not running"}, server.ErrNotRunning
	}
	m.running[name] = false
	return models.ActionResult{Success: true, Message: "stopped"}, nil
}

func (m *mockLifecycle) SendCommand(_ context.Context, name, text string) (models.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running[name] {
		return models.ActionResult{Message: "not running"}, server.ErrNotRunning
	}
	m.commands = append(m.commands, text)
	return models.ActionResult{Success: true, Message: "sent"}, nil
}

func (m *mockLifecycle) Status(name string) (models.InstanceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return models.InstanceStatus{}, server.ErrUnknownServer
	}
	if m.running[name] {
		pid := 4242
		return models.InstanceStatus{Name: name, Status: models.StateRunning, PID: &pid, OnlinePlayers: len(m.players)}, nil
	}
	return models.InstanceStatus{Name: name, Status: models.StateStopped}, nil
}

func (m *mockLifecycle) Logs(_ context.Context, name string, maxLines int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return nil, server.ErrUnknownServer
	}
	m.maxLines = maxLines
	return append([]string(nil), m.logs...), nil
}

func (m *mockLifecycle) Players(name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return nil, server.ErrUnknownServer
	}
	if !m.running[name] {
		return []string{}, nil
	}
	return append([]string{}, m.players...), nil
}

func (m *mockLifecycle) AcceptEULA(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return server.ErrUnknownServer
	}
	m.eula[name] = true
	return nil
}

func (m *mockLifecycle) EULAAccepted(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return false, server.ErrUnknownServer
	}
	return m.eula[name], nil
}

func (m *mockLifecycle) ReportEvent(_ context.Context, name string, trigger webhook.Trigger, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[name] {
		return server.ErrUnknownServer
	}
	m.events = append(m.events, trigger)
	return nil
}

var _ Lifecycle = (*mockLifecycle)(nil)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.ConfigDir = filepath.Join(root, "configs")
	cfg.Storage.ServersDir = filepath.Join(root, "servers")
	cfg.Storage.LogsDir = filepath.Join(root, "logs")
	cfg.Storage.DataDir = filepath.Join(root, "data")
	return cfg
}

func newTestServerManager(t *testing.T, cfg *config.Config, names ...string) *config.ServerManager {
	t.Helper()
	sm, err := config.NewServerManager(cfg.Storage)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, sm.Add(config.InstanceDefinition{Name: name, Platform: "paper", JarFile: "paper.jar"}))
	}
	require.NoError(t, sm.Save())
	return sm
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func init() {
	gin.SetMode(gin.TestMode)
}
