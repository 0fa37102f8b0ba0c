package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"

	"github.com/TheGojiOG/servervisor/internal/process"
)

// ServerManager handles thread-safe access to instance definitions and
// resolves them into launch specs
type ServerManager struct {
	configDir  string
	serversDir string
	logsDir    string
	mutex      sync.RWMutex
	servers    []InstanceDefinition
}

// NewServerManager creates a new server manager
func NewServerManager(storage StorageConfig) (*ServerManager, error) {
	sm := &ServerManager{
		configDir:  storage.ConfigDir,
		serversDir: storage.ServersDir,
		logsDir:    storage.LogsDir,
		servers:    []InstanceDefinition{},
	}

	if err := sm.Load(); err != nil {
		return nil, err
	}

	return sm, nil
}

// Load reads the configuration from disk
func (sm *ServerManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	servers, err := LoadServers(sm.configDir)
	if err != nil {
		return err
	}
	sm.servers = servers
	return nil
}

// Save writes the current configuration to disk
func (sm *ServerManager) Save() error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if err := SaveServers(sm.configDir, sm.servers); err != nil {
		return err
	}
	log.Printf("[ServerManager] Wrote %d servers to %s", len(sm.servers), serversPath(sm.configDir))
	return nil
}

// GetAll returns a copy of all definitions sorted by name
func (sm *ServerManager) GetAll() []InstanceDefinition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	result := make([]InstanceDefinition, len(sm.servers))
	copy(result, sm.servers)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names returns the configured instance names
func (sm *ServerManager) Names() []string {
	defs := sm.GetAll()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Get returns a definition by name
func (sm *ServerManager) Get(name string) (InstanceDefinition, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, s := range sm.servers {
		if s.Name == name {
			return s, true
		}
	}
	return InstanceDefinition{}, false
}

// Add adds a new definition. Call Save to persist it.
func (sm *ServerManager) Add(def InstanceDefinition) error {
	if err := ValidateInstanceDefinition(&def); err != nil {
		return fmt.Errorf("invalid server definition: %w", err)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for _, s := range sm.servers {
		if s.Name == def.Name {
			return fmt.Errorf("server %s already exists", def.Name)
		}
	}

	sm.servers = append(sm.servers, def)
	return nil
}

// Update replaces an existing definition. A running instance keeps the spec
// it was started with until it is restarted.
func (sm *ServerManager) Update(def InstanceDefinition) error {
	if err := ValidateInstanceDefinition(&def); err != nil {
		return fmt.Errorf("invalid server definition: %w", err)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, s := range sm.servers {
		if s.Name == def.Name {
			sm.servers[i] = def
			return nil
		}
	}

	return fmt.Errorf("server %s not found", def.Name)
}

// Delete removes a definition
func (sm *ServerManager) Delete(name string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, s := range sm.servers {
		if s.Name == name {
			sm.servers = append(sm.servers[:i], sm.servers[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("server %s not found", name)
}

// WorkingDir returns the directory the instance runs in
func (sm *ServerManager) WorkingDir(def InstanceDefinition) string {
	if def.WorkingDirectory == "" {
		return filepath.Join(sm.serversDir, def.Name)
	}
	if filepath.IsAbs(def.WorkingDirectory) {
		return filepath.Clean(def.WorkingDirectory)
	}
	return filepath.Join(sm.serversDir, def.WorkingDirectory)
}

// LogPath returns the append-only log sink for name
func (sm *ServerManager) LogPath(name string) string {
	return filepath.Join(sm.logsDir, name+".log")
}

// Spec resolves name into an immutable launch spec
func (sm *ServerManager) Spec(name string) (process.Spec, bool) {
	def, ok := sm.Get(name)
	if !ok {
		return process.Spec{}, false
	}

	return process.Spec{
		Name:           def.Name,
		Platform:       def.Platform,
		WorkingDir:     sm.WorkingDir(def),
		Executable:     def.JarFile,
		JavaArgs:       append([]string(nil), def.JavaArgs...),
		ServerArgs:     append([]string(nil), def.ServerArgs...),
		MemoryLimit:    def.MaxMemory,
		CommandLine:    def.CustomStartCmd,
		UseCommandLine: def.UseCustomStart,
		LogPath:        sm.LogPath(def.Name),
	}, true
}
