package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// instanceNamePattern keeps names safe as registry keys, log file names and URL segments
var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// InstanceDefinition represents one supervised game server
type InstanceDefinition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Platform    string `json:"platform" yaml:"platform"` // paper, spigot, vanilla, velocity, ...

	// WorkingDirectory defaults to <servers_dir>/<name>
	WorkingDirectory string   `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	JarFile          string   `json:"jar_file" yaml:"jar_file"`
	MaxMemory        string   `json:"max_memory" yaml:"max_memory"`
	JavaArgs         []string `json:"java_args,omitempty" yaml:"java_args,omitempty"`
	ServerArgs       []string `json:"server_args,omitempty" yaml:"server_args,omitempty"`

	UseCustomStart bool   `json:"use_custom_start" yaml:"use_custom_start"`
	CustomStartCmd string `json:"custom_start_cmd,omitempty" yaml:"custom_start_cmd,omitempty"`
}

type serversFile struct {
	Servers []InstanceDefinition `yaml:"servers"`
}

func serversPath(configDir string) string {
	return filepath.Join(configDir, "servers.yaml")
}

// LoadServers loads instance definitions from YAML file
func LoadServers(configDir string) ([]InstanceDefinition, error) {
	data, err := os.ReadFile(serversPath(configDir))
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty list if file doesn't exist
			return []InstanceDefinition{}, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var file serversFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	seen := make(map[string]bool, len(file.Servers))
	for i := range file.Servers {
		if err := ValidateInstanceDefinition(&file.Servers[i]); err != nil {
			return nil, fmt.Errorf("invalid server definition at index %d: %w", i, err)
		}
		if seen[file.Servers[i].Name] {
			return nil, fmt.Errorf("duplicate server name %q", file.Servers[i].Name)
		}
		seen[file.Servers[i].Name] = true
	}

	if file.Servers == nil {
		file.Servers = []InstanceDefinition{}
	}
	return file.Servers, nil
}

// SaveServers saves instance definitions to YAML file
func SaveServers(configDir string, servers []InstanceDefinition) error {
	data, err := yaml.Marshal(serversFile{Servers: servers})
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(serversPath(configDir), data, 0644); err != nil {
		return fmt.Errorf("failed to write servers file: %w", err)
	}

	return nil
}

// ValidateInstanceDefinition checks a definition and fills defaults
func ValidateInstanceDefinition(def *InstanceDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if !instanceNamePattern.MatchString(def.Name) {
		return fmt.Errorf("server name %q may only contain letters, digits, '.', '_' and '-'", def.Name)
	}
	if def.Platform == "" {
		def.Platform = "vanilla"
	}
	def.Platform = strings.ToLower(strings.TrimSpace(def.Platform))

	if def.WorkingDirectory != "" && !isValidPath(def.WorkingDirectory) {
		return fmt.Errorf("working_directory contains invalid characters")
	}

	if def.UseCustomStart {
		if strings.TrimSpace(def.CustomStartCmd) == "" {
			return fmt.Errorf("custom_start_cmd is required when use_custom_start is set")
		}
		if strings.ContainsAny(def.CustomStartCmd, "\r\n") {
			return fmt.Errorf("custom_start_cmd must be a single line")
		}
		return nil
	}

	if def.JarFile == "" {
		def.JarFile = "server.jar"
	}
	if !isValidPath(def.JarFile) {
		return fmt.Errorf("jar_file contains invalid characters")
	}
	if def.MaxMemory == "" {
		def.MaxMemory = "1G"
	}
	if !isValidMemory(def.MaxMemory) {
		return fmt.Errorf("max_memory must look like 512M or 2G")
	}
	for _, arg := range append(append([]string{}, def.JavaArgs...), def.ServerArgs...) {
		if !isValidArgs(arg) {
			return fmt.Errorf("argument %q contains invalid characters", arg)
		}
	}

	return nil
}

var memoryPattern = regexp.MustCompile(`^[1-9][0-9]*[KkMmGg]?$`)

func isValidMemory(s string) bool {
	return memoryPattern.MatchString(s)
}

func isValidPath(s string) bool {
	// Block shell metacharacters and newlines
	dangerous := ";|&$`()<>\"'\n"
	return !strings.ContainsAny(s, dangerous)
}

func isValidArgs(s string) bool {
	dangerous := ";|&`$()<>\\\n"
	return !strings.ContainsAny(s, dangerous)
}
