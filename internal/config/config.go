package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Security    SecurityConfig    `yaml:"security" json:"security"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Supervisor  SupervisorConfig  `yaml:"supervisor" json:"supervisor"`
	Webhooks    WebhookConfig     `yaml:"webhooks" json:"webhooks"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Offload     OffloadConfig     `yaml:"offload" json:"offload"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string    `yaml:"host" json:"host"`
	Port int       `yaml:"port" json:"port"`
	TLS  TLSConfig `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `yaml:"path" json:"path"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
}

// AuthConfig controls bearer token checks on the API
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"-"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	TokenTTL  string `yaml:"token_ttl" json:"token_ttl"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	ConfigDir    string `yaml:"config_dir" json:"config_dir"`
	ServersDir   string `yaml:"servers_dir" json:"servers_dir"`
	LogsDir      string `yaml:"logs_dir" json:"logs_dir"`
	ArchiveDir   string `yaml:"archive_dir" json:"archive_dir"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb" json:"log_max_size_mb"` // 0 disables archiving
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// SupervisorConfig contains process supervision settings
type SupervisorConfig struct {
	StopCommand     string `yaml:"stop_command" json:"stop_command"`
	StopTimeout     string `yaml:"stop_timeout" json:"stop_timeout"`
	JavaPath        string `yaml:"java_path" json:"java_path"`
	Shell           string `yaml:"shell" json:"shell"`
	LogTailLines    int    `yaml:"log_tail_lines" json:"log_tail_lines"`
	OfflineLogLines int    `yaml:"offline_log_lines" json:"offline_log_lines"`
	ConsoleBuffer   int    `yaml:"console_buffer" json:"console_buffer"`
}

// WebhookConfig contains webhook delivery settings
type WebhookConfig struct {
	Timeout       string  `yaml:"timeout" json:"timeout"`
	Workers       int     `yaml:"workers" json:"workers"`
	QueueSize     int     `yaml:"queue_size" json:"queue_size"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
	// DrainTimeout bounds delivery of queued notifications at shutdown
	DrainTimeout string `yaml:"drain_timeout" json:"drain_timeout"`
}

// MaintenanceConfig contains retention job settings
type MaintenanceConfig struct {
	Enabled               bool   `yaml:"enabled" json:"enabled"`
	CleanupSchedule       string `yaml:"cleanup_schedule" json:"cleanup_schedule"` // standard cron spec
	ActivityRetentionDays int    `yaml:"activity_retention_days" json:"activity_retention_days"`
	DeliveryRetentionDays int    `yaml:"delivery_retention_days" json:"delivery_retention_days"`
	LogRetentionDays      int    `yaml:"log_retention_days" json:"log_retention_days"`
}

// OffloadConfig controls copying archived console logs off the host
type OffloadConfig struct {
	Enabled          bool       `yaml:"enabled" json:"enabled"`
	Type             string     `yaml:"type" json:"type"` // local, sftp or s3
	Path             string     `yaml:"path" json:"path"`
	CompressionLevel int        `yaml:"compression_level" json:"compression_level"`
	RetentionDays    int        `yaml:"retention_days" json:"retention_days"` // 0 keeps remote copies forever
	QueueSize        int        `yaml:"queue_size" json:"queue_size"`
	SFTP             SFTPConfig `yaml:"sftp" json:"sftp"`
	S3               S3Config   `yaml:"s3" json:"s3"`
}

// SFTPConfig contains SFTP destination settings
type SFTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Username        string `yaml:"username" json:"username"`
	Password        string `yaml:"password" json:"-"`
	KeyPath         string `yaml:"key_path" json:"key_path"`
	KeyPassphrase   string `yaml:"key_passphrase" json:"-"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// S3Config contains S3 or S3-compatible destination settings
type S3Config struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // MinIO and similar
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Path           string `yaml:"path" json:"path"`
	SampleInterval int    `yaml:"sample_interval" json:"sample_interval"` // seconds
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:           "./data/servervisor.db",
			MaxConnections: 25,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
			Auth: AuthConfig{
				Enabled:  false,
				Issuer:   "servervisor",
				TokenTTL: "720h",
			},
		},
		Storage: StorageConfig{
			ConfigDir:    "./configs",
			ServersDir:   "./servers",
			LogsDir:      "./logs",
			ArchiveDir:   "./logs/archive",
			DataDir:      "./data",
			LogMaxSizeMB: 64,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Supervisor: SupervisorConfig{
			StopCommand:     "stop",
			StopTimeout:     "30s",
			JavaPath:        "java",
			Shell:           "/bin/sh",
			LogTailLines:    100,
			OfflineLogLines: 200,
			ConsoleBuffer:   1000,
		},
		Webhooks: WebhookConfig{
			Timeout:       "10s",
			Workers:       2,
			QueueSize:     100,
			RatePerSecond: 5,
			Burst:         5,
			DrainTimeout:  "5s",
		},
		Maintenance: MaintenanceConfig{
			Enabled:               true,
			CleanupSchedule:       "30 3 * * *",
			ActivityRetentionDays: 30,
			DeliveryRetentionDays: 14,
			LogRetentionDays:      30,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Path:           "/metrics",
			SampleInterval: 15,
		},
		Offload: OffloadConfig{
			Enabled:          false,
			Type:             "local",
			Path:             "./data/offload",
			CompressionLevel: 6,
			QueueSize:        32,
			SFTP: SFTPConfig{
				Port:            22,
				KnownHostsPath:  "./data/known_hosts",
				TrustOnFirstUse: true,
			},
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	configPath := GetConfigPath()
	return LoadFile(configPath)
}

// LoadFile loads configuration from configPath, falling back to defaults
// when the file does not exist
func LoadFile(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		cfg.Storage.ConfigDir = configDir
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if serversDir := os.Getenv("SERVERS_DIR"); serversDir != "" {
		cfg.Storage.ServersDir = serversDir
	}

	if logsDir := os.Getenv("LOGS_DIR"); logsDir != "" {
		cfg.Storage.LogsDir = logsDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Security.Auth.JWTSecret = secret
	}

	if accessKey := os.Getenv("OFFLOAD_S3_ACCESS_KEY"); accessKey != "" {
		cfg.Offload.S3.AccessKey = accessKey
	}

	if secretKey := os.Getenv("OFFLOAD_S3_SECRET_KEY"); secretKey != "" {
		cfg.Offload.S3.SecretKey = secretKey
	}

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if strings.TrimSpace(c.Supervisor.StopCommand) == "" {
		return fmt.Errorf("supervisor stop_command is required")
	}
	if strings.ContainsAny(c.Supervisor.StopCommand, "\r\n") {
		return fmt.Errorf("supervisor stop_command must be a single line")
	}
	if d, err := time.ParseDuration(c.Supervisor.StopTimeout); err != nil || d <= 0 {
		return fmt.Errorf("supervisor stop_timeout must be a positive duration")
	}
	if c.Supervisor.LogTailLines <= 0 || c.Supervisor.OfflineLogLines <= 0 {
		return fmt.Errorf("supervisor log line limits must be positive")
	}

	if d, err := time.ParseDuration(c.Webhooks.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("webhooks timeout must be a positive duration")
	}
	if c.Webhooks.DrainTimeout != "" {
		if _, err := time.ParseDuration(c.Webhooks.DrainTimeout); err != nil {
			return fmt.Errorf("invalid webhooks drain_timeout: %w", err)
		}
	}
	if c.Webhooks.Workers <= 0 || c.Webhooks.QueueSize <= 0 {
		return fmt.Errorf("webhooks workers and queue_size must be positive")
	}
	if c.Webhooks.RatePerSecond <= 0 || c.Webhooks.Burst <= 0 {
		return fmt.Errorf("webhooks rate_per_second and burst must be positive")
	}

	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.CleanupSchedule); err != nil {
			return fmt.Errorf("maintenance cleanup_schedule is invalid: %w", err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging level must be debug, info, warn or error")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit requests_per_minute must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	if c.Security.Auth.Enabled {
		if len(c.Security.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth jwt_secret must be at least 32 characters")
		}
		if d, err := time.ParseDuration(c.Security.Auth.TokenTTL); err != nil || d <= 0 {
			return fmt.Errorf("auth token_ttl must be a positive duration")
		}
	}

	if c.Offload.Enabled {
		if err := c.Offload.validate(); err != nil {
			return fmt.Errorf("offload: %w", err)
		}
	}

	return nil
}

func (o OffloadConfig) validate() error {
	if o.CompressionLevel < 0 || o.CompressionLevel > 9 {
		return fmt.Errorf("compression_level must be between 0 and 9")
	}
	switch o.Type {
	case "local":
		if strings.TrimSpace(o.Path) == "" {
			return fmt.Errorf("path is required for local destinations")
		}
	case "sftp":
		if o.SFTP.Host == "" || o.SFTP.Username == "" {
			return fmt.Errorf("sftp host and username are required")
		}
		if o.SFTP.Password == "" && o.SFTP.KeyPath == "" {
			return fmt.Errorf("sftp needs a password or key_path")
		}
	case "s3":
		if o.S3.Bucket == "" || o.S3.Region == "" {
			return fmt.Errorf("s3 bucket and region are required")
		}
	default:
		return fmt.Errorf("unsupported destination type %q", o.Type)
	}
	return nil
}

// TokenTTLDuration returns the lifetime of minted API tokens
func (c *Config) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Security.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// StopTimeoutDuration returns the graceful stop window
func (c *Config) StopTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Supervisor.StopTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// WebhookTimeoutDuration returns the per-delivery timeout
func (c *Config) WebhookTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Webhooks.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// WebhookDrainDuration returns the shutdown drain window. Zero disables it.
func (c *Config) WebhookDrainDuration() time.Duration {
	if c.Webhooks.DrainTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.Webhooks.DrainTimeout)
	if err != nil || d < 0 {
		return 5 * time.Second
	}
	return d
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	configDir := c.Storage.ConfigDir
	if strings.TrimSpace(configDir) == "" {
		configDir = baseDir
	}
	c.Storage.ConfigDir = resolvePath(configDir)

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.ServersDir) == "" {
		c.Storage.ServersDir = filepath.Join(rootDir, "servers")
	}
	c.Storage.ServersDir = resolvePath(c.Storage.ServersDir)

	if strings.TrimSpace(c.Storage.LogsDir) == "" {
		c.Storage.LogsDir = filepath.Join(rootDir, "logs")
	}
	c.Storage.LogsDir = resolvePath(c.Storage.LogsDir)

	if strings.TrimSpace(c.Storage.ArchiveDir) == "" {
		c.Storage.ArchiveDir = filepath.Join(c.Storage.LogsDir, "archive")
	}
	c.Storage.ArchiveDir = resolvePath(c.Storage.ArchiveDir)

	if strings.TrimSpace(c.Database.Path) != "" {
		c.Database.Path = resolvePath(c.Database.Path)
	}

	// Remote destinations keep their path as given
	if c.Offload.Type == "local" {
		c.Offload.Path = resolvePath(c.Offload.Path)
	}
	c.Offload.SFTP.KnownHostsPath = resolvePath(c.Offload.SFTP.KnownHostsPath)
}
