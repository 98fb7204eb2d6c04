package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Library   LibraryConfig   `toml:"library"`
	Logging   LoggingConfig   `toml:"logging"`
	Player    PlayerConfig    `toml:"player"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Ngrok     NgrokConfig     `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	StaticDir   string `toml:"static_dir"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// DatabaseConfig contains catalog database configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// LibraryConfig contains the sound library configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	AllowUploads     bool     `toml:"allow_uploads"`
	MaxUploadSizeMB  int64    `toml:"max_upload_size_mb"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// PlayerConfig contains playback session configuration
type PlayerConfig struct {
	ProgressIntervalMs    int     `toml:"progress_interval_ms"`
	SessionTimeoutSeconds int     `toml:"session_timeout_seconds"`
	LoadTimeoutSeconds    int     `toml:"load_timeout_seconds"`
	DefaultVolume         float64 `toml:"default_volume"`
	TempDir               string  `toml:"temp_dir"`
}

// RateLimitConfig limits API requests per client address
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// TelemetryConfig contains error reporting configuration
type TelemetryConfig struct {
	SentryDSN   string `toml:"sentry_dsn"`
	Environment string `toml:"environment"`
	Release     string `toml:"release"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	Region       string `toml:"region"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			StaticDir:   "./static",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Database: DatabaseConfig{
			Path:           "./layerdeck.db",
			MaxConnections: 10,
		},
		Library: LibraryConfig{
			Path:             "./sounds",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a"},
			WatchForChanges:  true,
			ScanOnStartup:    true,
			AllowUploads:     true,
			MaxUploadSizeMB:  100,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Player: PlayerConfig{
			ProgressIntervalMs:    1000,
			SessionTimeoutSeconds: 1800,
			LoadTimeoutSeconds:    30,
			DefaultVolume:         1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Telemetry: TelemetryConfig{
			Environment: "development",
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			Region:       "us",
			EnableAuth:   false,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with
// defaults when it does not exist
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		cfg.ApplyEnv()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides secrets from the environment (a .env file is loaded
// into it at startup)
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LAYERDECK_SENTRY_DSN"); v != "" {
		c.Telemetry.SentryDSN = v
	}
	if v := os.Getenv("NGROK_AUTHTOKEN"); v != "" {
		c.Ngrok.AuthToken = v
	}
	if v := os.Getenv("LAYERDECK_PORT"); v != "" {
		c.Server.Port = v
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# layerdeck Configuration
# Playback sessions, the sound catalog and the HTTP API are configured here.
# Secrets (sentry dsn, ngrok token) are better kept in .env.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Library.Path == "" {
		return fmt.Errorf("library path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Library.AllowUploads && c.Library.MaxUploadSizeMB < 1 {
		return fmt.Errorf("library max upload size must be at least 1MB")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Player.ProgressIntervalMs < 50 {
		return fmt.Errorf("player progress interval must be at least 50ms")
	}
	if c.Player.SessionTimeoutSeconds < 1 {
		return fmt.Errorf("player session timeout must be at least 1 second")
	}
	if c.Player.LoadTimeoutSeconds < 1 {
		return fmt.Errorf("player load timeout must be at least 1 second")
	}
	if c.Player.DefaultVolume < 0 || c.Player.DefaultVolume > 1 {
		return fmt.Errorf("player default volume must be between 0 and 1")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit requests per second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate limit burst must be at least 1")
		}
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if an audio format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}

// ProgressInterval is the progress clock cadence
func (p PlayerConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

// SessionTimeout is how long an idle session survives
func (p PlayerConfig) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutSeconds) * time.Second
}

// LoadTimeout bounds fetching a remote audio source
func (p PlayerConfig) LoadTimeout() time.Duration {
	return time.Duration(p.LoadTimeoutSeconds) * time.Second
}
