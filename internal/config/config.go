package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Backup       BackupConfig       `yaml:"backup"`
	Log          LogConfig          `yaml:"log"`
	Kiosco       KioscoConfig       `yaml:"kiosco"`
}

// ServerConfig contains local HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local replica database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains settings for the remote authority API.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	Interval         Duration `yaml:"interval"`
	RetryBase        Duration `yaml:"retry_base"`
	RetryCap         Duration `yaml:"retry_cap"`
	RetryMaxAttempts int      `yaml:"retry_max_attempts"`
	RetentionWindow  Duration `yaml:"retention_window"`
	RetentionSweep   Duration `yaml:"retention_sweep"`
}

// ConnectivityConfig contains connectivity probe settings.
type ConnectivityConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
}

// BackupConfig contains S3-compatible audit backup settings.
// Backup is disabled when Bucket is empty.
type BackupConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	Interval  Duration `yaml:"interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KioscoConfig identifies this terminal. Replica data is keyed per kiosco so
// shared devices never mix tenants.
type KioscoConfig struct {
	ID string `yaml:"id"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("POSSYNC_CONFIG_PATH", "config/possync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7070,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/possync.db",
		},
		Remote: RemoteConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval:         Duration(1 * time.Minute),
			RetryBase:        Duration(500 * time.Millisecond),
			RetryCap:         Duration(30 * time.Second),
			RetryMaxAttempts: 5,
			RetentionWindow:  Duration(30 * 24 * time.Hour),
			RetentionSweep:   Duration(6 * time.Hour),
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration(10 * time.Second),
		},
		Backup: BackupConfig{
			Interval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("POSSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("POSSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("POSSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote
	if v := os.Getenv("POSSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("POSSYNC_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("POSSYNC_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("POSSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("POSSYNC_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("POSSYNC_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RetentionWindow = Duration(d)
		}
	}

	// Connectivity
	if v := os.Getenv("POSSYNC_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectivity.ProbeInterval = Duration(d)
		}
	}

	// Backup
	if v := os.Getenv("POSSYNC_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("POSSYNC_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("POSSYNC_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("POSSYNC_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}

	// Log
	if v := os.Getenv("POSSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("POSSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Kiosco
	if v := os.Getenv("POSSYNC_KIOSCO_ID"); v != "" {
		cfg.Kiosco.ID = v
	}
}

// validate checks that required configuration values are set and fills the
// kiosco identity when absent.
func (c *Config) validate() error {
	if c.Kiosco.ID == "" {
		c.Kiosco.ID = uuid.NewString()
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url (or POSSYNC_REMOTE_URL) is required")
	}
	if c.Sync.RetryMaxAttempts < 1 {
		return errors.New("sync.retry_max_attempts must be at least 1")
	}
	if c.Backup.Bucket != "" && c.Backup.Endpoint == "" {
		return errors.New("backup.endpoint is required when backup.bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
