package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment" yaml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server" yaml:"server"`
	Storage     StorageConfig   `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig   `toml:"logging" yaml:"logging"`
	Sync        SyncConfig      `toml:"sync" yaml:"sync"`
	Targets     TargetsConfig   `toml:"targets" yaml:"targets"`
	Extractor   ExtractorConfig `toml:"extractor" yaml:"extractor"`
}

type ServerConfig struct {
	Port int    `toml:"port" yaml:"port"`
	Host string `toml:"host" yaml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite" yaml:"sqlite"`
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// SQLiteConfig holds the relational store settings (datasource configs + document state)
type SQLiteConfig struct {
	Path          string `toml:"path" yaml:"path"`
	CacheSizeMB   int    `toml:"cache_size_mb" yaml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" yaml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode" yaml:"wal_mode"`
}

// BadgerConfig holds settings for the Badger-backed index target adapters
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level"`             // "debug", "info", "warn", "error"
	Output     []string `toml:"output" yaml:"output"`           // "stdout", "file"
	TimeFormat string   `toml:"time_format" yaml:"time_format"` // Time format for logs
}

// SyncConfig controls the orchestrator and source workers
type SyncConfig struct {
	WatchInterval     time.Duration `toml:"watch_interval" yaml:"watch_interval"`         // Config watch poll cadence
	InitialGrace      time.Duration `toml:"initial_grace" yaml:"initial_grace"`           // Delay before a worker's first refresh
	ReconcileSchedule string        `toml:"reconcile_schedule" yaml:"reconcile_schedule"` // Optional cron expression for full reconciliation
	MailboxSize       int           `toml:"mailbox_size" yaml:"mailbox_size"`             // Bounded per-worker event channel size
}

// TargetsConfig controls which index target adapters are enabled globally
type TargetsConfig struct {
	Vector bool `toml:"vector" yaml:"vector"`
	Search bool `toml:"search" yaml:"search"`
	Graph  bool `toml:"graph" yaml:"graph"`
}

// ExtractorConfig configures the entity extractor used by the graph target
type ExtractorConfig struct {
	Model  string `toml:"model" yaml:"model"`
	APIKey string `toml:"api_key" yaml:"api_key"`
}

// NewDefaultConfig returns the baseline configuration before file/env overrides
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8171,
			Host: "localhost",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/concordia.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Sync: SyncConfig{
			WatchInterval: 30 * time.Second,
			InitialGrace:  10 * time.Second,
			MailboxSize:   256,
		},
		Targets: TargetsConfig{
			Vector: true,
			Search: true,
			Graph:  true,
		},
		Extractor: ExtractorConfig{
			Model: "claude-sonnet-4-5",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later config files override earlier ones. Both TOML and YAML files are accepted,
// selected by extension.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
			}
		default:
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CONCORDIA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("CONCORDIA_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("CONCORDIA_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CONCORDIA_SQLITE_PATH"); v != "" {
		config.Storage.SQLite.Path = v
	}
	if v := os.Getenv("CONCORDIA_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Extractor.APIKey == "" {
		config.Extractor.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// configValidator mirrors the fields we validate with struct tags
type configValidator struct {
	Port          int           `validate:"gte=0,lte=65535"`
	LogLevel      string        `validate:"oneof=debug info warn error"`
	SQLitePath    string        `validate:"required"`
	WatchInterval time.Duration `validate:"gte=1s"`
	MailboxSize   int           `validate:"gte=1"`
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	v := validator.New()
	cv := configValidator{
		Port:          c.Server.Port,
		LogLevel:      strings.ToLower(c.Logging.Level),
		SQLitePath:    c.Storage.SQLite.Path,
		WatchInterval: c.Sync.WatchInterval,
		MailboxSize:   c.Sync.MailboxSize,
	}
	if err := v.Struct(cv); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}
