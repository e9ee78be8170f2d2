package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config holds all application configuration. The chain/sync fields are
// required in the config file (no defaults — a wrong default here means a
// wrong start block or batch size, which silently corrupts the index
// rather than failing loudly); the ambient Logging/Metrics sections carry
// the usual sane defaults.
type Config struct {
	DBPath              string `json:"db_path"`
	RPCURL              string `json:"rpc_url"`
	RPCAPIKey           string `json:"rpc_api_key"`
	APIPort             int    `json:"api_port"`
	SyncBatchSize       int    `json:"sync_batch_size"`
	SyncIntervalSeconds int    `json:"sync_interval_seconds"`
	InitialBlock        int64  `json:"initial_block"`

	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from a JSON file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for the ambient configuration sections.
func (c *Config) setDefaults() {
	c.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("RPC_API_KEY"); v != "" {
		c.RPCAPIKey = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.APIPort = port
		}
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		var size int
		if _, err := fmt.Sscanf(v, "%d", &size); err == nil && size > 0 {
			c.SyncBatchSize = size
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required (set RPC_URL env var)")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be a valid port number")
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("sync_batch_size must be positive")
	}
	if c.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("sync_interval_seconds must be positive")
	}
	if c.InitialBlock < 0 {
		return fmt.Errorf("initial_block must be non-negative")
	}
	return nil
}
