package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/envoy/pkg/database"
	"github.com/JaimeStill/envoy/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvEnvoyEnv             = "ENVOY_ENV"
	EnvEnvoyShutdownTimeout = "ENVOY_SHUTDOWN_TIMEOUT"
	EnvEnvoyVersion         = "ENVOY_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "ENVOY_DB_HOST",
	Port:            "ENVOY_DB_PORT",
	Name:            "ENVOY_DB_NAME",
	User:            "ENVOY_DB_USER",
	Password:        "ENVOY_DB_PASSWORD",
	SSLMode:         "ENVOY_DB_SSL_MODE",
	MaxOpenConns:    "ENVOY_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "ENVOY_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "ENVOY_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "ENVOY_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "ENVOY_STORAGE_PROVIDER",
	ContainerName:    "ENVOY_STORAGE_CONTAINER_NAME",
	ConnectionString: "ENVOY_STORAGE_CONNECTION_STRING",
	AccountURL:       "ENVOY_STORAGE_ACCOUNT_URL",
	MaxRetries:       "ENVOY_STORAGE_MAX_RETRIES",
}

// Config is the root configuration for the Envoy service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Workflow        WorkflowConfig  `toml:"workflow"`
	Sources         SourcesConfig   `toml:"sources"`
	Notify          NotifyConfig    `toml:"notify"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`

	// Agent is decoded from the [agent] table through its JSON field names.
	Agent gaconfig.AgentConfig `toml:"-"`
}

// Env returns the ENVOY_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvEnvoyEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Workflow.Merge(&overlay.Workflow)
	c.Sources.Merge(&overlay.Sources)
	c.Notify.Merge(&overlay.Notify)
	if a := overlay.Agent; a.Name != "" || a.Provider != nil || a.Model != nil {
		c.Agent.Merge(&overlay.Agent)
	}
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Workflow.Finalize(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Sources.Finalize(); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if err := c.Notify.Finalize(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := FinalizeAgent(&c.Agent); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvEnvoyShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvEnvoyVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var raw struct {
		Agent map[string]any `toml:"agent"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if raw.Agent != nil {
		b, err := json.Marshal(raw.Agent)
		if err != nil {
			return nil, fmt.Errorf("encode agent: %w", err)
		}
		if err := json.Unmarshal(b, &cfg.Agent); err != nil {
			return nil, fmt.Errorf("parse agent: %w", err)
		}
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvEnvoyEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
