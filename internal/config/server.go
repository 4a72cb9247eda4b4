package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvServerHost            = "ENVOY_SERVER_HOST"
	EnvServerPort            = "ENVOY_SERVER_PORT"
	EnvServerReadTimeout     = "ENVOY_SERVER_READ_TIMEOUT"
	EnvServerWriteTimeout    = "ENVOY_SERVER_WRITE_TIMEOUT"
	EnvServerShutdownTimeout = "ENVOY_SERVER_SHUTDOWN_TIMEOUT"
	EnvServerDrainTimeout    = "ENVOY_SERVER_DRAIN_TIMEOUT"
)

// ServerConfig holds the HTTP listener settings and the time in-flight runs
// get to persist a resumable snapshot when the server stops.
//
// Gate resolutions drive a run to its next gate inside the request, so the
// write timeout must cover a full tailor and notify pass.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	DrainTimeout    string `toml:"drain_timeout"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(c.ReadTimeout)
}

func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(c.WriteTimeout)
}

func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout)
}

// DrainTimeoutDuration bounds how long shutdown waits for interrupted runs
// to save their snapshots.
func (c *ServerConfig) DrainTimeoutDuration() time.Duration {
	return parseDuration(c.DrainTimeout)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ServerConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ServerConfig) Merge(overlay *ServerConfig) {
	if overlay.Host != "" {
		c.Host = overlay.Host
	}
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	mergeString(&c.ReadTimeout, overlay.ReadTimeout)
	mergeString(&c.WriteTimeout, overlay.WriteTimeout)
	mergeString(&c.ShutdownTimeout, overlay.ShutdownTimeout)
	mergeString(&c.DrainTimeout, overlay.DrainTimeout)
}

func (c *ServerConfig) loadDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	defaultString(&c.ReadTimeout, "1m")
	defaultString(&c.WriteTimeout, "15m")
	defaultString(&c.ShutdownTimeout, "30s")
	defaultString(&c.DrainTimeout, "20s")
}

func (c *ServerConfig) loadEnv() {
	envString(&c.Host, EnvServerHost)
	if v := os.Getenv(EnvServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	envString(&c.ReadTimeout, EnvServerReadTimeout)
	envString(&c.WriteTimeout, EnvServerWriteTimeout)
	envString(&c.ShutdownTimeout, EnvServerShutdownTimeout)
	envString(&c.DrainTimeout, EnvServerDrainTimeout)
}

func (c *ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	for name, v := range map[string]string{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
		"drain_timeout":    c.DrainTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if parseDuration(c.DrainTimeout) > parseDuration(c.ShutdownTimeout) {
		return fmt.Errorf("drain_timeout %s exceeds shutdown_timeout %s", c.DrainTimeout, c.ShutdownTimeout)
	}
	return nil
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func defaultString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
