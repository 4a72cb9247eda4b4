package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

const (
	EnvNotifyWebhookURL = "ENVOY_NOTIFY_WEBHOOK_URL"
	EnvNotifyBaseURL    = "ENVOY_NOTIFY_BASE_URL"
	EnvNotifyTimeout    = "ENVOY_NOTIFY_TIMEOUT"
)

// NotifyConfig holds gate notification delivery. Without a webhook URL,
// notices are only logged.
type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
	BaseURL    string `toml:"base_url"`
	Timeout    string `toml:"timeout"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *NotifyConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *NotifyConfig) Finalize() error {
	if c.Timeout == "" {
		c.Timeout = "10s"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}

	if v := os.Getenv(EnvNotifyWebhookURL); v != "" {
		c.WebhookURL = v
	}
	if v := os.Getenv(EnvNotifyBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvNotifyTimeout); v != "" {
		c.Timeout = v
	}

	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid webhook_url %q", c.WebhookURL)
		}
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *NotifyConfig) Merge(overlay *NotifyConfig) {
	if overlay.WebhookURL != "" {
		c.WebhookURL = overlay.WebhookURL
	}
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
}
