package config

import (
	"fmt"
	"os"
	"time"

	"github.com/JaimeStill/envoy/internal/scoring"
	"github.com/JaimeStill/envoy/internal/sources"
)

// Scorer kinds.
const (
	ScorerHeuristic = "heuristic"
	ScorerAgent     = "agent"
)

const (
	EnvSourcesStaticPath = "ENVOY_SOURCES_STATIC_PATH"
	EnvSourcesTimeout    = "ENVOY_SOURCES_TIMEOUT"
	EnvSourcesUserAgent  = "ENVOY_SOURCES_USER_AGENT"
	EnvSourcesScorer     = "ENVOY_SOURCES_SCORER"
)

// StaticFeed names a JSON file of postings.
type StaticFeed struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// SourcesConfig holds discovery sources and the scorer selection.
type SourcesConfig struct {
	Static    []StaticFeed         `toml:"static"`
	HTML      []sources.HTMLConfig `toml:"html"`
	Timeout   string               `toml:"timeout"`
	UserAgent string               `toml:"user_agent"`
	Scorer    string               `toml:"scorer"`
	Weights   scoring.Weights      `toml:"weights"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *SourcesConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *SourcesConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. Source lists are replaced
// wholesale when the overlay defines them.
func (c *SourcesConfig) Merge(overlay *SourcesConfig) {
	if len(overlay.Static) > 0 {
		c.Static = overlay.Static
	}
	if len(overlay.HTML) > 0 {
		c.HTML = overlay.HTML
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.UserAgent != "" {
		c.UserAgent = overlay.UserAgent
	}
	if overlay.Scorer != "" {
		c.Scorer = overlay.Scorer
	}
	if overlay.Weights != (scoring.Weights{}) {
		c.Weights = overlay.Weights
	}
}

func (c *SourcesConfig) loadDefaults() {
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
	if c.UserAgent == "" {
		c.UserAgent = "envoy/0.1"
	}
	if c.Scorer == "" {
		c.Scorer = ScorerHeuristic
	}
	if c.Weights == (scoring.Weights{}) {
		c.Weights = scoring.DefaultWeights()
	}
}

func (c *SourcesConfig) loadEnv() {
	if v := os.Getenv(EnvSourcesStaticPath); v != "" {
		c.Static = []StaticFeed{{Name: "static", Path: v}}
	}
	if v := os.Getenv(EnvSourcesTimeout); v != "" {
		c.Timeout = v
	}
	if v := os.Getenv(EnvSourcesUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(EnvSourcesScorer); v != "" {
		c.Scorer = v
	}
}

func (c *SourcesConfig) validate() error {
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.Scorer != ScorerHeuristic && c.Scorer != ScorerAgent {
		return fmt.Errorf("scorer must be %s or %s: %q", ScorerHeuristic, ScorerAgent, c.Scorer)
	}
	for i, s := range c.Static {
		if s.Path == "" {
			return fmt.Errorf("static[%d]: path required", i)
		}
	}
	for i, h := range c.HTML {
		if h.Name == "" || h.URL == "" || h.Item == "" || h.Title == "" {
			return fmt.Errorf("html[%d]: name, url, item, and title required", i)
		}
	}
	return nil
}
