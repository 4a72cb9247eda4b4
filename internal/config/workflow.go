package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JaimeStill/envoy/internal/workflow"
)

const (
	EnvWorkflowErrorBudget      = "ENVOY_WORKFLOW_ERROR_BUDGET"
	EnvWorkflowGateTimeout      = "ENVOY_WORKFLOW_GATE_TIMEOUT"
	EnvWorkflowScoreConcurrency = "ENVOY_WORKFLOW_SCORE_CONCURRENCY"
	EnvWorkflowRetries          = "ENVOY_WORKFLOW_RETRIES"
	EnvWorkflowRetryBackoff     = "ENVOY_WORKFLOW_RETRY_BACKOFF"
	EnvWorkflowSweepInterval    = "ENVOY_WORKFLOW_SWEEP_INTERVAL"
	EnvWorkflowThreshold        = "ENVOY_WORKFLOW_INITIAL_THRESHOLD"
)

// FeedbackConfig holds the threshold adjustment rule.
type FeedbackConfig struct {
	InitialThreshold float64 `toml:"initial_threshold"`
	Step             float64 `toml:"step"`
	Floor            float64 `toml:"floor"`
	Ceiling          float64 `toml:"ceiling"`
	LowRate          float64 `toml:"low_rate"`
	HighRate         float64 `toml:"high_rate"`
}

// WorkflowConfig holds engine limits, gate timing, and the feedback rule.
type WorkflowConfig struct {
	ErrorBudget      int            `toml:"error_budget"`
	GateTimeout      string         `toml:"gate_timeout"`
	ScoreConcurrency int            `toml:"score_concurrency"`
	SweepConcurrency int            `toml:"sweep_concurrency"`
	Retries          int            `toml:"retries"`
	RetryBackoff     string         `toml:"retry_backoff"`
	SweepInterval    string         `toml:"sweep_interval"`
	Feedback         FeedbackConfig `toml:"feedback"`
}

// Options converts the config into engine options.
func (c *WorkflowConfig) Options() workflow.Options {
	gate, _ := time.ParseDuration(c.GateTimeout)
	backoff, _ := time.ParseDuration(c.RetryBackoff)

	return workflow.Options{
		ErrorBudget:      c.ErrorBudget,
		GateTimeout:      gate,
		ScoreConcurrency: c.ScoreConcurrency,
		SweepConcurrency: c.SweepConcurrency,
		Retries:          c.Retries,
		RetryBackoff:     backoff,
		Feedback: workflow.FeedbackConfig{
			InitialThreshold: c.Feedback.InitialThreshold,
			Step:             c.Feedback.Step,
			Floor:            c.Feedback.Floor,
			Ceiling:          c.Feedback.Ceiling,
			LowRate:          c.Feedback.LowRate,
			HighRate:         c.Feedback.HighRate,
		},
	}
}

// SweepIntervalDuration returns SweepInterval as a time.Duration.
func (c *WorkflowConfig) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *WorkflowConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *WorkflowConfig) Merge(overlay *WorkflowConfig) {
	if overlay.ErrorBudget != 0 {
		c.ErrorBudget = overlay.ErrorBudget
	}
	if overlay.GateTimeout != "" {
		c.GateTimeout = overlay.GateTimeout
	}
	if overlay.ScoreConcurrency != 0 {
		c.ScoreConcurrency = overlay.ScoreConcurrency
	}
	if overlay.SweepConcurrency != 0 {
		c.SweepConcurrency = overlay.SweepConcurrency
	}
	if overlay.Retries != 0 {
		c.Retries = overlay.Retries
	}
	if overlay.RetryBackoff != "" {
		c.RetryBackoff = overlay.RetryBackoff
	}
	if overlay.SweepInterval != "" {
		c.SweepInterval = overlay.SweepInterval
	}
	if overlay.Feedback != (FeedbackConfig{}) {
		c.Feedback = overlay.Feedback
	}
}

func (c *WorkflowConfig) loadDefaults() {
	d := workflow.DefaultOptions()
	if c.ErrorBudget == 0 {
		c.ErrorBudget = d.ErrorBudget
	}
	if c.GateTimeout == "" {
		c.GateTimeout = d.GateTimeout.String()
	}
	if c.ScoreConcurrency == 0 {
		c.ScoreConcurrency = d.ScoreConcurrency
	}
	if c.SweepConcurrency == 0 {
		c.SweepConcurrency = d.SweepConcurrency
	}
	if c.Retries == 0 {
		c.Retries = d.Retries
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = d.RetryBackoff.String()
	}
	if c.SweepInterval == "" {
		c.SweepInterval = "1m"
	}
	if c.Feedback == (FeedbackConfig{}) {
		f := d.Feedback
		c.Feedback = FeedbackConfig{
			InitialThreshold: f.InitialThreshold,
			Step:             f.Step,
			Floor:            f.Floor,
			Ceiling:          f.Ceiling,
			LowRate:          f.LowRate,
			HighRate:         f.HighRate,
		}
	}
}

func (c *WorkflowConfig) loadEnv() {
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt(EnvWorkflowErrorBudget, &c.ErrorBudget)
	setInt(EnvWorkflowScoreConcurrency, &c.ScoreConcurrency)
	setInt(EnvWorkflowRetries, &c.Retries)

	if v := os.Getenv(EnvWorkflowGateTimeout); v != "" {
		c.GateTimeout = v
	}
	if v := os.Getenv(EnvWorkflowRetryBackoff); v != "" {
		c.RetryBackoff = v
	}
	if v := os.Getenv(EnvWorkflowSweepInterval); v != "" {
		c.SweepInterval = v
	}
	if v := os.Getenv(EnvWorkflowThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Feedback.InitialThreshold = f
		}
	}
}

func (c *WorkflowConfig) validate() error {
	if c.ErrorBudget < 1 {
		return fmt.Errorf("error_budget must be positive: %d", c.ErrorBudget)
	}
	for name, v := range map[string]string{
		"gate_timeout":   c.GateTimeout,
		"retry_backoff":  c.RetryBackoff,
		"sweep_interval": c.SweepInterval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	f := c.Feedback
	if f.Floor < 0 || f.Ceiling > 1 || f.Floor > f.Ceiling {
		return fmt.Errorf("feedback floor and ceiling must satisfy 0 <= floor <= ceiling <= 1")
	}
	if f.InitialThreshold < f.Floor || f.InitialThreshold > f.Ceiling {
		return fmt.Errorf("initial_threshold %.2f outside [%.2f, %.2f]", f.InitialThreshold, f.Floor, f.Ceiling)
	}
	if f.LowRate > f.HighRate {
		return fmt.Errorf("feedback low_rate exceeds high_rate")
	}
	return nil
}
