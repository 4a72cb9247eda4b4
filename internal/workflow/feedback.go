package workflow

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// ThresholdPolicy is the acceptance threshold shared across runs. Only the
// Learn stage writes it.
type ThresholdPolicy struct {
	Threshold float64   `json:"threshold"`
	Floor     float64   `json:"floor"`
	Ceiling   float64   `json:"ceiling"`
	Rationale string    `json:"rationale,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyStore persists the threshold policy. Writes are last-writer-wins.
type PolicyStore interface {
	Policy(ctx context.Context) (ThresholdPolicy, error)
	SavePolicy(ctx context.Context, p ThresholdPolicy) error
}

// FeedbackConfig tunes the threshold adjustment rule.
type FeedbackConfig struct {
	InitialThreshold float64 `json:"initial_threshold"`
	Step             float64 `json:"step"`
	Floor            float64 `json:"floor"`
	Ceiling          float64 `json:"ceiling"`
	LowRate          float64 `json:"low_rate"`
	HighRate         float64 `json:"high_rate"`
}

// DefaultFeedbackConfig returns the standard adjustment rule.
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		InitialThreshold: 0.70,
		Step:             0.05,
		Floor:            0.50,
		Ceiling:          0.90,
		LowRate:          0.10,
		HighRate:         0.80,
	}
}

// Policy returns the initial policy implied by the config.
func (c FeedbackConfig) Policy() ThresholdPolicy {
	return ThresholdPolicy{
		Threshold: clamp(c.InitialThreshold, c.Floor, c.Ceiling),
		Floor:     c.Floor,
		Ceiling:   c.Ceiling,
		Rationale: "initial threshold",
	}
}

// Adjuster applies the feedback rule to a threshold policy.
type Adjuster struct {
	cfg FeedbackConfig
}

// NewAdjuster creates an adjuster for cfg.
func NewAdjuster(cfg FeedbackConfig) *Adjuster {
	return &Adjuster{cfg: cfg}
}

// Adjust nudges the threshold by one step based on the acceptance rate.
// Low rates lower the bar, high rates raise it. The result always lies
// within the policy bounds.
func (a *Adjuster) Adjust(p ThresholdPolicy, rate float64, now time.Time) ThresholdPolicy {
	floor, ceiling := p.Floor, p.Ceiling
	if floor == 0 && ceiling == 0 {
		floor, ceiling = a.cfg.Floor, a.cfg.Ceiling
	}

	next := p.Threshold
	var rationale string
	switch {
	case rate < a.cfg.LowRate:
		next = p.Threshold - a.cfg.Step
		rationale = fmt.Sprintf("acceptance rate %.2f below %.2f: lowered threshold", rate, a.cfg.LowRate)
	case rate > a.cfg.HighRate:
		next = p.Threshold + a.cfg.Step
		rationale = fmt.Sprintf("acceptance rate %.2f above %.2f: raised threshold", rate, a.cfg.HighRate)
	default:
		rationale = fmt.Sprintf("acceptance rate %.2f within bounds: threshold unchanged", rate)
	}

	return ThresholdPolicy{
		Threshold: clamp(round(next), floor, ceiling),
		Floor:     floor,
		Ceiling:   ceiling,
		Rationale: rationale,
		UpdatedAt: now,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round trims float drift from repeated step arithmetic.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// MemoryPolicyStore is an in-process PolicyStore.
type MemoryPolicyStore struct {
	mu     sync.RWMutex
	policy ThresholdPolicy
}

// NewMemoryPolicyStore creates a store seeded with initial.
func NewMemoryPolicyStore(initial ThresholdPolicy) *MemoryPolicyStore {
	return &MemoryPolicyStore{policy: initial}
}

func (m *MemoryPolicyStore) Policy(ctx context.Context) (ThresholdPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy, nil
}

func (m *MemoryPolicyStore) SavePolicy(ctx context.Context, p ThresholdPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
	return nil
}
