// Package tailor implements the agent-backed workflow collaborators: a
// Transformer that tailors the base document to a candidate, and a Scorer
// that rates candidates with a model instead of the heuristic.
package tailor

import (
	"context"
	"fmt"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

// Completer sends a single prompt to a model and returns the text response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type agentCompleter struct {
	cfg gaconfig.AgentConfig
}

// NewAgentCompleter returns a Completer that creates a go-agents agent from
// cfg for each call.
func NewAgentCompleter(cfg gaconfig.AgentConfig) Completer {
	return &agentCompleter{cfg: cfg}
}

func (c *agentCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	a, err := agent.New(&c.cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}

	resp, err := a.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAgentFailed, err)
	}

	return resp.Content(), nil
}
