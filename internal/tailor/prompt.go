package tailor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JaimeStill/envoy/internal/prompts"
)

// Prompter supplies the instructions and output spec for a prompt stage.
// prompts.System satisfies it.
type Prompter interface {
	Instructions(ctx context.Context, stage prompts.Stage) (string, error)
	Spec(ctx context.Context, stage prompts.Stage) (string, error)
}

type defaultPrompter struct{}

// DefaultPrompter serves the built-in instructions without database overrides.
func DefaultPrompter() Prompter {
	return defaultPrompter{}
}

func (defaultPrompter) Instructions(ctx context.Context, stage prompts.Stage) (string, error) {
	return prompts.Instructions(stage)
}

func (defaultPrompter) Spec(ctx context.Context, stage prompts.Stage) (string, error) {
	return prompts.Spec(stage)
}

// Section is a labeled block of context appended to a composed prompt.
type Section struct {
	Label string
	Value any
}

// ComposePrompt builds a prompt from the stage instructions, the stage spec,
// and each section. String values are written verbatim; anything else is
// serialized as indented JSON.
func ComposePrompt(
	ctx context.Context,
	p Prompter,
	stage prompts.Stage,
	sections ...Section,
) (string, error) {
	instructions, err := p.Instructions(ctx, stage)
	if err != nil {
		return "", fmt.Errorf("load instructions for %s: %w", stage, err)
	}

	spec, err := p.Spec(ctx, stage)
	if err != nil {
		return "", fmt.Errorf("load spec for %s: %w", stage, err)
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\n")
	sb.WriteString(spec)

	for _, s := range sections {
		sb.WriteString("\n\n")
		sb.WriteString(s.Label)
		sb.WriteString(":\n\n")

		if text, ok := s.Value.(string); ok {
			sb.WriteString(text)
			continue
		}

		data, err := json.MarshalIndent(s.Value, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize %s: %w", strings.ToLower(s.Label), err)
		}
		sb.Write(data)
	}

	return sb.String(), nil
}
