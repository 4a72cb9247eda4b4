// Package prompts implements the prompt override domain for Envoy.
// It provides types, data access, and HTTP handlers for managing named
// instruction overrides for the agent-backed score and tailor stages.
package prompts

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prompt represents a named instruction override for a workflow stage.
type Prompt struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Stage        Stage     `json:"stage"`
	Instructions string    `json:"instructions"`
	Description  *string   `json:"description"`
	Active       bool      `json:"active"`
}

// Command carries the fields written by create and update. Activation is
// changed only through SetActive.
type Command struct {
	Name         string  `json:"name"`
	Stage        Stage   `json:"stage"`
	Instructions string  `json:"instructions"`
	Description  *string `json:"description"`
}

// Validate trims the command and rejects blank names, blank instructions,
// and unknown stages.
func (c *Command) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Instructions = strings.TrimSpace(c.Instructions)

	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	if c.Instructions == "" {
		return fmt.Errorf("%w: instructions are required", ErrInvalidCommand)
	}
	if _, err := ParseStage(string(c.Stage)); err != nil {
		return err
	}
	return nil
}

// Override identifies the stored prompt currently replacing a stage default.
type Override struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Effective is what an agent-backed stage will send: the instructions in
// force, the fixed output spec, and the override supplying the instructions
// when one is active.
type Effective struct {
	Stage        Stage     `json:"stage"`
	Instructions string    `json:"instructions"`
	Spec         string    `json:"spec"`
	Override     *Override `json:"override,omitempty"`
}
