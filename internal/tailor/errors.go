package tailor

import "errors"

// Domain errors for agent-backed stages.
var (
	ErrEmptyBase     = errors.New("base document is empty")
	ErrEmptyResponse = errors.New("agent returned empty content")
	ErrAgentFailed   = errors.New("agent call failed")
	ErrRenderFailed  = errors.New("pdf render failed")
)
