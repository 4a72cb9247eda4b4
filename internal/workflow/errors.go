// Package workflow implements the Envoy orchestration engine: the run state
// threaded through every stage, the router that picks the next stage, the
// engine that drives, suspends, and resumes runs, and the feedback adjuster
// that tunes the acceptance threshold between runs.
package workflow

import (
	"errors"
	"net/http"
)

// Stage error taxonomy. Stages wrap their failures with one of these so the
// engine can classify the recorded error entry.
var (
	ErrTransient  = errors.New("transient stage failure")
	ErrValidation = errors.New("invalid candidate")
)

// Run-level errors surfaced by the engine.
var (
	ErrBudgetExceeded  = errors.New("error budget exceeded")
	ErrPersistence     = errors.New("run persistence failed")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunBusy         = errors.New("run is already being processed")
	ErrRunTerminal     = errors.New("run is terminal")
	ErrRunNotSuspended = errors.New("run is not suspended")
	ErrGateNotFound    = errors.New("gate not found")
	ErrGateResolved    = errors.New("gate already resolved")
	ErrGateExpired     = errors.New("gate expired before the decision arrived")
	ErrInvalidDecision = errors.New("invalid gate decision")
	ErrInterrupted     = errors.New("run interrupted before completion")
	ErrEngineClosed    = errors.New("engine is shutting down")
)

// ErrorKind classifies a recorded stage error.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
)

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}

// MapHTTPStatus maps workflow errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrGateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunBusy),
		errors.Is(err, ErrRunTerminal),
		errors.Is(err, ErrRunNotSuspended),
		errors.Is(err, ErrGateResolved):
		return http.StatusConflict
	case errors.Is(err, ErrGateExpired):
		return http.StatusGone
	case errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInterrupted), errors.Is(err, ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
