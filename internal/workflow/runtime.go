package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Discoverer produces candidate items for a profile.
type Discoverer interface {
	Discover(ctx context.Context, p Profile) ([]Candidate, error)
}

// Scorer rates one candidate against a profile. The score is clamped to [0,1]
// by the Score stage; the string is the scorer's reasoning.
type Scorer interface {
	Score(ctx context.Context, p Profile, c Candidate) (float64, string, error)
}

// Transformer produces a tailored document for a candidate from the base document.
type Transformer interface {
	Transform(ctx context.Context, c Candidate, base string) (Document, error)
}

// Documents resolves the base document a profile references.
type Documents interface {
	Base(ctx context.Context, p Profile) (string, error)
}

// Notifier delivers the gate notice to whoever resolves the gate.
type Notifier interface {
	Notify(ctx context.Context, n GateNotice) error
}

// Submitter finalizes an approved candidate.
type Submitter interface {
	Submit(ctx context.Context, runID uuid.UUID, c Candidate, doc Document) (Submission, error)
}

// Runtime bundles the collaborators that workflow stages require.
// It is constructed by higher-level composition code from Infrastructure and Domain systems.
type Runtime struct {
	Discoverer  Discoverer
	Scorer      Scorer
	Transformer Transformer
	Documents   Documents
	Notifier    Notifier
	Submitter   Submitter
	Policies    PolicyStore
	Logger      *slog.Logger

	// Now is the engine clock. Nil uses time.Now.
	Now func() time.Time
}

func (rt *Runtime) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

func (rt *Runtime) logger() *slog.Logger {
	if rt.Logger != nil {
		return rt.Logger
	}
	return slog.Default()
}
