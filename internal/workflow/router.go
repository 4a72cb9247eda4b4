package workflow

import (
	"fmt"
	"slices"
	"time"
)

// DefaultErrorBudget is the number of recorded errors a run tolerates.
// Exceeding it stops the run.
const DefaultErrorBudget = 10

// Router selects the next stage from the stage that just ran and the current
// state. Apart from the candidate bookkeeping it owns (active candidate,
// processed set, accepted removal, gate clearing) and the decision log, it
// does not mutate the state.
type Router struct {
	budget int
}

// NewRouter creates a router with the given error budget. A non-positive
// budget selects DefaultErrorBudget.
func NewRouter(budget int) *Router {
	if budget <= 0 {
		budget = DefaultErrorBudget
	}
	return &Router{budget: budget}
}

// Budget returns the configured error budget.
func (r *Router) Budget() int {
	return r.budget
}

// OverBudget reports whether the run has recorded more errors than the budget allows.
func (r *Router) OverBudget(s *State) bool {
	return len(s.Errors) > r.budget
}

// Decide evaluates the decision table for the stage that just completed,
// applies the router-owned bookkeeping, records the decision, and returns it.
func (r *Router) Decide(from StageName, s *State, now time.Time) StageName {
	next, rationale := r.route(from, s)
	s.NextStage = next
	s.RecordDecision(from, next, rationale, now)
	return next
}

// Next evaluates the decision table without touching s.
func (r *Router) Next(from StageName, s *State) StageName {
	next, _ := r.route(from, s.Clone())
	return next
}

func (r *Router) route(from StageName, s *State) (StageName, string) {
	if r.OverBudget(s) {
		return StageStop, fmt.Sprintf("error budget exceeded: %d errors, budget %d", len(s.Errors), r.budget)
	}
	if s.Profile.Paused {
		return StageStop, "profile paused"
	}

	switch from {
	case StageDiscover:
		if len(s.Items) == 0 {
			return StageLearn, "no candidates discovered"
		}
		return StageScore, fmt.Sprintf("%d candidates discovered", len(s.Items))

	case StageScore:
		return r.afterScore(s)

	case StageTransform:
		if s.ActiveCandidate == "" {
			return StageScore, "no active candidate to transform"
		}
		if s.Document == nil || s.Document.CandidateID != s.ActiveCandidate {
			id := s.ActiveCandidate
			release(s)
			return StageScore, fmt.Sprintf("no document produced for %s", id)
		}
		return StageGate, fmt.Sprintf("document ready for %s", s.ActiveCandidate)

	case StageGate:
		return r.afterGate(s)

	case StageFinalize:
		id := s.ActiveCandidate
		s.Accepted = slices.DeleteFunc(s.Accepted, func(a string) bool { return a == id })
		release(s)
		if len(s.Accepted) > 0 {
			return StageScore, fmt.Sprintf("finalized %s, %d accepted remain", id, len(s.Accepted))
		}
		return StageLearn, fmt.Sprintf("finalized %s, no accepted candidates remain", id)

	case StageLearn:
		return StageStop, "learning complete"

	default:
		return StageStop, fmt.Sprintf("unknown stage %q", from)
	}
}

func (r *Router) afterScore(s *State) (StageName, string) {
	if len(s.Accepted) == 0 {
		return StageLearn, "no candidates accepted"
	}
	if s.ActiveCandidate != "" {
		return StageTransform, fmt.Sprintf("continuing with active candidate %s", s.ActiveCandidate)
	}
	for _, id := range s.Accepted {
		if s.IsProcessed(id) {
			continue
		}
		s.ActiveCandidate = id
		return StageTransform, fmt.Sprintf("selected %s (score %.2f)", id, s.Scores[id])
	}
	return StageLearn, "all accepted candidates processed"
}

func (r *Router) afterGate(s *State) (StageName, string) {
	g := s.PendingGate
	if g == nil {
		id := s.ActiveCandidate
		release(s)
		return StageScore, fmt.Sprintf("no gate opened for %s", id)
	}

	switch g.Status {
	case GatePending:
		return StageWait, fmt.Sprintf("awaiting approval until %s", g.ExpiresAt.Format(time.RFC3339))
	case GateApproved:
		s.PendingGate = nil
		return StageFinalize, withFeedback("approved", g.Feedback)
	case GateRejected:
		s.PendingGate = nil
		release(s)
		return StageLearn, withFeedback("rejected", g.Feedback)
	case GateExpired:
		s.PendingGate = nil
		release(s)
		return StageScore, "approval expired"
	default:
		return StageStop, fmt.Sprintf("unknown gate status %q", g.Status)
	}
}

// release marks the active candidate processed and ends its pass.
func release(s *State) {
	if id := s.ActiveCandidate; id != "" && !s.IsProcessed(id) {
		s.Processed = append(s.Processed, id)
	}
	s.ActiveCandidate = ""
	s.Document = nil
}

func withFeedback(msg, feedback string) string {
	if feedback == "" {
		return msg
	}
	return msg + ": " + feedback
}
