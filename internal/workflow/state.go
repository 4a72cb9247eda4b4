package workflow

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// State is the run record threaded through every stage. Each field has a
// single owner: stages write only the fields they own, the router owns the
// candidate bookkeeping, and the engine owns identity, status, and timestamps.
type State struct {
	ID      uuid.UUID `json:"id"`
	Profile Profile   `json:"profile"`
	Status  Status    `json:"status"`
	Outcome Outcome   `json:"outcome,omitempty"`

	CurrentStage StageName `json:"current_stage,omitempty"`
	NextStage    StageName `json:"next_stage,omitempty"`

	Items     []Candidate        `json:"items,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Rationale map[string]string  `json:"rationale,omitempty"`
	Threshold float64            `json:"threshold"`
	Accepted  []string           `json:"accepted,omitempty"`
	Processed []string           `json:"processed,omitempty"`

	ActiveCandidate string       `json:"active_candidate,omitempty"`
	Document        *Document    `json:"document,omitempty"`
	PendingGate     *Gate        `json:"pending_gate,omitempty"`
	Submissions     []Submission `json:"submissions,omitempty"`

	Errors    []StageError       `json:"errors,omitempty"`
	Decisions []Decision         `json:"decisions,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewState creates a running state for profile with a fresh identity.
func NewState(profile Profile, now time.Time) *State {
	return &State{
		ID:        uuid.New(),
		Profile:   profile,
		Status:    StatusRunning,
		Scores:    make(map[string]float64),
		Rationale: make(map[string]string),
		Metrics:   make(map[string]float64),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	c.Profile.Titles = slices.Clone(s.Profile.Titles)
	c.Profile.Keywords = slices.Clone(s.Profile.Keywords)
	c.Profile.ExcludedKeywords = slices.Clone(s.Profile.ExcludedKeywords)
	c.Profile.Locations = slices.Clone(s.Profile.Locations)

	c.Items = make([]Candidate, len(s.Items))
	for i, item := range s.Items {
		item.Attributes = maps.Clone(item.Attributes)
		item.Values = maps.Clone(item.Values)
		c.Items[i] = item
	}
	if s.Items == nil {
		c.Items = nil
	}

	c.Scores = maps.Clone(s.Scores)
	c.Rationale = maps.Clone(s.Rationale)
	c.Metrics = maps.Clone(s.Metrics)
	c.Accepted = slices.Clone(s.Accepted)
	c.Processed = slices.Clone(s.Processed)
	c.Submissions = slices.Clone(s.Submissions)
	c.Errors = slices.Clone(s.Errors)
	c.Decisions = slices.Clone(s.Decisions)

	if s.Document != nil {
		doc := *s.Document
		doc.Changes = slices.Clone(s.Document.Changes)
		c.Document = &doc
	}
	if s.PendingGate != nil {
		gate := *s.PendingGate
		if s.PendingGate.ResolvedAt != nil {
			at := *s.PendingGate.ResolvedAt
			gate.ResolvedAt = &at
		}
		c.PendingGate = &gate
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Candidate looks up an item by identity.
func (s *State) Candidate(id string) (Candidate, bool) {
	i := slices.IndexFunc(s.Items, func(c Candidate) bool { return c.ID == id })
	if i < 0 {
		return Candidate{}, false
	}
	return s.Items[i], true
}

// IsProcessed reports whether the candidate has already advanced in this run.
func (s *State) IsProcessed(id string) bool {
	return slices.Contains(s.Processed, id)
}

// Terminal reports whether the run can no longer make progress.
func (s *State) Terminal() bool {
	return s.Status == StatusTerminal || s.Status == StatusFailed
}

// SetMetric writes a named metric.
func (s *State) SetMetric(name string, v float64) {
	if s.Metrics == nil {
		s.Metrics = make(map[string]float64)
	}
	s.Metrics[name] = v
}

// AddMetric increments a named counter.
func (s *State) AddMetric(name string, delta float64) {
	s.SetMetric(name, s.Metrics[name]+delta)
}

// RecordError appends one error entry for a failed stage execution. Joined
// errors share the entry; each execution counts once against the budget.
func (s *State) RecordError(stage StageName, err error, now time.Time) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, StageError{
		Stage:     stage,
		Kind:      kindOf(err),
		Message:   err.Error(),
		Timestamp: now,
	})
}

// RecordDecision appends an audit entry.
func (s *State) RecordDecision(stage, outcome StageName, rationale string, now time.Time) {
	s.Decisions = append(s.Decisions, Decision{
		Stage:     stage,
		Outcome:   outcome,
		Rationale: rationale,
		Timestamp: now,
	})
}

// AcceptanceRate is the fraction of discovered items that met the threshold
// the last time Score ran. It is 0 when nothing was discovered.
func (s *State) AcceptanceRate() float64 {
	if len(s.Items) == 0 {
		return 0
	}
	return s.Metrics[MetricAccepted] / float64(len(s.Items))
}

// ErrorRate is recorded errors per routing decision, 0 when no decisions exist.
func (s *State) ErrorRate() float64 {
	if len(s.Decisions) == 0 {
		return 0
	}
	return float64(len(s.Errors)) / float64(len(s.Decisions))
}

// ErrorsByStage groups recorded error counts by originating stage.
func (s *State) ErrorsByStage() map[StageName]int {
	out := make(map[StageName]int)
	for _, e := range s.Errors {
		out[e.Stage]++
	}
	return out
}

// DecisionsByStage groups decision counts by originating stage.
func (s *State) DecisionsByStage() map[StageName]int {
	out := make(map[StageName]int)
	for _, d := range s.Decisions {
		out[d.Stage]++
	}
	return out
}

// Summary is the condensed view of a run returned by every engine call.
type Summary struct {
	ID           uuid.UUID  `json:"id"`
	Status       Status     `json:"status"`
	Outcome      Outcome    `json:"outcome,omitempty"`
	CurrentStage StageName  `json:"current_stage,omitempty"`
	NextStage    StageName  `json:"next_stage,omitempty"`
	Discovered   int        `json:"discovered"`
	Scored       int        `json:"scored"`
	Accepted     int        `json:"accepted"`
	Processed    int        `json:"processed"`
	Submitted    int        `json:"submitted"`
	Errors       int        `json:"errors"`
	Decisions    int        `json:"decisions"`
	Threshold    float64    `json:"threshold"`
	GateToken    string     `json:"gate_token,omitempty"`
	GateExpires  *time.Time `json:"gate_expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Summary condenses the state.
func (s *State) Summary() Summary {
	sum := Summary{
		ID:           s.ID,
		Status:       s.Status,
		Outcome:      s.Outcome,
		CurrentStage: s.CurrentStage,
		NextStage:    s.NextStage,
		Discovered:   len(s.Items),
		Scored:       len(s.Scores),
		Accepted:     int(s.Metrics[MetricAccepted]),
		Processed:    len(s.Processed),
		Submitted:    len(s.Submissions),
		Errors:       len(s.Errors),
		Decisions:    len(s.Decisions),
		Threshold:    s.Threshold,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		CompletedAt:  s.CompletedAt,
	}
	if g := s.PendingGate; g != nil && g.Status == GatePending {
		sum.GateToken = g.Token
		expires := g.ExpiresAt
		sum.GateExpires = &expires
	}
	return sum
}

// CheckInvariants reports violations of the run-state invariants that must
// hold after every stage.
func (s *State) CheckInvariants() error {
	var errs []error
	if s.ActiveCandidate != "" {
		if _, ok := s.Candidate(s.ActiveCandidate); !ok {
			errs = append(errs, errors.New("active candidate not in items"))
		}
	}
	for id, v := range s.Scores {
		if v < 0 || v > 1 {
			errs = append(errs, errors.New("score out of range for "+id))
		}
		if _, ok := s.Candidate(id); !ok {
			errs = append(errs, errors.New("score for unknown candidate "+id))
		}
	}
	for _, id := range s.Accepted {
		if s.Scores[id] < s.Threshold {
			errs = append(errs, errors.New("accepted candidate below threshold "+id))
		}
	}
	if s.Status == StatusSuspended && (s.PendingGate == nil || s.PendingGate.Status != GatePending) {
		errs = append(errs, errors.New("suspended without a pending gate"))
	}
	return errors.Join(errs...)
}
