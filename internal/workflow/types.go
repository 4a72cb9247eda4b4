package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StageName identifies a pipeline stage or a router control decision.
type StageName string

// Pipeline stages.
const (
	StageDiscover  StageName = "discover"
	StageScore     StageName = "score"
	StageTransform StageName = "transform"
	StageGate      StageName = "gate"
	StageFinalize  StageName = "finalize"
	StageLearn     StageName = "learn"
)

// Router control decisions.
const (
	StageWait StageName = "wait"
	StageStop StageName = "stop"
)

var stages = []StageName{
	StageDiscover,
	StageScore,
	StageTransform,
	StageGate,
	StageFinalize,
	StageLearn,
}

// Stages returns the executable pipeline stages in pipeline order.
func Stages() []StageName {
	return stages
}

// Executable reports whether the name refers to a stage rather than a control decision.
func (n StageName) Executable() bool {
	return slices.Contains(stages, n)
}

// Status is the engine state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusTerminal  Status = "terminal"
	StatusFailed    Status = "failed"
)

// Outcome explains why a run stopped.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomePaused            Outcome = "paused"
	OutcomeBudgetExceeded    Outcome = "budget_exceeded"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomePersistenceFailed Outcome = "persistence_failed"
)

// GateStatus is the resolution state of an external approval wait.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
	GateExpired  GateStatus = "expired"
)

// GateDecision is the external response supplied to resolve a gate.
type GateDecision string

const (
	DecisionApprove GateDecision = "approve"
	DecisionReject  GateDecision = "reject"
)

// ParseGateDecision validates a raw decision string.
func ParseGateDecision(raw string) (GateDecision, error) {
	switch d := GateDecision(strings.ToLower(strings.TrimSpace(raw))); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

// Profile carries the caller-supplied search and acceptance criteria.
// Stages read it; nothing in a run writes it.
type Profile struct {
	UserID           string   `json:"user_id"`
	Titles           []string `json:"titles,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	ExcludedKeywords []string `json:"excluded_keywords,omitempty"`
	Locations        []string `json:"locations,omitempty"`
	MinSalary        float64  `json:"min_salary,omitempty"`
	WorkType         string   `json:"work_type,omitempty"`
	// BaseDocument is the id of a registered document to tailor. Empty
	// selects the user's most recent upload.
	BaseDocument string `json:"base_document,omitempty"`
	Contact      string `json:"contact,omitempty"`
	Paused       bool   `json:"paused,omitempty"`
}

// Well-known candidate attribute keys.
const (
	AttrTitle       = "title"
	AttrCompany     = "company"
	AttrLocation    = "location"
	AttrDescription = "description"
	AttrURL         = "url"
	AttrWorkType    = "work_type"

	ValueSalaryMin = "salary_min"
	ValueSalaryMax = "salary_max"
)

// Candidate is one discovered item. It is immutable once added to a run.
type Candidate struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`
}

// Attr returns a string attribute or "".
func (c Candidate) Attr(key string) string {
	return c.Attributes[key]
}

// Value returns a numeric attribute and whether it was present.
func (c Candidate) Value(key string) (float64, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// Validate reports malformed candidates. Invalid candidates are dropped, not retried.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id (source %q)", ErrValidation, c.Source)
	}
	if strings.TrimSpace(c.Attr(AttrTitle)) == "" {
		return fmt.Errorf("%w: candidate %s missing title", ErrValidation, c.ID)
	}
	return nil
}

// NewCandidateID derives a stable candidate identity from a source and its locator.
func NewCandidateID(source, locator string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"|"+locator)).String()
}

// Document is the transformed base document produced for one candidate.
type Document struct {
	CandidateID string    `json:"candidate_id"`
	Content     string    `json:"content"`
	Changes     []string  `json:"changes,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Gate describes an open or resolved external-approval wait.
type Gate struct {
	Token       string     `json:"token"`
	CandidateID string     `json:"candidate_id"`
	Summary     string     `json:"summary"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      GateStatus `json:"status"`
	Feedback    string     `json:"feedback,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the gate deadline has passed at now.
func (g *Gate) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// GateNotice is emitted to the notifier when a gate opens.
type GateNotice struct {
	RunID     uuid.UUID `json:"run_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Summary   string    `json:"summary"`
	Contact   string    `json:"contact,omitempty"`
}

// Submission records the result of finalizing one candidate.
type Submission struct {
	CandidateID string    `json:"candidate_id"`
	Reference   string    `json:"reference,omitempty"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// StageError is one recorded stage failure.
type StageError struct {
	Stage     StageName `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is one audit entry of a routing decision.
type Decision struct {
	Stage     StageName `json:"stage"`
	Outcome   StageName `json:"outcome"`
	Rationale string    `json:"rationale"`
	Timestamp time.Time `json:"timestamp"`
}

// Metric names written by stages.
const (
	MetricDiscovered     = "discovered"
	MetricDropped        = "dropped"
	MetricScored         = "scored"
	MetricAccepted       = "accepted"
	MetricSubmitted      = "submitted"
	MetricGatesOpened    = "gates_opened"
	MetricAcceptanceRate = "acceptance_rate"
	MetricErrorRate      = "error_rate"
	MetricThreshold      = "threshold"
)
