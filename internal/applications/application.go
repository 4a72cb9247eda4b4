// Package applications implements the application domain for Envoy.
// It records each finalized candidate with its tailored document, stores
// the document in blob storage, and tracks the application's status
// through the employer's response.
package applications

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle position of an application.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusViewed    Status = "viewed"
	StatusInterview Status = "interview"
	StatusOffer     Status = "offer"
	StatusRejected  Status = "rejected"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusWithdrawn Status = "withdrawn"
)

var statuses = []Status{
	StatusSubmitted,
	StatusViewed,
	StatusInterview,
	StatusOffer,
	StatusRejected,
	StatusAccepted,
	StatusDeclined,
	StatusWithdrawn,
}

// Statuses returns the valid application statuses.
func Statuses() []Status {
	return statuses
}

// ParseStatus validates a string as a known status.
func ParseStatus(s string) (Status, error) {
	v := Status(s)
	if !slices.Contains(statuses, v) {
		return "", ErrInvalidStatus
	}
	return v, nil
}

// UnmarshalJSON validates that the decoded string is a known status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Closed reports whether no further employer response is expected.
func (s Status) Closed() bool {
	switch s {
	case StatusRejected, StatusAccepted, StatusDeclined, StatusWithdrawn:
		return true
	}
	return false
}

// Responded reports whether the status implies the employer responded.
func (s Status) Responded() bool {
	return s != StatusSubmitted && s != StatusWithdrawn
}

// Application is a submitted candidate and its tailored document.
type Application struct {
	ID          uuid.UUID  `json:"id"`
	RunID       uuid.UUID  `json:"run_id"`
	CandidateID string     `json:"candidate_id"`
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	StorageKey  string     `json:"storage_key"`
	Changes     []string   `json:"changes"`
	Rationale   string     `json:"rationale"`
	Notes       string     `json:"notes"`
	SubmittedAt time.Time  `json:"submitted_at"`
	RespondedAt *time.Time `json:"responded_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusCommand moves an application to a new status. Notes, when set,
// are appended to the application's notes with a timestamp.
type StatusCommand struct {
	Status Status `json:"status"`
	Notes  string `json:"notes"`
}
