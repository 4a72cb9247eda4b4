package runs

import (
	"database/sql"
	"net/url"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "runs", "r").
	Project("id", "ID").
	Project("status", "Status").
	Project("outcome", "Outcome").
	Project("current_stage", "CurrentStage").
	Project("next_stage", "NextStage").
	Project("discovered", "Discovered").
	Project("scored", "Scored").
	Project("accepted", "Accepted").
	Project("processed", "Processed").
	Project("submitted", "Submitted").
	Project("errors", "Errors").
	Project("decisions", "Decisions").
	Project("threshold", "Threshold").
	Project("gate_token", "GateToken").
	Project("gate_expires_at", "GateExpires").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt").
	Project("completed_at", "CompletedAt").
	Project("user_id", "UserID")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for run queries.
// Nil fields are ignored. All fields use exact matching.
type Filters struct {
	UserID  *string           `json:"user_id,omitempty"`
	Status  *workflow.Status  `json:"status,omitempty"`
	Outcome *workflow.Outcome `json:"outcome,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("UserID", f.UserID).
		WhereEquals("Status", f.Status).
		WhereEquals("Outcome", f.Outcome)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if u := values.Get("user_id"); u != "" {
		f.UserID = &u
	}

	if s := values.Get("status"); s != "" {
		status := workflow.Status(s)
		f.Status = &status
	}

	if o := values.Get("outcome"); o != "" {
		outcome := workflow.Outcome(o)
		f.Outcome = &outcome
	}

	return f
}

func scanSummary(s repository.Scanner) (workflow.Summary, error) {
	var sum workflow.Summary
	var token sql.NullString
	var userID string
	err := s.Scan(
		&sum.ID,
		&sum.Status,
		&sum.Outcome,
		&sum.CurrentStage,
		&sum.NextStage,
		&sum.Discovered,
		&sum.Scored,
		&sum.Accepted,
		&sum.Processed,
		&sum.Submitted,
		&sum.Errors,
		&sum.Decisions,
		&sum.Threshold,
		&token,
		&sum.GateExpires,
		&sum.CreatedAt,
		&sum.UpdatedAt,
		&sum.CompletedAt,
		&userID,
	)
	sum.GateToken = token.String
	return sum, err
}
