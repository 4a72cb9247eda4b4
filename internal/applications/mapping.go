package applications

import (
	"encoding/json"
	"net/url"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "applications", "a").
	Project("id", "ID").
	Project("run_id", "RunID").
	Project("candidate_id", "CandidateID").
	Project("source", "Source").
	Project("title", "Title").
	Project("company", "Company").
	Project("url", "URL").
	Project("status", "Status").
	Project("storage_key", "StorageKey").
	Project("changes", "Changes").
	Project("rationale", "Rationale").
	Project("notes", "Notes").
	Project("submitted_at", "SubmittedAt").
	Project("responded_at", "RespondedAt").
	Project("closed_at", "ClosedAt").
	Project("updated_at", "UpdatedAt")

const returning = `id, run_id, candidate_id, source, title, company, url, status, storage_key,
	changes, rationale, notes, submitted_at, responded_at, closed_at, updated_at`

var defaultSort = query.SortField{
	Field:      "SubmittedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for application queries.
// Nil fields are ignored. RunID, Status, and Source use exact matching.
// Company uses case-insensitive contains matching. Open restricts results
// to applications still awaiting a final response.
type Filters struct {
	RunID   *uuid.UUID `json:"run_id,omitempty"`
	Status  *Status    `json:"status,omitempty"`
	Source  *string    `json:"source,omitempty"`
	Company *string    `json:"company,omitempty"`
	Open    bool       `json:"open,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	b = b.
		WhereEquals("RunID", f.RunID).
		WhereEquals("Status", f.Status).
		WhereEquals("Source", f.Source).
		WhereContains("Company", f.Company)

	if f.Open {
		var open []any
		for _, s := range statuses {
			if !s.Closed() {
				open = append(open, s)
			}
		}
		b = b.WhereIn("Status", open)
	}
	return b
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if r := values.Get("run_id"); r != "" {
		if id, err := uuid.Parse(r); err == nil {
			f.RunID = &id
		}
	}

	if s := values.Get("status"); s != "" {
		if status, err := ParseStatus(s); err == nil {
			f.Status = &status
		}
	}

	if src := values.Get("source"); src != "" {
		f.Source = &src
	}

	if c := values.Get("company"); c != "" {
		f.Company = &c
	}

	f.Open = values.Get("open") == "true"

	return f
}

func scanApplication(s repository.Scanner) (Application, error) {
	var a Application
	var changes []byte
	err := s.Scan(
		&a.ID,
		&a.RunID,
		&a.CandidateID,
		&a.Source,
		&a.Title,
		&a.Company,
		&a.URL,
		&a.Status,
		&a.StorageKey,
		&changes,
		&a.Rationale,
		&a.Notes,
		&a.SubmittedAt,
		&a.RespondedAt,
		&a.ClosedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	if len(changes) > 0 {
		err = json.Unmarshal(changes, &a.Changes)
	}
	return a, err
}
