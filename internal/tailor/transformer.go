package tailor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JaimeStill/envoy/internal/prompts"
	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/formatting"
)

type tailorResponse struct {
	Content   string   `json:"content"`
	Changes   []string `json:"changes"`
	Rationale string   `json:"rationale"`
}

// posting is the candidate view given to the model.
type posting struct {
	Title       string  `json:"title"`
	Company     string  `json:"company,omitempty"`
	Location    string  `json:"location,omitempty"`
	WorkType    string  `json:"work_type,omitempty"`
	URL         string  `json:"url,omitempty"`
	Description string  `json:"description,omitempty"`
	SalaryMin   float64 `json:"salary_min,omitempty"`
	SalaryMax   float64 `json:"salary_max,omitempty"`
}

func newPosting(c workflow.Candidate) posting {
	p := posting{
		Title:       c.Attr(workflow.AttrTitle),
		Company:     c.Attr(workflow.AttrCompany),
		Location:    c.Attr(workflow.AttrLocation),
		WorkType:    c.Attr(workflow.AttrWorkType),
		URL:         c.Attr(workflow.AttrURL),
		Description: c.Attr(workflow.AttrDescription),
	}
	p.SalaryMin, _ = c.Value(workflow.ValueSalaryMin)
	p.SalaryMax, _ = c.Value(workflow.ValueSalaryMax)
	return p
}

// Transformer tailors a base document to a candidate through a model.
type Transformer struct {
	completer Completer
	prompter  Prompter
	logger    *slog.Logger
	now       func() time.Time
}

// NewTransformer creates a Transformer. A nil prompter selects DefaultPrompter.
func NewTransformer(completer Completer, prompter Prompter, logger *slog.Logger) *Transformer {
	if prompter == nil {
		prompter = DefaultPrompter()
	}
	return &Transformer{
		completer: completer,
		prompter:  prompter,
		logger:    logger.With("system", "tailor"),
		now:       time.Now,
	}
}

// Transform returns the tailored document for c. Agent failures and
// unparseable responses are transient; an empty base document is a
// validation error.
func (t *Transformer) Transform(ctx context.Context, c workflow.Candidate, base string) (workflow.Document, error) {
	if strings.TrimSpace(base) == "" {
		return workflow.Document{}, fmt.Errorf("%w: %w", workflow.ErrValidation, ErrEmptyBase)
	}

	prompt, err := ComposePrompt(
		ctx, t.prompter, prompts.StageTailor,
		Section{Label: "Job posting", Value: newPosting(c)},
		Section{Label: "Base resume", Value: base},
	)
	if err != nil {
		return workflow.Document{}, fmt.Errorf("tailor %s: %w", c.ID, err)
	}

	content, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		return workflow.Document{}, classify(ctx, c.ID, err)
	}

	parsed, err := formatting.Parse[tailorResponse](content)
	if err != nil {
		return workflow.Document{}, fmt.Errorf("%w: tailor %s: %w", workflow.ErrTransient, c.ID, err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return workflow.Document{}, fmt.Errorf("%w: tailor %s: %w", workflow.ErrTransient, c.ID, ErrEmptyResponse)
	}

	t.logger.InfoContext(ctx, "document tailored",
		"candidate", c.ID,
		"changes", len(parsed.Changes),
	)

	return workflow.Document{
		CandidateID: c.ID,
		Content:     parsed.Content,
		Changes:     parsed.Changes,
		Rationale:   parsed.Rationale,
		CreatedAt:   t.now(),
	}, nil
}

// classify marks completer failures transient unless the caller's context
// ended.
func classify(ctx context.Context, id string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("candidate %s: %w", id, err)
	}
	return fmt.Errorf("%w: candidate %s: %w", workflow.ErrTransient, id, err)
}
