package tailor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JaimeStill/envoy/internal/prompts"
	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/formatting"
)

type scoreResponse struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// profileView is the subset of a profile given to the model.
type profileView struct {
	Titles           []string `json:"titles,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	ExcludedKeywords []string `json:"excluded_keywords,omitempty"`
	Locations        []string `json:"locations,omitempty"`
	MinSalary        float64  `json:"min_salary,omitempty"`
	WorkType         string   `json:"work_type,omitempty"`
}

// Scorer rates candidates through a model.
type Scorer struct {
	completer Completer
	prompter  Prompter
	logger    *slog.Logger
}

// NewScorer creates a Scorer. A nil prompter selects DefaultPrompter.
func NewScorer(completer Completer, prompter Prompter, logger *slog.Logger) *Scorer {
	if prompter == nil {
		prompter = DefaultPrompter()
	}
	return &Scorer{
		completer: completer,
		prompter:  prompter,
		logger:    logger.With("system", "agent-scorer"),
	}
}

// Score returns the model's rating for c. Out-of-range values are left for
// the score stage to clamp.
func (s *Scorer) Score(ctx context.Context, p workflow.Profile, c workflow.Candidate) (float64, string, error) {
	prompt, err := ComposePrompt(
		ctx, s.prompter, prompts.StageScore,
		Section{Label: "Search profile", Value: profileView{
			Titles:           p.Titles,
			Keywords:         p.Keywords,
			ExcludedKeywords: p.ExcludedKeywords,
			Locations:        p.Locations,
			MinSalary:        p.MinSalary,
			WorkType:         p.WorkType,
		}},
		Section{Label: "Job posting", Value: newPosting(c)},
	)
	if err != nil {
		return 0, "", fmt.Errorf("score %s: %w", c.ID, err)
	}

	content, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return 0, "", classify(ctx, c.ID, err)
	}

	parsed, err := formatting.Parse[scoreResponse](content)
	if err != nil {
		return 0, "", fmt.Errorf("%w: score %s: %w", workflow.ErrTransient, c.ID, err)
	}

	s.logger.DebugContext(ctx, "candidate scored", "candidate", c.ID, "score", parsed.Score)
	return parsed.Score, parsed.Rationale, nil
}
