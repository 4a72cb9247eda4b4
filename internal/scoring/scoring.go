// Package scoring rates candidates against a profile with a weighted heuristic
// over title, keywords, location, salary, and work type.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Weights are the relative contributions of each criterion. They should sum to 1.
type Weights struct {
	Title    float64 `toml:"title" json:"title"`
	Keywords float64 `toml:"keywords" json:"keywords"`
	Location float64 `toml:"location" json:"location"`
	Salary   float64 `toml:"salary" json:"salary"`
	WorkType float64 `toml:"work_type" json:"work_type"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Title:    0.30,
		Keywords: 0.35,
		Location: 0.15,
		Salary:   0.10,
		WorkType: 0.10,
	}
}

func (w Weights) total() float64 {
	return w.Title + w.Keywords + w.Location + w.Salary + w.WorkType
}

// Heuristic scores candidates without external calls.
type Heuristic struct {
	weights Weights
}

// NewHeuristic creates a scorer. Zero weights select DefaultWeights.
func NewHeuristic(w Weights) *Heuristic {
	if w.total() <= 0 {
		w = DefaultWeights()
	}
	return &Heuristic{weights: w}
}

// Score returns the weighted match in [0,1]. Any excluded keyword in the
// title or description rejects the candidate outright.
func (h *Heuristic) Score(ctx context.Context, p workflow.Profile, c workflow.Candidate) (float64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	text := strings.ToLower(c.Attr(workflow.AttrTitle) + " " + c.Attr(workflow.AttrDescription))
	for _, ex := range p.ExcludedKeywords {
		if ex = strings.ToLower(strings.TrimSpace(ex)); ex != "" && strings.Contains(text, ex) {
			return 0, fmt.Sprintf("excluded keyword %q", ex), nil
		}
	}

	title := titleScore(p.Titles, c.Attr(workflow.AttrTitle))
	keywords := keywordScore(p.Keywords, text)
	location := locationScore(p.Locations, c.Attr(workflow.AttrLocation))
	salary := salaryScore(p.MinSalary, c)
	workType := workTypeScore(p.WorkType, c.Attr(workflow.AttrWorkType))

	w := h.weights
	score := (title*w.Title +
		keywords*w.Keywords +
		location*w.Location +
		salary*w.Salary +
		workType*w.WorkType) / w.total()
	score = math.Round(score*100) / 100

	reason := fmt.Sprintf("title %.2f, keywords %.2f, location %.2f, salary %.2f, work type %.2f",
		title, keywords, location, salary, workType)
	return score, reason, nil
}

func titleScore(targets []string, title string) float64 {
	if len(targets) == 0 {
		return 1
	}
	title = strings.ToLower(title)
	if title == "" {
		return 0
	}
	for _, t := range targets {
		if strings.Contains(title, strings.ToLower(t)) {
			return 1
		}
	}

	words := make(map[string]bool)
	for _, w := range strings.Fields(title) {
		words[w] = true
	}
	for _, t := range targets {
		fields := strings.Fields(strings.ToLower(t))
		var overlap int
		for _, f := range fields {
			if words[f] {
				overlap++
			}
		}
		if overlap > 0 {
			return float64(overlap) / float64(len(fields))
		}
	}
	return 0
}

func keywordScore(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 1
	}
	var matches int
	for _, k := range keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

func locationScore(targets []string, location string) float64 {
	if len(targets) == 0 {
		return 1
	}
	if location == "" {
		return 0.5
	}
	location = strings.ToLower(location)
	for _, t := range targets {
		t = strings.ToLower(t)
		if (t == "remote" || t == "anywhere") &&
			(strings.Contains(location, "remote") || strings.Contains(location, "work from home")) {
			return 1
		}
		if strings.Contains(location, t) {
			return 1
		}
	}
	return 0.3
}

func salaryScore(minimum float64, c workflow.Candidate) float64 {
	if minimum <= 0 {
		return 1
	}
	offered, ok := c.Value(workflow.ValueSalaryMax)
	if !ok || offered == 0 {
		offered, ok = c.Value(workflow.ValueSalaryMin)
	}
	if !ok || offered == 0 {
		return 0.5
	}
	switch {
	case offered >= minimum:
		return 1
	case offered >= minimum*0.8:
		return 0.7
	case offered >= minimum*0.6:
		return 0.4
	default:
		return 0
	}
}

func workTypeScore(preference, workType string) float64 {
	preference = strings.ToLower(preference)
	if preference == "" || preference == "any" {
		return 1
	}
	if workType == "" {
		return 0.5
	}
	workType = strings.ToLower(workType)
	switch {
	case workType == preference:
		return 1
	case preference == "remote" && workType == "hybrid":
		return 0.6
	case preference == "hybrid":
		return 0.7
	default:
		return 0.3
	}
}
