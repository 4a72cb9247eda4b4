package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Posting is the JSON shape of one entry in a static candidate feed.
type Posting struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Company     string  `json:"company"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	WorkType    string  `json:"work_type"`
	SalaryMin   float64 `json:"salary_min"`
	SalaryMax   float64 `json:"salary_max"`
}

// Candidate converts the posting. Postings without an id derive one from
// their url, or from title and company when no url is present.
func (p Posting) Candidate(source string) workflow.Candidate {
	attrs := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			attrs[k] = v
		}
	}
	set(workflow.AttrTitle, p.Title)
	set(workflow.AttrCompany, p.Company)
	set(workflow.AttrLocation, p.Location)
	set(workflow.AttrDescription, p.Description)
	set(workflow.AttrURL, p.URL)
	set(workflow.AttrWorkType, strings.ToLower(p.WorkType))

	id := p.ID
	if id == "" && p.Title != "" {
		locator := p.URL
		if locator == "" {
			locator = p.Title + "|" + p.Company
		}
		id = workflow.NewCandidateID(source, locator)
	}

	c := workflow.Candidate{ID: id, Source: source, Attributes: attrs}
	if p.SalaryMin > 0 || p.SalaryMax > 0 {
		c.Values = map[string]float64{
			workflow.ValueSalaryMin: p.SalaryMin,
			workflow.ValueSalaryMax: max(p.SalaryMin, p.SalaryMax),
		}
	}
	return c
}

// StaticSource serves candidates from a JSON array of postings.
type StaticSource struct {
	name     string
	postings []Posting
}

// NewStaticSource creates a source over postings already in memory.
func NewStaticSource(name string, postings []Posting) *StaticSource {
	return &StaticSource{name: name, postings: postings}
}

// ReadStaticSource decodes a JSON feed from r.
func ReadStaticSource(name string, r io.Reader) (*StaticSource, error) {
	var postings []Posting
	if err := json.NewDecoder(r).Decode(&postings); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}
	return NewStaticSource(name, postings), nil
}

// LoadStaticSource reads a JSON feed file.
func LoadStaticSource(name, path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	defer f.Close()
	return ReadStaticSource(name, f)
}

func (s *StaticSource) Name() string {
	return s.name
}

func (s *StaticSource) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	out := make([]workflow.Candidate, 0, len(s.postings))
	for _, posting := range s.postings {
		out = append(out, posting.Candidate(s.name))
	}
	return out, nil
}
