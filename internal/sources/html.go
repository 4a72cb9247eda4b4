package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// HTMLConfig describes a job board page and the CSS selectors that extract
// one candidate per matched item. The URL may contain {query} and {location}
// placeholders that are filled from the profile.
type HTMLConfig struct {
	Name        string `toml:"name" json:"name"`
	URL         string `toml:"url" json:"url"`
	Item        string `toml:"item" json:"item"`
	Title       string `toml:"title" json:"title"`
	Company     string `toml:"company" json:"company"`
	Location    string `toml:"location" json:"location"`
	Link        string `toml:"link" json:"link"`
	Description string `toml:"description" json:"description"`
	Salary      string `toml:"salary" json:"salary"`
	WorkType    string `toml:"work_type" json:"work_type"`
}

// HTMLSource scrapes candidates from an HTML listing page.
type HTMLSource struct {
	cfg       HTMLConfig
	client    *http.Client
	userAgent string
}

// NewHTMLSource creates a source for cfg. A nil client uses a client with the
// given timeout.
func NewHTMLSource(cfg HTMLConfig, client *http.Client, timeout time.Duration, userAgent string) *HTMLSource {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTMLSource{cfg: cfg, client: client, userAgent: userAgent}
}

func (s *HTMLSource) Name() string {
	return s.cfg.Name
}

func (s *HTMLSource) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	target, err := s.target(p)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", workflow.ErrTransient, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %w: status %d", workflow.ErrTransient, ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return s.extract(doc, target), nil
}

func (s *HTMLSource) target(p workflow.Profile) (string, error) {
	if s.cfg.URL == "" {
		return "", fmt.Errorf("%w: source %s has no url", ErrInvalidQuery, s.cfg.Name)
	}
	var location string
	if len(p.Locations) > 0 {
		location = p.Locations[0]
	}
	r := strings.NewReplacer(
		"{query}", url.QueryEscape(strings.Join(p.Titles, " ")),
		"{location}", url.QueryEscape(location),
	)
	return r.Replace(s.cfg.URL), nil
}

func (s *HTMLSource) extract(doc *goquery.Document, base string) []workflow.Candidate {
	var out []workflow.Candidate
	doc.Find(s.cfg.Item).Each(func(_ int, item *goquery.Selection) {
		attrs := map[string]string{
			workflow.AttrTitle:       text(item, s.cfg.Title),
			workflow.AttrCompany:     text(item, s.cfg.Company),
			workflow.AttrLocation:    text(item, s.cfg.Location),
			workflow.AttrDescription: text(item, s.cfg.Description),
			workflow.AttrWorkType:    strings.ToLower(text(item, s.cfg.WorkType)),
		}
		if s.cfg.Link != "" {
			if href, ok := item.Find(s.cfg.Link).First().Attr("href"); ok {
				attrs[workflow.AttrURL] = absolute(base, href)
			}
		}
		for k, v := range attrs {
			if v == "" {
				delete(attrs, k)
			}
		}

		locator := attrs[workflow.AttrURL]
		if locator == "" {
			locator = attrs[workflow.AttrTitle] + "|" + attrs[workflow.AttrCompany] + "|" + attrs[workflow.AttrLocation]
		}

		c := workflow.Candidate{
			Source:     s.cfg.Name,
			Attributes: attrs,
		}
		if attrs[workflow.AttrTitle] != "" {
			c.ID = workflow.NewCandidateID(s.cfg.Name, locator)
		}
		if lo, hi, ok := ParseSalary(text(item, s.cfg.Salary)); ok {
			c.Values = map[string]float64{
				workflow.ValueSalaryMin: lo,
				workflow.ValueSalaryMax: hi,
			}
		}
		out = append(out, c)
	})
	return out
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(sel.Find(selector).First().Text()), " ")
}

func absolute(base, href string) string {
	u, err := url.Parse(href)
	if err != nil || href == "" {
		return href
	}
	if u.IsAbs() {
		return u.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	return bu.ResolveReference(u).String()
}

var salaryPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kK])?`)

// ParseSalary extracts a salary range from free text such as "$120k - $150k"
// or "90,000". A single figure yields an equal minimum and maximum.
func ParseSalary(raw string) (lo, hi float64, ok bool) {
	matches := salaryPattern.FindAllStringSubmatch(raw, 2)
	if len(matches) == 0 {
		return 0, 0, false
	}

	var values []float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		values = append(values, v)
	}

	switch len(values) {
	case 0:
		return 0, 0, false
	case 1:
		return values[0], values[0], true
	default:
		return min(values[0], values[1]), max(values[0], values[1]), true
	}
}
