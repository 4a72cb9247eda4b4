package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage is one unit of pipeline work. Execute mutates only the fields of s the
// stage owns. An unmet precondition is a no-op, not an error.
type Stage interface {
	Name() StageName
	Execute(ctx context.Context, s *State) error
}

type stageFunc struct {
	name StageName
	fn   func(ctx context.Context, s *State) error
}

func (f *stageFunc) Name() StageName { return f.name }

func (f *stageFunc) Execute(ctx context.Context, s *State) error { return f.fn(ctx, s) }

// NewStage wraps fn as a Stage.
func NewStage(name StageName, fn func(ctx context.Context, s *State) error) Stage {
	return &stageFunc{name: name, fn: fn}
}

// DiscoverStage collects candidates once per run. Invalid and duplicate
// candidates are dropped; invalid ones are reported as validation errors.
func DiscoverStage(rt *Runtime, opts Options) Stage {
	return NewStage(StageDiscover, func(ctx context.Context, s *State) error {
		if len(s.Items) > 0 || rt.Discoverer == nil {
			return nil
		}

		var found []Candidate
		err := retry(ctx, opts, func() error {
			var err error
			found, err = rt.Discoverer.Discover(ctx, s.Profile)
			return err
		})

		var errs []error
		if err != nil {
			errs = append(errs, fmt.Errorf("discover: %w", err))
		}

		var invalid int
		var firstInvalid error
		seen := make(map[string]bool, len(found))
		for _, c := range found {
			if verr := c.Validate(); verr != nil {
				if invalid == 0 {
					firstInvalid = verr
				}
				invalid++
				continue
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			s.Items = append(s.Items, c)
		}
		if invalid > 0 {
			errs = append(errs, fmt.Errorf("%d of %d candidates invalid: %w", invalid, len(found), firstInvalid))
		}

		dropped := len(found) - len(s.Items)
		s.SetMetric(MetricDiscovered, float64(len(s.Items)))
		s.SetMetric(MetricDropped, float64(dropped))
		rt.logger().Info("candidates discovered", "run_id", s.ID, "count", len(s.Items), "dropped", dropped, "invalid", invalid)
		return errors.Join(errs...)
	})
}

// ScoreStage scores every unscored item, then derives the accepted list from
// a threshold snapshot taken when the stage starts.
func ScoreStage(rt *Runtime, opts Options) Stage {
	return NewStage(StageScore, func(ctx context.Context, s *State) error {
		if len(s.Items) == 0 {
			return nil
		}

		var errs []error

		threshold := opts.Feedback.Policy().Threshold
		if rt.Policies != nil {
			p, err := rt.Policies.Policy(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: read threshold policy: %w", ErrTransient, err))
			} else {
				threshold = p.Threshold
			}
		}
		s.Threshold = threshold

		if s.Scores == nil {
			s.Scores = make(map[string]float64)
		}
		if s.Rationale == nil {
			s.Rationale = make(map[string]string)
		}

		var pending []Candidate
		for _, c := range s.Items {
			if _, ok := s.Scores[c.ID]; !ok {
				pending = append(pending, c)
			}
		}

		if rt.Scorer != nil && len(pending) > 0 {
			var mu sync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(opts.ScoreConcurrency)

			for _, c := range pending {
				g.Go(func() error {
					var score float64
					var reason string
					err := retry(gctx, opts, func() error {
						var err error
						score, reason, err = safeScore(gctx, rt.Scorer, s.Profile, c)
						return err
					})

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, fmt.Errorf("score %s: %w", c.ID, err))
						return nil
					}
					s.Scores[c.ID] = clamp(score, 0, 1)
					s.Rationale[c.ID] = reason
					return nil
				})
			}
			g.Wait()
		}

		var accepted []string
		var meeting int
		for _, c := range s.Items {
			score, ok := s.Scores[c.ID]
			if !ok || score < threshold {
				continue
			}
			meeting++
			if !s.IsProcessed(c.ID) {
				accepted = append(accepted, c.ID)
			}
		}
		sort.SliceStable(accepted, func(i, j int) bool {
			return s.Scores[accepted[i]] > s.Scores[accepted[j]]
		})
		s.Accepted = accepted

		s.SetMetric(MetricScored, float64(len(s.Scores)))
		s.SetMetric(MetricAccepted, float64(meeting))

		rt.logger().Info("candidates scored",
			"run_id", s.ID,
			"scored", len(s.Scores),
			"accepted", len(accepted),
			"threshold", threshold,
		)
		return errors.Join(errs...)
	})
}

func safeScore(ctx context.Context, sc Scorer, p Profile, c Candidate) (score float64, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panicked: %v", r)
		}
	}()
	return sc.Score(ctx, p, c)
}

// TransformStage tailors the base document for the active candidate.
func TransformStage(rt *Runtime, opts Options) Stage {
	return NewStage(StageTransform, func(ctx context.Context, s *State) error {
		if s.ActiveCandidate == "" || rt.Transformer == nil {
			return nil
		}
		if s.Document != nil && s.Document.CandidateID == s.ActiveCandidate {
			return nil
		}

		c, ok := s.Candidate(s.ActiveCandidate)
		if !ok {
			return fmt.Errorf("%w: active candidate %s not in items", ErrValidation, s.ActiveCandidate)
		}

		var base string
		if rt.Documents != nil {
			b, err := rt.Documents.Base(ctx, s.Profile)
			if err != nil {
				return fmt.Errorf("load base document: %w", err)
			}
			base = b
		}

		var doc Document
		err := retry(ctx, opts, func() error {
			var err error
			doc, err = rt.Transformer.Transform(ctx, c, base)
			return err
		})
		if err != nil {
			return fmt.Errorf("transform %s: %w", c.ID, err)
		}

		doc.CandidateID = c.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = rt.now()
		}
		s.Document = &doc

		rt.logger().Info("document transformed", "run_id", s.ID, "candidate_id", c.ID, "changes", len(doc.Changes))
		return nil
	})
}

// GateStage opens an approval gate for the transformed document and notifies
// the resolver. The gate is only recorded once the notice is delivered.
func GateStage(rt *Runtime, opts Options) Stage {
	return NewStage(StageGate, func(ctx context.Context, s *State) error {
		if s.PendingGate != nil && s.PendingGate.Status == GatePending {
			return nil
		}
		if s.ActiveCandidate == "" || s.Document == nil {
			return nil
		}

		c, _ := s.Candidate(s.ActiveCandidate)
		now := rt.now()
		gate := &Gate{
			Token:       uuid.NewString(),
			CandidateID: c.ID,
			Summary:     gateSummary(c, s.Scores[c.ID]),
			CreatedAt:   now,
			ExpiresAt:   now.Add(opts.GateTimeout),
			Status:      GatePending,
		}

		if rt.Notifier != nil {
			notice := GateNotice{
				RunID:     s.ID,
				Token:     gate.Token,
				ExpiresAt: gate.ExpiresAt,
				Summary:   gate.Summary,
				Contact:   s.Profile.Contact,
			}
			err := retry(ctx, opts, func() error {
				return rt.Notifier.Notify(ctx, notice)
			})
			if err != nil {
				return fmt.Errorf("notify gate for %s: %w", c.ID, err)
			}
		}

		s.PendingGate = gate
		s.AddMetric(MetricGatesOpened, 1)

		rt.logger().Info("gate opened",
			"run_id", s.ID,
			"candidate_id", c.ID,
			"expires_at", gate.ExpiresAt,
		)
		return nil
	})
}

func gateSummary(c Candidate, score float64) string {
	title := c.Attr(AttrTitle)
	if company := c.Attr(AttrCompany); company != "" {
		title += " at " + company
	}
	return fmt.Sprintf("%s (score %.2f)", title, score)
}

// FinalizeStage submits the approved document for the active candidate.
func FinalizeStage(rt *Runtime, opts Options) Stage {
	return NewStage(StageFinalize, func(ctx context.Context, s *State) error {
		if s.ActiveCandidate == "" || s.Document == nil {
			return nil
		}

		c, ok := s.Candidate(s.ActiveCandidate)
		if !ok {
			return fmt.Errorf("%w: active candidate %s not in items", ErrValidation, s.ActiveCandidate)
		}

		sub := Submission{
			CandidateID: c.ID,
			Status:      "recorded",
			SubmittedAt: rt.now(),
		}
		if rt.Submitter != nil {
			err := retry(ctx, opts, func() error {
				var err error
				sub, err = rt.Submitter.Submit(ctx, s.ID, c, *s.Document)
				return err
			})
			if err != nil {
				return fmt.Errorf("submit %s: %w", c.ID, err)
			}
		}

		s.Submissions = append(s.Submissions, sub)
		s.AddMetric(MetricSubmitted, 1)

		rt.logger().Info("candidate finalized", "run_id", s.ID, "candidate_id", c.ID, "reference", sub.Reference)
		return nil
	})
}

// LearnStage adjusts the shared threshold policy from this run's acceptance
// rate and records the learning insights.
func LearnStage(rt *Runtime, opts Options) Stage {
	adjuster := NewAdjuster(opts.Feedback)

	return NewStage(StageLearn, func(ctx context.Context, s *State) error {
		var errs []error

		policy := opts.Feedback.Policy()
		if rt.Policies != nil {
			p, err := rt.Policies.Policy(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: read threshold policy: %w", ErrTransient, err))
			} else {
				policy = p
			}
		}

		rate := s.AcceptanceRate()
		next := adjuster.Adjust(policy, rate, rt.now())

		if rt.Policies != nil {
			if err := rt.Policies.SavePolicy(ctx, next); err != nil {
				errs = append(errs, fmt.Errorf("%w: save threshold policy: %w", ErrTransient, err))
			}
		}

		s.SetMetric(MetricAcceptanceRate, rate)
		s.SetMetric(MetricErrorRate, s.ErrorRate())
		s.SetMetric(MetricThreshold, next.Threshold)
		for stage, n := range s.ErrorsByStage() {
			s.SetMetric("errors."+string(stage), float64(n))
		}
		for stage, n := range s.DecisionsByStage() {
			s.SetMetric("decisions."+string(stage), float64(n))
		}

		rt.logger().Info("threshold adjusted",
			"run_id", s.ID,
			"acceptance_rate", rate,
			"from", policy.Threshold,
			"to", next.Threshold,
			"rationale", next.Rationale,
		)
		if rec := recommendations(s); len(rec) > 0 {
			rt.logger().Info("learning insights", "run_id", s.ID, "recommendations", rec)
		}
		return errors.Join(errs...)
	})
}

func recommendations(s *State) []string {
	var out []string
	for stage, n := range s.ErrorsByStage() {
		if n >= 3 {
			out = append(out, fmt.Sprintf("%s recorded %d errors", stage, n))
		}
	}
	if len(s.Items) > 0 && s.Metrics[MetricAccepted] == 0 {
		out = append(out, "no candidates met the threshold; broaden profile criteria")
	}
	sort.Strings(out)
	return out
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// configured attempts are spent. Waits double after each transient failure.
func retry(ctx context.Context, opts Options, fn func() error) error {
	wait := opts.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrTransient) || attempt >= opts.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}
