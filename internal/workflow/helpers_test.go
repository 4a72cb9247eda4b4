package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: epoch}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func candidate(id, title string) workflow.Candidate {
	return workflow.Candidate{
		ID:         id,
		Source:     "test",
		Attributes: map[string]string{workflow.AttrTitle: title, workflow.AttrCompany: "Acme"},
	}
}

// scenarioItems are five candidates scored 0.9, 0.3, 0.75, 0.6, 0.1.
func scenarioItems() ([]workflow.Candidate, map[string]float64) {
	items := []workflow.Candidate{
		candidate("a", "Staff Engineer"),
		candidate("b", "Sales Lead"),
		candidate("c", "Senior Engineer"),
		candidate("d", "Support Engineer"),
		candidate("e", "Office Manager"),
	}
	scores := map[string]float64{"a": 0.9, "b": 0.3, "c": 0.75, "d": 0.6, "e": 0.1}
	return items, scores
}

type staticDiscoverer struct {
	items []workflow.Candidate
	err   error
}

func (d *staticDiscoverer) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	return d.items, d.err
}

// blockingDiscoverer signals started and holds discovery until release is
// closed or the run context ends.
type blockingDiscoverer struct {
	started chan struct{}
	release chan struct{}
	items   []workflow.Candidate
}

func newBlockingDiscoverer(items ...workflow.Candidate) *blockingDiscoverer {
	return &blockingDiscoverer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		items:   items,
	}
}

func (d *blockingDiscoverer) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	close(d.started)
	select {
	case <-d.release:
		return d.items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type slowDiscoverer struct {
	delay time.Duration
	items []workflow.Candidate
}

func (d *slowDiscoverer) Discover(ctx context.Context, p workflow.Profile) ([]workflow.Candidate, error) {
	select {
	case <-time.After(d.delay):
		return d.items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type mapScorer struct {
	scores map[string]float64
	panics bool
}

func (s *mapScorer) Score(ctx context.Context, p workflow.Profile, c workflow.Candidate) (float64, string, error) {
	if s.panics {
		panic("scorer exploded")
	}
	v, ok := s.scores[c.ID]
	if !ok {
		return 0, "", fmt.Errorf("%w: no score for %s", workflow.ErrTransient, c.ID)
	}
	return v, "fixture score", nil
}

type fakeTransformer struct {
	fail   map[string]bool
	panics bool
}

func (t *fakeTransformer) Transform(ctx context.Context, c workflow.Candidate, base string) (workflow.Document, error) {
	if t.panics {
		panic("transformer exploded")
	}
	if t.fail[c.ID] {
		return workflow.Document{}, fmt.Errorf("%w: model refused %s", workflow.ErrValidation, c.ID)
	}
	return workflow.Document{
		Content: base + " tailored for " + c.Attr(workflow.AttrTitle),
		Changes: []string{"summary"},
	}, nil
}

type staticDocuments struct{}

func (staticDocuments) Base(ctx context.Context, p workflow.Profile) (string, error) {
	return "base resume", nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []workflow.GateNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice workflow.GateNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []string
}

func (s *recordingSubmitter) Submit(ctx context.Context, runID uuid.UUID, c workflow.Candidate, doc workflow.Document) (workflow.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, c.ID)
	return workflow.Submission{
		CandidateID: c.ID,
		Reference:   "ref-" + c.ID,
		Status:      "submitted",
	}, nil
}

// heldSubmitter records submissions but holds each one until release is closed.
type heldSubmitter struct {
	recordingSubmitter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHeldSubmitter() *heldSubmitter {
	return &heldSubmitter{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *heldSubmitter) Submit(ctx context.Context, runID uuid.UUID, c workflow.Candidate, doc workflow.Document) (workflow.Submission, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.recordingSubmitter.Submit(ctx, runID, c, doc)
}

type result struct {
	sum workflow.Summary
	err error
}

func async(fn func() (workflow.Summary, error)) <-chan result {
	done := make(chan result, 1)
	go func() {
		sum, err := fn()
		done <- result{sum, err}
	}()
	return done
}

func await(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
		return result{}
	}
}

func onlyRun(t *testing.T, store *workflow.MemoryStore) uuid.UUID {
	t.Helper()
	runs, err := store.List(context.Background())
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one stored run, got %d (%v)", len(runs), err)
	}
	return runs[0].ID
}

// flakyStore fails saves of suspended runs when failSuspend is set.
type flakyStore struct {
	*workflow.MemoryStore
	failSuspend bool
}

func (f *flakyStore) Save(ctx context.Context, s *workflow.State) error {
	if f.failSuspend && s.Status == workflow.StatusSuspended {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, s)
}

type harness struct {
	clock     *clock
	store     *workflow.MemoryStore
	policies  *workflow.MemoryPolicyStore
	notifier  *recordingNotifier
	submitter *recordingSubmitter
	rt        *workflow.Runtime
	opts      workflow.Options
}

func newHarness() *harness {
	items, scores := scenarioItems()
	clk := newClock()
	opts := workflow.DefaultOptions()
	opts.RetryBackoff = time.Millisecond

	h := &harness{
		clock:     clk,
		store:     workflow.NewMemoryStore(),
		policies:  workflow.NewMemoryPolicyStore(opts.Feedback.Policy()),
		notifier:  &recordingNotifier{},
		submitter: &recordingSubmitter{},
		opts:      opts,
	}
	h.rt = &workflow.Runtime{
		Discoverer:  &staticDiscoverer{items: items},
		Scorer:      &mapScorer{scores: scores},
		Transformer: &fakeTransformer{},
		Documents:   staticDocuments{},
		Notifier:    h.notifier,
		Submitter:   h.submitter,
		Policies:    h.policies,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         clk.Now,
	}
	return h
}

func (h *harness) engine() *workflow.Engine {
	return workflow.NewEngine(h.rt, h.store, h.opts)
}

func (h *harness) engineWith(store workflow.Store) *workflow.Engine {
	return workflow.NewEngine(h.rt, store, h.opts)
}
