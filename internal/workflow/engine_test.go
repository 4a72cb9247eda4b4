package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/workflow"
)

var profile = workflow.Profile{UserID: "u1", Contact: "ops@example.com"}

func TestEngineSuspendsAtGate(t *testing.T) {
	h := newHarness()
	e := h.engine()

	sum, err := e.Start(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuspended, sum.Status)
	assert.Equal(t, workflow.StageWait, sum.NextStage)
	assert.NotEmpty(t, sum.GateToken)
	assert.Equal(t, 5, sum.Discovered)
	assert.Equal(t, 2, sum.Accepted)

	s, err := e.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", s.ActiveCandidate)
	require.NotNil(t, s.PendingGate)
	assert.Equal(t, "a", s.PendingGate.CandidateID)
	require.NotNil(t, s.Document)
	assert.Equal(t, "base resume tailored for Staff Engineer", s.Document.Content)
	assert.NoError(t, s.CheckInvariants())
}

func TestEngineApprovalsFinalizeEveryAccepted(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	sum, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "looks good")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspended, sum.Status)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", s.ActiveCandidate)
	assert.Contains(t, s.Processed, "a")

	sum, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusTerminal, sum.Status)
	assert.Equal(t, workflow.OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, []string{"a", "c"}, h.submitter.submitted)

	s, err = e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Nil(t, s.PendingGate)
	assert.Empty(t, s.ActiveCandidate)
	assert.Empty(t, s.Accepted)
	assert.NotNil(t, s.CompletedAt)
	assert.Equal(t, "ref-a", s.Submissions[0].Reference)

	// 2 accepted of 5 sits between the rate bounds.
	p, err := h.policies.Policy(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.70, p.Threshold, 1e-9)
}

func TestEngineRejectionLearns(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	sum, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionReject, "wrong fit")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusTerminal, sum.Status)
	assert.Equal(t, workflow.OutcomeCompleted, sum.Outcome)
	assert.Zero(t, sum.Submitted)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Contains(t, s.Processed, "a")

	var gateDecision *workflow.Decision
	for i := range s.Decisions {
		if s.Decisions[i].Stage == workflow.StageGate && s.Decisions[i].Outcome == workflow.StageLearn {
			gateDecision = &s.Decisions[i]
		}
	}
	require.NotNil(t, gateDecision)
	assert.Contains(t, gateDecision.Rationale, "wrong fit")
}

// An unanswered gate past its deadline is expired by the sweep, and the
// router moves on without reselecting the expired candidate.
func TestEngineSweepExpiresOverdueGate(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)
	firstToken := sum.GateToken

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(h.opts.GateTimeout + time.Minute)

	n, err = e.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Contains(t, s.Processed, "a")
	assert.Equal(t, "c", s.ActiveCandidate)
	require.NotNil(t, s.PendingGate)
	assert.NotEqual(t, firstToken, s.PendingGate.Token)
	assert.Equal(t, workflow.StatusSuspended, s.Status)

	var sawExpiry bool
	for _, d := range s.Decisions {
		if d.Stage == workflow.StageGate && d.Outcome == workflow.StageScore {
			sawExpiry = true
		}
	}
	assert.True(t, sawExpiry)

	_, err = e.ResolveGate(ctx, firstToken, workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrGateNotFound)
}

func TestEngineExpireBeforeDeadlineIsNoop(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	h.clock.Advance(h.opts.GateTimeout)

	_, expired, err := e.ExpireIfPastDeadline(ctx, sum.GateToken)
	require.NoError(t, err)
	assert.False(t, expired)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.GatePending, s.PendingGate.Status)
}

func TestEngineLateDecisionExpires(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	h.clock.Advance(h.opts.GateTimeout + time.Second)

	_, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrGateExpired)
	assert.Empty(t, h.submitter.submitted)
}

func TestEngineResumePendingIsIdempotent(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	before, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)

	for range 3 {
		got, err := e.Resume(ctx, sum.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StageWait, got.NextStage)
	}

	after, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, h.notifier.notices, 1)
}

func TestEngineResolveTwiceConflicts(t *testing.T) {
	h := newHarness()
	h.rt.Discoverer = &staticDiscoverer{items: []workflow.Candidate{candidate("a", "Staff Engineer")}}
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	_, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	require.NoError(t, err)

	_, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	assert.Error(t, err)
}

func TestEngineTransformFailureSkipsCandidate(t *testing.T) {
	h := newHarness()
	h.rt.Transformer = &fakeTransformer{fail: map[string]bool{"a": true}}
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspended, sum.Status)
	assert.Equal(t, 1, sum.Errors)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", s.ActiveCandidate)
	assert.Equal(t, []string{"a"}, s.Processed)
	assert.Equal(t, workflow.StageTransform, s.Errors[0].Stage)
	assert.Equal(t, workflow.KindValidation, s.Errors[0].Kind)
}

func TestEngineRecoversStagePanic(t *testing.T) {
	h := newHarness()
	h.rt.Transformer = &fakeTransformer{panics: true}
	e := h.engine()

	sum, err := e.Start(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusTerminal, sum.Status)
	assert.Equal(t, 2, sum.Errors)

	s, err := e.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	for _, se := range s.Errors {
		assert.Equal(t, workflow.KindInternal, se.Kind)
		assert.Contains(t, se.Message, "panicked")
	}
}

func TestEngineEmptyDiscoveryLearns(t *testing.T) {
	h := newHarness()
	h.rt.Discoverer = &staticDiscoverer{}
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, sum.Outcome)
	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	require.Len(t, s.Decisions, 2)
	assert.Equal(t, workflow.StageLearn, s.Decisions[0].Outcome)

	p, err := h.policies.Policy(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, p.Threshold, 1e-9)
}

// Every accepted candidate fails to transform. The eleventh failure exceeds
// the budget of ten and stops the run with the candidate bookkeeping cleared.
func TestEngineBudgetExceeded(t *testing.T) {
	h := newHarness()
	var items []workflow.Candidate
	scores := make(map[string]float64)
	fail := make(map[string]bool)
	for i := range 12 {
		id := fmt.Sprintf("job-%02d", i)
		items = append(items, candidate(id, "Engineer"))
		scores[id] = 0.9
		fail[id] = true
	}
	h.rt.Discoverer = &staticDiscoverer{items: items}
	h.rt.Scorer = &mapScorer{scores: scores}
	h.rt.Transformer = &fakeTransformer{fail: fail}
	e := h.engine()

	sum, err := e.Start(context.Background(), profile)

	assert.ErrorIs(t, err, workflow.ErrBudgetExceeded)
	assert.Equal(t, workflow.StatusTerminal, sum.Status)
	assert.Equal(t, workflow.OutcomeBudgetExceeded, sum.Outcome)
	assert.Equal(t, 11, sum.Errors)

	s, err := e.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Empty(t, s.ActiveCandidate)
	assert.Nil(t, s.Document)
	assert.Nil(t, s.PendingGate)
	assert.NoError(t, s.CheckInvariants())
}

// Malformed postings from one discovery are one failure, not one per posting.
func TestEngineMalformedPostingsCountOnce(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	for range 11 {
		items = append(items, workflow.Candidate{Source: "broken"})
	}
	h.rt.Discoverer = &staticDiscoverer{items: items}
	e := h.engine()

	sum, err := e.Start(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuspended, sum.Status)
	assert.Equal(t, 5, sum.Discovered)
	assert.Equal(t, 1, sum.Errors)

	s, err := e.Get(context.Background(), sum.ID)
	require.NoError(t, err)
	assert.Equal(t, 11.0, s.Metrics[workflow.MetricDropped])
	assert.Equal(t, workflow.KindValidation, s.Errors[0].Kind)
}

func TestEnginePausedAfterGateClearsCandidate(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	s.Profile.Paused = true
	require.NoError(t, h.store.Save(ctx, s))

	sum, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomePaused, sum.Outcome)

	s, err = e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Empty(t, s.ActiveCandidate)
	assert.Nil(t, s.Document)
	assert.Nil(t, s.PendingGate)
	assert.Empty(t, h.submitter.submitted)
}

func TestEnginePausedProfileStops(t *testing.T) {
	h := newHarness()
	e := h.engine()
	paused := profile
	paused.Paused = true

	sum, err := e.Start(context.Background(), paused)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomePaused, sum.Outcome)
	assert.Zero(t, sum.Scored)
}

func TestEnginePersistenceFailure(t *testing.T) {
	h := newHarness()
	store := &flakyStore{MemoryStore: h.store, failSuspend: true}
	e := h.engineWith(store)

	sum, err := e.Start(context.Background(), profile)

	assert.ErrorIs(t, err, workflow.ErrPersistence)
	assert.Equal(t, workflow.StatusFailed, sum.Status)
	assert.Equal(t, workflow.OutcomePersistenceFailed, sum.Outcome)
}

func TestEngineCancelSuspended(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(ctx, sum.ID))

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusTerminal, s.Status)
	assert.Equal(t, workflow.OutcomeCancelled, s.Outcome)
	assert.Nil(t, s.PendingGate)
	assert.Equal(t, "cancelled", s.Decisions[len(s.Decisions)-1].Rationale)

	assert.ErrorIs(t, e.Cancel(ctx, sum.ID), workflow.ErrRunTerminal)

	_, err = e.ResolveGate(ctx, sum.GateToken, workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrGateNotFound)

	n, err := e.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Cancelling a running loop lets the stage in flight finish and discards
// its result.
func TestEngineCancelRunningAndBusy(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	d := newBlockingDiscoverer(items...)
	h.rt.Discoverer = d
	e := h.engine()
	ctx := context.Background()

	done := async(func() (workflow.Summary, error) { return e.Start(ctx, profile) })

	<-d.started
	id := onlyRun(t, h.store)

	_, err := e.Resume(ctx, id)
	assert.ErrorIs(t, err, workflow.ErrRunBusy)

	require.NoError(t, e.Cancel(ctx, id))

	select {
	case <-done:
		t.Fatal("cancel aborted the stage in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(d.release)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, workflow.OutcomeCancelled, r.sum.Outcome)
	assert.Zero(t, r.sum.Discovered)

	s, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusTerminal, s.Status)
	assert.Empty(t, s.Items)
	assert.Empty(t, s.Errors)
}

// A caller whose context ends mid-run does not cancel the run.
func TestEngineOutlivesCallerContext(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	h.rt.Discoverer = &slowDiscoverer{delay: 50 * time.Millisecond, items: items}
	e := h.engine()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuspended, sum.Status)
	assert.NotEqual(t, workflow.OutcomeCancelled, sum.Outcome)
	assert.Equal(t, 5, sum.Discovered)
	assert.NotEmpty(t, sum.GateToken)
}

// Shutdown interrupts a run without terminating it, and another engine on
// the same store resumes it.
func TestEngineShutdownInterruptsResumably(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	d := newBlockingDiscoverer(items...)
	h.rt.Discoverer = d
	e := h.engine()
	ctx := context.Background()

	done := async(func() (workflow.Summary, error) { return e.Start(ctx, profile) })
	<-d.started
	id := onlyRun(t, h.store)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(shutdownCtx))

	r := await(t, done)
	assert.ErrorIs(t, r.err, workflow.ErrInterrupted)
	assert.Equal(t, workflow.StatusRunning, r.sum.Status)

	s, err := e.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, s.Status)
	assert.Equal(t, workflow.StageDiscover, s.NextStage)
	assert.Empty(t, s.Errors)
	assert.Zero(t, e.Active())

	_, err = e.Start(ctx, profile)
	assert.ErrorIs(t, err, workflow.ErrEngineClosed)

	h.rt.Discoverer = &staticDiscoverer{items: items}
	sum, err := h.engine().Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspended, sum.Status)
	assert.Equal(t, 5, sum.Discovered)
	assert.NotEmpty(t, sum.GateToken)
}

// Two engines over one store never drive the same run at once.
func TestEnginesSharingStoreResolveOnce(t *testing.T) {
	h := newHarness()
	h.rt.Discoverer = &staticDiscoverer{items: []workflow.Candidate{candidate("a", "Staff Engineer")}}
	sub := newHeldSubmitter()
	h.rt.Submitter = sub
	first, second := h.engine(), h.engine()
	ctx := context.Background()

	sum, err := first.Start(ctx, profile)
	require.NoError(t, err)
	token := sum.GateToken

	done := async(func() (workflow.Summary, error) {
		return first.ResolveGate(ctx, token, workflow.DecisionApprove, "")
	})
	<-sub.entered

	_, err = second.ResolveGate(ctx, token, workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrRunBusy)

	_, err = second.Resume(ctx, sum.ID)
	assert.ErrorIs(t, err, workflow.ErrRunBusy)

	close(sub.release)
	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, workflow.OutcomeCompleted, r.sum.Outcome)

	_, err = second.ResolveGate(ctx, token, workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrGateNotFound)
	assert.Equal(t, []string{"a"}, sub.submitted)
}

// A cancel sent to an engine that does not hold the run reaches the engine
// that does through the store.
func TestEngineCancelAcrossEngines(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	d := newBlockingDiscoverer(items...)
	h.rt.Discoverer = d
	driver, other := h.engine(), h.engine()
	ctx := context.Background()

	done := async(func() (workflow.Summary, error) { return driver.Start(ctx, profile) })
	<-d.started
	id := onlyRun(t, h.store)

	require.NoError(t, other.Cancel(ctx, id))
	close(d.release)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, workflow.OutcomeCancelled, r.sum.Outcome)
	assert.Zero(t, r.sum.Discovered)

	assert.ErrorIs(t, other.Cancel(ctx, id), workflow.ErrRunTerminal)
}

func TestEngineUnknownRun(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	_, err := e.ResolveGate(ctx, "missing", workflow.DecisionApprove, "")
	assert.ErrorIs(t, err, workflow.ErrGateNotFound)

	_, err = e.ResolveGate(ctx, "missing", workflow.GateDecision("maybe"), "")
	assert.ErrorIs(t, err, workflow.ErrInvalidDecision)

	_, err = e.Resume(ctx, workflow.NewState(profile, epoch).ID)
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	h := newHarness()
	e := h.engine()
	ctx := context.Background()

	sum, err := e.Start(ctx, profile)
	require.NoError(t, err)

	s, err := e.Get(ctx, sum.ID)
	require.NoError(t, err)

	clone := s.Clone()
	clone.Items[0].Attributes[workflow.AttrTitle] = "changed"
	clone.Scores["a"] = 0
	clone.PendingGate.Status = workflow.GateExpired

	assert.Equal(t, "Staff Engineer", s.Items[0].Attr(workflow.AttrTitle))
	assert.Equal(t, 0.9, s.Scores["a"])
	assert.Equal(t, workflow.GatePending, s.PendingGate.Status)
}
