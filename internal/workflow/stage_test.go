package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Scores 0.9, 0.3, 0.75, 0.6, 0.1 against 0.70 accept the 0.9 and 0.75
// candidates in that order, and the router activates the 0.9 one.
func TestScoreStageAcceptsAboveThreshold(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	s := workflow.NewState(workflow.Profile{UserID: "u1"}, epoch)
	s.Items = items

	err := workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, s.Accepted)
	assert.InDelta(t, 0.70, s.Threshold, 1e-9)
	assert.Len(t, s.Scores, 5)
	assert.Equal(t, 2.0, s.Metrics[workflow.MetricAccepted])

	next := workflow.NewRouter(0).Decide(workflow.StageScore, s, epoch)
	assert.Equal(t, workflow.StageTransform, next)
	assert.Equal(t, "a", s.ActiveCandidate)
}

func TestScoreStageTiesKeepDiscoveryOrder(t *testing.T) {
	h := newHarness()
	h.rt.Scorer = &mapScorer{scores: map[string]float64{"x": 0.8, "y": 0.95, "z": 0.8}}
	s := workflow.NewState(workflow.Profile{}, epoch)
	s.Items = []workflow.Candidate{candidate("x", "X"), candidate("y", "Y"), candidate("z", "Z")}

	require.NoError(t, workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s))

	assert.Equal(t, []string{"y", "x", "z"}, s.Accepted)
}

func TestScoreStageClampsScores(t *testing.T) {
	h := newHarness()
	h.rt.Scorer = &mapScorer{scores: map[string]float64{"x": 1.7, "y": -0.4}}
	s := workflow.NewState(workflow.Profile{}, epoch)
	s.Items = []workflow.Candidate{candidate("x", "X"), candidate("y", "Y")}

	require.NoError(t, workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s))

	assert.Equal(t, 1.0, s.Scores["x"])
	assert.Equal(t, 0.0, s.Scores["y"])
}

func TestScoreStageExcludesProcessed(t *testing.T) {
	h := newHarness()
	items, _ := scenarioItems()
	s := workflow.NewState(workflow.Profile{}, epoch)
	s.Items = items
	s.Processed = []string{"a"}

	require.NoError(t, workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s))

	assert.Equal(t, []string{"c"}, s.Accepted)
}

func TestScoreStageEmptyItemsIsNoop(t *testing.T) {
	h := newHarness()
	s := workflow.NewState(workflow.Profile{}, epoch)

	require.NoError(t, workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s))

	assert.Empty(t, s.Accepted)
	assert.Empty(t, s.Scores)
}

func TestScoreStageRecoversScorerPanic(t *testing.T) {
	h := newHarness()
	h.rt.Scorer = &mapScorer{panics: true}
	s := workflow.NewState(workflow.Profile{}, epoch)
	s.Items = []workflow.Candidate{candidate("x", "X")}

	err := workflow.ScoreStage(h.rt, h.opts).Execute(context.Background(), s)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Empty(t, s.Accepted)
}

func TestDiscoverStageDropsInvalidAndDuplicates(t *testing.T) {
	h := newHarness()
	h.rt.Discoverer = &staticDiscoverer{items: []workflow.Candidate{
		candidate("a", "Engineer"),
		candidate("a", "Engineer"),
		candidate("", "No Identity"),
		{ID: "untitled", Source: "test"},
		candidate("b", "Designer"),
	}}
	s := workflow.NewState(workflow.Profile{}, epoch)

	err := workflow.DiscoverStage(h.rt, h.opts).Execute(context.Background(), s)

	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrValidation)
	require.Len(t, s.Items, 2)
	assert.Equal(t, "a", s.Items[0].ID)
	assert.Equal(t, "b", s.Items[1].ID)

	assert.Contains(t, err.Error(), "2 of 5 candidates invalid")
	assert.Equal(t, 3.0, s.Metrics[workflow.MetricDropped])

	s.RecordError(workflow.StageDiscover, err, epoch)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, workflow.KindValidation, s.Errors[0].Kind)
	assert.Equal(t, workflow.StageDiscover, s.Errors[0].Stage)
}

func TestTransformStageWithoutActiveIsNoop(t *testing.T) {
	h := newHarness()
	s := workflow.NewState(workflow.Profile{}, epoch)
	s.Items = []workflow.Candidate{candidate("a", "A")}

	require.NoError(t, workflow.TransformStage(h.rt, h.opts).Execute(context.Background(), s))
	assert.Nil(t, s.Document)
}

func TestGateStageOpensGateAndNotifies(t *testing.T) {
	h := newHarness()
	s := workflow.NewState(workflow.Profile{Contact: "ops@example.com"}, epoch)
	s.Items = []workflow.Candidate{candidate("a", "A")}
	s.ActiveCandidate = "a"
	s.Document = &workflow.Document{CandidateID: "a", Content: "doc"}

	require.NoError(t, workflow.GateStage(h.rt, h.opts).Execute(context.Background(), s))

	require.NotNil(t, s.PendingGate)
	assert.Equal(t, workflow.GatePending, s.PendingGate.Status)
	assert.Equal(t, epoch.Add(h.opts.GateTimeout), s.PendingGate.ExpiresAt)
	require.Len(t, h.notifier.notices, 1)
	assert.Equal(t, s.PendingGate.Token, h.notifier.notices[0].Token)
	assert.Equal(t, "ops@example.com", h.notifier.notices[0].Contact)
}

func TestFinalizeStageWithoutDocumentIsNoop(t *testing.T) {
	h := newHarness()
	s := workflow.NewState(workflow.Profile{}, epoch)

	require.NoError(t, workflow.FinalizeStage(h.rt, h.opts).Execute(context.Background(), s))
	assert.Empty(t, s.Submissions)
	assert.Empty(t, h.submitter.submitted)
}
