package workflow_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/workflow"
)

func stateWith(items ...string) *workflow.State {
	s := workflow.NewState(workflow.Profile{UserID: "u1"}, epoch)
	for _, id := range items {
		s.Items = append(s.Items, candidate(id, "Engineer "+id))
	}
	return s
}

func TestRouterDecide(t *testing.T) {
	router := workflow.NewRouter(0)

	tests := []struct {
		name  string
		from  workflow.StageName
		setup func(s *workflow.State)
		want  workflow.StageName
		check func(t *testing.T, s *workflow.State)
	}{
		{
			name: "discover with no items goes to learn",
			from: workflow.StageDiscover,
			setup: func(s *workflow.State) {
				s.Items = nil
			},
			want: workflow.StageLearn,
		},
		{
			name: "discover with items goes to score",
			from: workflow.StageDiscover,
			want: workflow.StageScore,
		},
		{
			name: "score with nothing accepted goes to learn",
			from: workflow.StageScore,
			want: workflow.StageLearn,
		},
		{
			name: "score selects first unprocessed accepted candidate",
			from: workflow.StageScore,
			setup: func(s *workflow.State) {
				s.Accepted = []string{"a", "b"}
				s.Processed = []string{"a"}
			},
			want: workflow.StageTransform,
			check: func(t *testing.T, s *workflow.State) {
				assert.Equal(t, "b", s.ActiveCandidate)
			},
		},
		{
			name: "score keeps an existing active candidate",
			from: workflow.StageScore,
			setup: func(s *workflow.State) {
				s.Accepted = []string{"a", "b"}
				s.ActiveCandidate = "b"
			},
			want: workflow.StageTransform,
			check: func(t *testing.T, s *workflow.State) {
				assert.Equal(t, "b", s.ActiveCandidate)
			},
		},
		{
			name: "score with every accepted candidate processed goes to learn",
			from: workflow.StageScore,
			setup: func(s *workflow.State) {
				s.Accepted = []string{"a"}
				s.Processed = []string{"a"}
			},
			want: workflow.StageLearn,
		},
		{
			name: "transform without document releases candidate",
			from: workflow.StageTransform,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
			},
			want: workflow.StageScore,
			check: func(t *testing.T, s *workflow.State) {
				assert.Empty(t, s.ActiveCandidate)
				assert.Equal(t, []string{"a"}, s.Processed)
			},
		},
		{
			name: "transform with document goes to gate",
			from: workflow.StageTransform,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
				s.Document = &workflow.Document{CandidateID: "a"}
			},
			want: workflow.StageGate,
		},
		{
			name: "pending gate waits",
			from: workflow.StageGate,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
				s.PendingGate = &workflow.Gate{Token: "t", CandidateID: "a", Status: workflow.GatePending}
			},
			want: workflow.StageWait,
			check: func(t *testing.T, s *workflow.State) {
				assert.NotNil(t, s.PendingGate)
			},
		},
		{
			name: "approved gate finalizes",
			from: workflow.StageGate,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
				s.PendingGate = &workflow.Gate{Token: "t", CandidateID: "a", Status: workflow.GateApproved}
			},
			want: workflow.StageFinalize,
			check: func(t *testing.T, s *workflow.State) {
				assert.Nil(t, s.PendingGate)
				assert.Equal(t, "a", s.ActiveCandidate)
			},
		},
		{
			name: "rejected gate learns",
			from: workflow.StageGate,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
				s.PendingGate = &workflow.Gate{Token: "t", CandidateID: "a", Status: workflow.GateRejected}
			},
			want: workflow.StageLearn,
			check: func(t *testing.T, s *workflow.State) {
				assert.Nil(t, s.PendingGate)
				assert.Empty(t, s.ActiveCandidate)
				assert.Contains(t, s.Processed, "a")
			},
		},
		{
			name: "expired gate rescores",
			from: workflow.StageGate,
			setup: func(s *workflow.State) {
				s.ActiveCandidate = "a"
				s.PendingGate = &workflow.Gate{Token: "t", CandidateID: "a", Status: workflow.GateExpired}
			},
			want: workflow.StageScore,
			check: func(t *testing.T, s *workflow.State) {
				assert.Nil(t, s.PendingGate)
				assert.Contains(t, s.Processed, "a")
			},
		},
		{
			name: "finalize with accepted remaining rescores",
			from: workflow.StageFinalize,
			setup: func(s *workflow.State) {
				s.Accepted = []string{"a", "b"}
				s.ActiveCandidate = "a"
			},
			want: workflow.StageScore,
			check: func(t *testing.T, s *workflow.State) {
				assert.Equal(t, []string{"b"}, s.Accepted)
				assert.Empty(t, s.ActiveCandidate)
			},
		},
		{
			name: "finalize with nothing remaining learns",
			from: workflow.StageFinalize,
			setup: func(s *workflow.State) {
				s.Accepted = []string{"a"}
				s.ActiveCandidate = "a"
			},
			want: workflow.StageLearn,
		},
		{
			name: "learn stops",
			from: workflow.StageLearn,
			want: workflow.StageStop,
		},
		{
			name: "paused profile stops",
			from: workflow.StageDiscover,
			setup: func(s *workflow.State) {
				s.Profile.Paused = true
			},
			want: workflow.StageStop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stateWith("a", "b", "c")
			if tt.setup != nil {
				tt.setup(s)
			}

			got := router.Decide(tt.from, s, epoch)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, s.NextStage)
			require.Len(t, s.Decisions, 1)
			assert.Equal(t, tt.from, s.Decisions[0].Stage)
			assert.Equal(t, tt.want, s.Decisions[0].Outcome)
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestRouterEmptyItemsNeverScore(t *testing.T) {
	router := workflow.NewRouter(0)
	for _, paused := range []bool{false, true} {
		s := stateWith()
		s.Profile.Paused = paused
		assert.NotEqual(t, workflow.StageScore, router.Decide(workflow.StageDiscover, s, epoch))
	}
}

// Eleven errors against the default budget of ten stop the run even with
// unprocessed accepted candidates.
func TestRouterErrorBudgetStops(t *testing.T) {
	router := workflow.NewRouter(0)
	s := stateWith("a", "b")
	s.Accepted = []string{"a", "b"}
	for i := range 11 {
		s.RecordError(workflow.StageScore, fmt.Errorf("failure %d", i), epoch)
	}

	got := router.Decide(workflow.StageScore, s, epoch)

	assert.Equal(t, workflow.StageStop, got)
	assert.True(t, router.OverBudget(s))
	assert.Empty(t, s.ActiveCandidate)
}

func TestRouterBudgetBoundary(t *testing.T) {
	router := workflow.NewRouter(10)
	s := stateWith("a")
	for i := range 10 {
		s.RecordError(workflow.StageDiscover, fmt.Errorf("failure %d", i), epoch)
	}
	assert.Equal(t, workflow.StageScore, router.Decide(workflow.StageDiscover, s, epoch))
}

func TestRouterNextDoesNotMutate(t *testing.T) {
	router := workflow.NewRouter(0)
	s := stateWith("a", "b")
	s.Accepted = []string{"a", "b"}

	got := router.Next(workflow.StageScore, s)

	assert.Equal(t, workflow.StageTransform, got)
	assert.Empty(t, s.ActiveCandidate)
	assert.Empty(t, s.Decisions)
	assert.Empty(t, s.NextStage)
}

func TestRouterSingleActiveCandidate(t *testing.T) {
	router := workflow.NewRouter(0)
	s := stateWith("a", "b", "c")
	s.Accepted = []string{"a", "b", "c"}

	sequence := []workflow.StageName{
		workflow.StageScore,
		workflow.StageTransform,
	}
	for _, from := range sequence {
		router.Decide(from, s, epoch)
		if s.ActiveCandidate != "" {
			_, ok := s.Candidate(s.ActiveCandidate)
			assert.True(t, ok)
		}
	}
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, []string{"a"}, s.Processed)
}
