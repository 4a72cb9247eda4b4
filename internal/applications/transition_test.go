package applications

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := submitted.Add(72 * time.Hour)

	base := Application{Status: StatusSubmitted, SubmittedAt: submitted}

	t.Run("first response is stamped", func(t *testing.T) {
		got, err := transition(base, StatusCommand{Status: StatusViewed, Notes: "recruiter opened it"}, now)
		require.NoError(t, err)
		assert.Equal(t, StatusViewed, got.Status)
		require.NotNil(t, got.RespondedAt)
		assert.Equal(t, now, *got.RespondedAt)
		assert.Nil(t, got.ClosedAt)
		assert.Equal(t, "[2026-03-04 09:00] recruiter opened it", got.Notes)
	})

	t.Run("later responses keep the first stamp", func(t *testing.T) {
		first := submitted.Add(time.Hour)
		a := base
		a.Status = StatusViewed
		a.RespondedAt = &first

		got, err := transition(a, StatusCommand{Status: StatusInterview}, now)
		require.NoError(t, err)
		assert.Equal(t, first, *got.RespondedAt)
	})

	t.Run("rejection closes", func(t *testing.T) {
		got, err := transition(base, StatusCommand{Status: StatusRejected}, now)
		require.NoError(t, err)
		require.NotNil(t, got.ClosedAt)
		assert.NotNil(t, got.RespondedAt)
	})

	t.Run("withdrawal closes without a response", func(t *testing.T) {
		got, err := transition(base, StatusCommand{Status: StatusWithdrawn}, now)
		require.NoError(t, err)
		assert.NotNil(t, got.ClosedAt)
		assert.Nil(t, got.RespondedAt)
	})

	t.Run("closed applications are final", func(t *testing.T) {
		a := base
		a.Status = StatusRejected
		_, err := transition(a, StatusCommand{Status: StatusInterview}, now)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("notes append", func(t *testing.T) {
		a := base
		a.Notes = "[2026-03-02 10:00] applied via portal"
		got, err := transition(a, StatusCommand{Status: StatusSubmitted, Notes: "followed up"}, now)
		require.NoError(t, err)
		assert.Equal(t, "[2026-03-02 10:00] applied via portal\n[2026-03-04 09:00] followed up", got.Notes)
	})
}

func TestBuildStorageKey(t *testing.T) {
	run := uuid.MustParse("6f1c1d2e-8a55-4c59-9a53-3c0b2e4e7d10")
	assert.Equal(t, "applications/6f1c1d2e-8a55-4c59-9a53-3c0b2e4e7d10/job%2F1.md", buildStorageKey(run, "job/1"))
	assert.NotContains(t, buildStorageKey(run, "../x"), "..")
}
