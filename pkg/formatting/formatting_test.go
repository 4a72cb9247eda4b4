package formatting_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/pkg/formatting"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n         int64
		precision int
		want      string
	}{
		{0, 1, "0 B"},
		{512, 0, "512 B"},
		{1536, 1, "1.5 KB"},
		{50 * 1024 * 1024, 1, "50.0 MB"},
		{1024, -3, "1 KB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatting.FormatBytes(tt.n, tt.precision))
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100", 100},
		{"50MB", 50 * 1024 * 1024},
		{"1.5 kb", 1536},
		{" 2GB ", 2 << 30},
	}
	for _, tt := range tests {
		got, err := formatting.ParseBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "MB", "12XB", "-5MB"} {
		_, err := formatting.ParseBytes(bad)
		assert.Error(t, err, bad)
	}
}

type verdict struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

func TestParse(t *testing.T) {
	got, err := formatting.Parse[verdict](`{"score": 0.8, "rationale": "strong Go match"}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Score, 1e-9)

	fenced := "Here you go:\n```json\n{\"score\": 0.4, \"rationale\": \"remote only\"}\n```"
	got, err = formatting.Parse[verdict](fenced)
	require.NoError(t, err)
	assert.Equal(t, "remote only", got.Rationale)

	_, err = formatting.Parse[verdict]("no json here")
	assert.ErrorIs(t, err, formatting.ErrParseFailed)
}
