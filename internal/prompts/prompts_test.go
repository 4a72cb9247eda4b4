package prompts_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/prompts"
	"github.com/JaimeStill/envoy/pkg/query"
)

func ptr[T any](v T) *T { return &v }

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", prompts.ErrNotFound, http.StatusNotFound},
		{"duplicate", prompts.ErrDuplicate, http.StatusConflict},
		{"invalid stage", prompts.ErrInvalidStage, http.StatusBadRequest},
		{"invalid command", prompts.ErrInvalidCommand, http.StatusBadRequest},
		{"unknown error", errors.New("something else"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("find failed: %w", prompts.ErrNotFound), http.StatusNotFound},
		{"wrapped duplicate", fmt.Errorf("insert failed: %w", prompts.ErrDuplicate), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prompts.MapHTTPStatus(tt.err))
		})
	}
}

func TestStages(t *testing.T) {
	assert.Equal(t, []prompts.Stage{prompts.StageScore, prompts.StageTailor}, prompts.Stages())
}

func TestStageUnmarshalJSON(t *testing.T) {
	for _, want := range prompts.Stages() {
		t.Run(string(want), func(t *testing.T) {
			var s prompts.Stage
			require.NoError(t, json.Unmarshal([]byte(`"`+string(want)+`"`), &s))
			assert.Equal(t, want, s)
		})
	}

	for _, input := range []string{`"classify"`, `"banana"`, `""`} {
		t.Run("rejects "+input, func(t *testing.T) {
			var s prompts.Stage
			assert.ErrorIs(t, json.Unmarshal([]byte(input), &s), prompts.ErrInvalidStage)
		})
	}

	t.Run("non-string returns error", func(t *testing.T) {
		var s prompts.Stage
		assert.Error(t, json.Unmarshal([]byte(`42`), &s))
	})

	t.Run("struct with stage field", func(t *testing.T) {
		var p struct {
			Stage prompts.Stage `json:"stage"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"stage":"tailor"}`), &p))
		assert.Equal(t, prompts.StageTailor, p.Stage)

		err := json.Unmarshal([]byte(`{"stage":"invalid"}`), &p)
		assert.ErrorIs(t, err, prompts.ErrInvalidStage)
	})
}

func TestParseStage(t *testing.T) {
	got, err := prompts.ParseStage("score")
	require.NoError(t, err)
	assert.Equal(t, prompts.StageScore, got)

	for _, input := range []string{"enhance", "banana", ""} {
		_, err := prompts.ParseStage(input)
		assert.ErrorIs(t, err, prompts.ErrInvalidStage, "input %q", input)
	}
}

func TestDefaults(t *testing.T) {
	for _, stage := range prompts.Stages() {
		t.Run(string(stage), func(t *testing.T) {
			text, err := prompts.Instructions(stage)
			require.NoError(t, err)
			assert.NotEmpty(t, text)

			spec, err := prompts.Spec(stage)
			require.NoError(t, err)
			assert.Contains(t, spec, "rationale")
		})
	}

	t.Run("score spec asks for a score", func(t *testing.T) {
		spec, err := prompts.Spec(prompts.StageScore)
		require.NoError(t, err)
		assert.Contains(t, spec, `"score"`)
	})

	t.Run("tailor spec asks for content and changes", func(t *testing.T) {
		spec, err := prompts.Spec(prompts.StageTailor)
		require.NoError(t, err)
		assert.Contains(t, spec, `"content"`)
		assert.Contains(t, spec, `"changes"`)
	})

	t.Run("invalid stage", func(t *testing.T) {
		_, err := prompts.Instructions("banana")
		assert.ErrorIs(t, err, prompts.ErrInvalidStage)
		_, err = prompts.Spec("banana")
		assert.ErrorIs(t, err, prompts.ErrInvalidStage)
	})
}

func TestFiltersFromQuery(t *testing.T) {
	t.Run("all params present", func(t *testing.T) {
		f := prompts.FiltersFromQuery(url.Values{
			"stage":  {"score"},
			"name":   {"strict"},
			"active": {"true"},
		})

		require.NotNil(t, f.Stage)
		assert.Equal(t, prompts.StageScore, *f.Stage)
		require.NotNil(t, f.Name)
		assert.Equal(t, "strict", *f.Name)
		require.NotNil(t, f.Active)
		assert.True(t, *f.Active)
	})

	t.Run("empty params yield nil fields", func(t *testing.T) {
		f := prompts.FiltersFromQuery(url.Values{})
		assert.Nil(t, f.Stage)
		assert.Nil(t, f.Name)
		assert.Nil(t, f.Active)
	})

	t.Run("invalid active ignored", func(t *testing.T) {
		f := prompts.FiltersFromQuery(url.Values{"active": {"not-a-bool"}})
		assert.Nil(t, f.Active)
	})

	t.Run("unknown stage ignored", func(t *testing.T) {
		f := prompts.FiltersFromQuery(url.Values{"stage": {"classify"}})
		assert.Nil(t, f.Stage)
	})
}

func TestFiltersApply(t *testing.T) {
	projection := query.
		NewProjectionMap("public", "prompts", "p").
		Project("stage", "Stage").
		Project("name", "Name").
		Project("active", "Active")

	t.Run("no filters produces no WHERE clause", func(t *testing.T) {
		b := query.NewBuilder(projection)
		prompts.Filters{}.Apply(b)
		sql, args := b.Build()

		assert.Equal(t, "SELECT p.stage, p.name, p.active FROM public.prompts p", sql)
		assert.Empty(t, args)
	})

	t.Run("name uses contains matching", func(t *testing.T) {
		b := query.NewBuilder(projection)
		prompts.Filters{Name: ptr("strict")}.Apply(b)
		_, args := b.Build()

		assert.Equal(t, []any{"%strict%"}, args)
	})

	t.Run("multiple filters combine", func(t *testing.T) {
		b := query.NewBuilder(projection)
		prompts.Filters{
			Stage:  ptr(prompts.StageTailor),
			Name:   ptr("concise"),
			Active: ptr(false),
		}.Apply(b)
		sql, args := b.Build()

		assert.Len(t, args, 3)
		assert.Contains(t, sql, " AND ")
	})
}

func TestCommandValidate(t *testing.T) {
	t.Run("trims fields", func(t *testing.T) {
		cmd := prompts.Command{Name: "  remote-first ", Stage: prompts.StageScore, Instructions: "\n prefer remote roles \n"}
		require.NoError(t, cmd.Validate())
		assert.Equal(t, "remote-first", cmd.Name)
		assert.Equal(t, "prefer remote roles", cmd.Instructions)
	})

	tests := []struct {
		name string
		cmd  prompts.Command
		want error
	}{
		{"blank name", prompts.Command{Name: " ", Stage: prompts.StageScore, Instructions: "x"}, prompts.ErrInvalidCommand},
		{"blank instructions", prompts.Command{Name: "x", Stage: prompts.StageTailor, Instructions: "  "}, prompts.ErrInvalidCommand},
		{"missing stage", prompts.Command{Name: "x", Instructions: "x"}, prompts.ErrInvalidStage},
		{"unknown stage", prompts.Command{Name: "x", Stage: "classify", Instructions: "x"}, prompts.ErrInvalidStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cmd.Validate(), tt.want)
		})
	}
}
