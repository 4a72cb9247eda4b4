package prompts_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/prompts"
	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/routes"
)

type mockSystem struct {
	listFn      func(ctx context.Context, page pagination.PageRequest, filters prompts.Filters) (*pagination.PageResult[prompts.Prompt], error)
	findFn      func(ctx context.Context, id uuid.UUID) (*prompts.Prompt, error)
	effectiveFn func(ctx context.Context, stage prompts.Stage) (*prompts.Effective, error)
	createFn    func(ctx context.Context, cmd prompts.Command) (*prompts.Prompt, error)
	updateFn    func(ctx context.Context, id uuid.UUID, cmd prompts.Command) (*prompts.Prompt, error)
	deleteFn    func(ctx context.Context, id uuid.UUID) error
	setActiveFn func(ctx context.Context, id uuid.UUID, active bool) (*prompts.Prompt, error)
}

func (m *mockSystem) Handler() *prompts.Handler {
	return prompts.NewHandler(m, slog.New(slog.NewTextHandler(io.Discard, nil)), pagination.Config{DefaultPageSize: 20, MaxPageSize: 100})
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters prompts.Filters) (*pagination.PageResult[prompts.Prompt], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*prompts.Prompt, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) Instructions(ctx context.Context, stage prompts.Stage) (string, error) {
	eff, err := m.effectiveFn(ctx, stage)
	if err != nil {
		return "", err
	}
	return eff.Instructions, nil
}

func (m *mockSystem) Spec(ctx context.Context, stage prompts.Stage) (string, error) {
	return prompts.Spec(stage)
}

func (m *mockSystem) Effective(ctx context.Context, stage prompts.Stage) (*prompts.Effective, error) {
	return m.effectiveFn(ctx, stage)
}

func (m *mockSystem) Create(ctx context.Context, cmd prompts.Command) (*prompts.Prompt, error) {
	return m.createFn(ctx, cmd)
}

func (m *mockSystem) Update(ctx context.Context, id uuid.UUID, cmd prompts.Command) (*prompts.Prompt, error) {
	return m.updateFn(ctx, id, cmd)
}

func (m *mockSystem) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

func (m *mockSystem) SetActive(ctx context.Context, id uuid.UUID, active bool) (*prompts.Prompt, error) {
	return m.setActiveFn(ctx, id, active)
}

func setupMux(sys *mockSystem) *http.ServeMux {
	mux := http.NewServeMux()
	routes.Register(mux, sys.Handler().Routes())
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func samplePrompt() prompts.Prompt {
	return prompts.Prompt{
		ID:           uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Name:         "strict-screen",
		Stage:        prompts.StageScore,
		Instructions: "Reject anything outside the target titles.",
		Description:  ptr("Stricter screening"),
	}
}

func TestHandlerList(t *testing.T) {
	p := samplePrompt()
	var captured prompts.Filters
	sys := &mockSystem{
		listFn: func(_ context.Context, _ pagination.PageRequest, f prompts.Filters) (*pagination.PageResult[prompts.Prompt], error) {
			captured = f
			result := pagination.NewPageResult([]prompts.Prompt{p}, 1, 1, 20)
			return &result, nil
		},
	}
	mux := setupMux(sys)

	rec := serve(mux, "GET", "/prompts?stage=score&name=strict", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result pagination.PageResult[prompts.Prompt]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Data, 1)
	assert.Equal(t, p.ID, result.Data[0].ID)

	require.NotNil(t, captured.Stage)
	assert.Equal(t, prompts.StageScore, *captured.Stage)
	require.NotNil(t, captured.Name)
	assert.Equal(t, "strict", *captured.Name)
}

func effectiveFor(p prompts.Prompt) func(context.Context, prompts.Stage) (*prompts.Effective, error) {
	return func(_ context.Context, stage prompts.Stage) (*prompts.Effective, error) {
		eff := &prompts.Effective{Stage: stage, Instructions: "default " + string(stage), Spec: "spec " + string(stage)}
		if stage == p.Stage {
			eff.Instructions = p.Instructions
			eff.Override = &prompts.Override{ID: p.ID, Name: p.Name}
		}
		return eff, nil
	}
}

func TestHandlerStages(t *testing.T) {
	p := samplePrompt()
	rec := serve(setupMux(&mockSystem{effectiveFn: effectiveFor(p)}), "GET", "/prompts/stages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []prompts.Effective
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)

	assert.Equal(t, prompts.StageScore, got[0].Stage)
	require.NotNil(t, got[0].Override)
	assert.Equal(t, p.ID, got[0].Override.ID)
	assert.Equal(t, p.Instructions, got[0].Instructions)

	assert.Equal(t, prompts.StageTailor, got[1].Stage)
	assert.Nil(t, got[1].Override)
	assert.Equal(t, "default tailor", got[1].Instructions)
}

func TestHandlerFind(t *testing.T) {
	p := samplePrompt()
	sys := &mockSystem{
		findFn: func(_ context.Context, id uuid.UUID) (*prompts.Prompt, error) {
			if id != p.ID {
				return nil, prompts.ErrNotFound
			}
			return &p, nil
		},
	}
	mux := setupMux(sys)

	rec := serve(mux, "GET", "/prompts/"+p.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got prompts.Prompt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, p.ID, got.ID)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "GET", "/prompts/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, "GET", "/prompts/"+uuid.NewString(), "").Code)
}

func TestHandlerStage(t *testing.T) {
	p := samplePrompt()
	mux := setupMux(&mockSystem{effectiveFn: effectiveFor(p)})

	rec := serve(mux, "GET", "/prompts/stages/tailor", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got prompts.Effective
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, prompts.Effective{
		Stage:        prompts.StageTailor,
		Instructions: "default tailor",
		Spec:         "spec tailor",
	}, got)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "GET", "/prompts/stages/classify", "").Code)
}

func TestHandlerSearch(t *testing.T) {
	var captured pagination.PageRequest
	sys := &mockSystem{
		listFn: func(_ context.Context, page pagination.PageRequest, _ prompts.Filters) (*pagination.PageResult[prompts.Prompt], error) {
			captured = page
			result := pagination.NewPageResult([]prompts.Prompt{}, 0, page.Page, page.PageSize)
			return &result, nil
		},
	}
	mux := setupMux(sys)

	rec := serve(mux, "POST", "/prompts/search", `{"page": 0, "page_size": 0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, captured.Page)
	assert.Equal(t, 20, captured.PageSize)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "POST", "/prompts/search", "not json").Code)
}

func TestHandlerCreate(t *testing.T) {
	p := samplePrompt()
	var captured prompts.Command
	sys := &mockSystem{
		createFn: func(_ context.Context, cmd prompts.Command) (*prompts.Prompt, error) {
			captured = cmd
			if cmd.Name == "taken" {
				return nil, prompts.ErrDuplicate
			}
			return &p, nil
		},
	}
	mux := setupMux(sys)

	rec := serve(mux, "POST", "/prompts", `{"name":"strict-screen","stage":"score","instructions":"be strict"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "strict-screen", captured.Name)
	assert.Equal(t, prompts.StageScore, captured.Stage)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "POST", "/prompts", "not json").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "POST", "/prompts", `{"name":"x","stage":"banana","instructions":"x"}`).Code)
	assert.Equal(t, http.StatusConflict, serve(mux, "POST", "/prompts", `{"name":"taken","stage":"tailor","instructions":"x"}`).Code)
}

func TestHandlerUpdate(t *testing.T) {
	p := samplePrompt()
	var capturedID uuid.UUID
	sys := &mockSystem{
		updateFn: func(_ context.Context, id uuid.UUID, cmd prompts.Command) (*prompts.Prompt, error) {
			capturedID = id
			if id != p.ID {
				return nil, prompts.ErrNotFound
			}
			return &p, nil
		},
	}
	mux := setupMux(sys)
	body := `{"name":"strict-screen","stage":"score","instructions":"updated"}`

	require.Equal(t, http.StatusOK, serve(mux, "PUT", "/prompts/"+p.ID.String(), body).Code)
	assert.Equal(t, p.ID, capturedID)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "PUT", "/prompts/not-a-uuid", body).Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "PUT", "/prompts/"+p.ID.String(), `{"stage":"invalid"}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, "PUT", "/prompts/"+uuid.NewString(), body).Code)
}

func TestHandlerDelete(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	sys := &mockSystem{
		deleteFn: func(_ context.Context, got uuid.UUID) error {
			if got != id {
				return prompts.ErrNotFound
			}
			return nil
		},
	}
	mux := setupMux(sys)

	assert.Equal(t, http.StatusNoContent, serve(mux, "DELETE", "/prompts/"+id.String(), "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "DELETE", "/prompts/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, "DELETE", "/prompts/"+uuid.NewString(), "").Code)
}

func TestHandlerActivation(t *testing.T) {
	p := samplePrompt()
	var calls []bool
	sys := &mockSystem{
		setActiveFn: func(_ context.Context, id uuid.UUID, active bool) (*prompts.Prompt, error) {
			calls = append(calls, active)
			if id != p.ID {
				return nil, prompts.ErrNotFound
			}
			got := p
			got.Active = active
			return &got, nil
		},
	}
	mux := setupMux(sys)

	rec := serve(mux, "POST", "/prompts/"+p.ID.String()+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got prompts.Prompt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.True(t, got.Active)

	rec = serve(mux, "POST", "/prompts/"+p.ID.String()+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.False(t, got.Active)

	assert.Equal(t, http.StatusNotFound, serve(mux, "POST", "/prompts/"+uuid.NewString()+"/deactivate", "").Code)
	assert.Equal(t, []bool{true, false, false}, calls)
}
