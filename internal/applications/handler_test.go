package applications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/envoy/internal/applications"
	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/routes"
)

type mockSystem struct {
	listFn     func(ctx context.Context, page pagination.PageRequest, filters applications.Filters) (*pagination.PageResult[applications.Application], error)
	findFn     func(ctx context.Context, id uuid.UUID) (*applications.Application, error)
	documentFn func(ctx context.Context, id uuid.UUID) (string, error)
	updateFn   func(ctx context.Context, id uuid.UUID, cmd applications.StatusCommand) (*applications.Application, error)
}

func (m *mockSystem) Handler() *applications.Handler {
	return applications.NewHandler(m, slog.New(slog.NewTextHandler(io.Discard, nil)), pagination.Config{DefaultPageSize: 20, MaxPageSize: 100})
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters applications.Filters) (*pagination.PageResult[applications.Application], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*applications.Application, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) Document(ctx context.Context, id uuid.UUID) (string, error) {
	return m.documentFn(ctx, id)
}

func (m *mockSystem) UpdateStatus(ctx context.Context, id uuid.UUID, cmd applications.StatusCommand) (*applications.Application, error) {
	return m.updateFn(ctx, id, cmd)
}

func (m *mockSystem) Submit(ctx context.Context, runID uuid.UUID, c workflow.Candidate, doc workflow.Document) (workflow.Submission, error) {
	return workflow.Submission{}, errors.New("not used")
}

func serve(m *mockSystem, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	routes.Register(mux, m.Handler().Routes())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, applications.MapHTTPStatus(applications.ErrNotFound))
	assert.Equal(t, http.StatusConflict, applications.MapHTTPStatus(applications.ErrClosed))
	assert.Equal(t, http.StatusBadRequest, applications.MapHTTPStatus(applications.ErrInvalidStatus))
	assert.Equal(t, http.StatusInternalServerError, applications.MapHTTPStatus(errors.New("boom")))
}

func TestParseStatus(t *testing.T) {
	s, err := applications.ParseStatus("interview")
	require.NoError(t, err)
	assert.Equal(t, applications.StatusInterview, s)

	_, err = applications.ParseStatus("ghosted")
	assert.ErrorIs(t, err, applications.ErrInvalidStatus)

	assert.True(t, applications.StatusOffer.Responded())
	assert.False(t, applications.StatusOffer.Closed())
	assert.True(t, applications.StatusDeclined.Closed())
}

func TestFiltersFromQuery(t *testing.T) {
	run := uuid.New()
	f := applications.FiltersFromQuery(url.Values{
		"run_id":  {run.String()},
		"status":  {"offer"},
		"company": {"acme"},
	})
	require.NotNil(t, f.RunID)
	assert.Equal(t, run, *f.RunID)
	require.NotNil(t, f.Status)
	assert.Equal(t, applications.StatusOffer, *f.Status)
	require.NotNil(t, f.Company)
	assert.Nil(t, f.Source)

	bad := applications.FiltersFromQuery(url.Values{"run_id": {"x"}, "status": {"ghosted"}})
	assert.Nil(t, bad.RunID)
	assert.Nil(t, bad.Status)
	assert.False(t, bad.Open)
}

func TestFiltersApplyOpen(t *testing.T) {
	proj := query.NewProjectionMap("public", "applications", "a").Project("status", "Status")

	sql, args := applications.Filters{Open: true}.Apply(query.NewBuilder(proj)).Build()
	assert.Contains(t, sql, "a.status IN ($1, $2, $3, $4)")
	assert.Equal(t, []any{
		applications.StatusSubmitted,
		applications.StatusViewed,
		applications.StatusInterview,
		applications.StatusOffer,
	}, args)
}

func TestHandlerUpdateStatus(t *testing.T) {
	id := uuid.New()
	var got applications.StatusCommand
	m := &mockSystem{
		updateFn: func(ctx context.Context, gotID uuid.UUID, cmd applications.StatusCommand) (*applications.Application, error) {
			got = cmd
			return &applications.Application{ID: gotID, Status: cmd.Status}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPut, "/applications/"+id.String()+"/status",
		strings.NewReader(`{"status": "interview", "notes": "onsite on friday"}`))
	rec := serve(m, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, applications.StatusInterview, got.Status)
	assert.Equal(t, "onsite on friday", got.Notes)

	var app applications.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))
	assert.Equal(t, id, app.ID)
}

func TestHandlerUpdateStatusRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/applications/"+uuid.NewString()+"/status",
		strings.NewReader(`{"status": "ghosted"}`))
	rec := serve(&mockSystem{}, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUpdateStatusClosed(t *testing.T) {
	m := &mockSystem{
		updateFn: func(ctx context.Context, id uuid.UUID, cmd applications.StatusCommand) (*applications.Application, error) {
			return nil, applications.ErrClosed
		},
	}
	req := httptest.NewRequest(http.MethodPut, "/applications/"+uuid.NewString()+"/status",
		strings.NewReader(`{"status": "offer"}`))
	assert.Equal(t, http.StatusConflict, serve(m, req).Code)
}

func TestHandlerDocument(t *testing.T) {
	m := &mockSystem{
		documentFn: func(ctx context.Context, id uuid.UUID) (string, error) {
			return "# Tailored resume", nil
		},
	}
	rec := serve(m, httptest.NewRequest(http.MethodGet, "/applications/"+uuid.NewString()+"/document", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp applications.DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "# Tailored resume", resp.Content)
}

func TestHandlerList(t *testing.T) {
	m := &mockSystem{
		listFn: func(ctx context.Context, page pagination.PageRequest, filters applications.Filters) (*pagination.PageResult[applications.Application], error) {
			require.NotNil(t, filters.Status)
			result := pagination.NewPageResult([]applications.Application{{Status: *filters.Status}}, 1, page.Page, page.PageSize)
			return &result, nil
		},
	}
	rec := serve(m, httptest.NewRequest(http.MethodGet, "/applications?status=submitted", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
