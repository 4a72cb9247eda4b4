package runs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/handlers"
	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/routes"
)

// Lister pages through run summaries. Store satisfies it.
type Lister interface {
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[workflow.Summary], error)
}

// Policies reads the shared threshold policy and its history. PolicyStore
// satisfies it.
type Policies interface {
	Policy(ctx context.Context) (workflow.ThresholdPolicy, error)
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// Handler provides HTTP endpoints for runs, gates, and the threshold policy.
type Handler struct {
	engine     *workflow.Engine
	runs       Lister
	policies   Policies
	logger     *slog.Logger
	pagination pagination.Config
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// DecisionRequest carries an approval gate decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
}

// SweepResponse reports how many gates a sweep expired.
type SweepResponse struct {
	Expired int `json:"expired"`
}

// NewHandler creates a Handler.
func NewHandler(
	engine *workflow.Engine,
	runs Lister,
	policies Policies,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		engine:     engine,
		runs:       runs,
		policies:   policies,
		logger:     logger.With("handler", "runs"),
		pagination: pagination,
	}
}

// Routes returns the route groups for run, gate, and policy endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Children: []routes.Group{
			{
				Prefix: "/runs",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.List},
					{Method: "POST", Pattern: "", Handler: h.Start},
					{Method: "POST", Pattern: "/search", Handler: h.Search},
					{Method: "POST", Pattern: "/sweep", Handler: h.Sweep},
					{Method: "GET", Pattern: "/{id}", Handler: h.Find},
					{Method: "GET", Pattern: "/{id}/summary", Handler: h.Summary},
					{Method: "POST", Pattern: "/{id}/resume", Handler: h.Resume},
					{Method: "POST", Pattern: "/{id}/cancel", Handler: h.Cancel},
				},
			},
			{
				Prefix: "/gates",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "/{token}", Handler: h.ResolveLink},
					{Method: "POST", Pattern: "/{token}", Handler: h.Resolve},
				},
			},
			{
				Prefix: "/policy",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.Policy},
					{Method: "GET", Pattern: "/history", Handler: h.History},
				},
			},
		},
	}
}

// List returns a paginated list of run summaries.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.runs.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts a JSON body with pagination and filter criteria and returns matching runs.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.runs.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Start creates a run from the profile in the request body and drives it
// until it suspends at a gate or finishes.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var profile workflow.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if profile.UserID == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrMissingUser)
		return
	}

	sum, err := h.engine.Start(r.Context(), profile)
	if err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, sum)
}

// Find returns the full snapshot of a run.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflow.ErrRunNotFound)
		return
	}

	s, err := h.engine.Get(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, s)
}

// Summary returns the condensed view of a run.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflow.ErrRunNotFound)
		return
	}

	s, err := h.engine.Get(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, s.Summary())
}

// Resume re-evaluates the gate of a suspended run.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflow.ErrRunNotFound)
		return
	}

	sum, err := h.engine.Resume(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sum)
}

// Cancel stops a run.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, workflow.ErrRunNotFound)
		return
	}

	if err := h.engine.Cancel(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Sweep expires every overdue gate.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Sweep(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, SweepResponse{Expired: n})
}

// Resolve applies the decision in the request body to a pending gate.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	h.resolve(w, r, req)
}

// ResolveLink applies the decision carried in the query string, so a
// notice can resolve a gate with a plain link.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, DecisionRequest{
		Decision: r.URL.Query().Get("decision"),
		Feedback: r.URL.Query().Get("feedback"),
	})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, req DecisionRequest) {
	decision, err := workflow.ParseGateDecision(req.Decision)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	sum, err := h.engine.ResolveGate(r.Context(), r.PathValue("token"), decision, req.Feedback)
	if err != nil {
		handlers.RespondError(w, h.logger, workflow.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sum)
}

// Policy returns the current threshold policy.
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.Policy(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, p)
}

// History returns recent threshold changes. The limit query parameter
// defaults to 20 and is capped at 200.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, 200)
	}

	entries, err := h.policies.History(r.Context(), limit)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entries)
}
