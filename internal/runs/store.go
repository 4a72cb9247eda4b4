// Package runs persists workflow runs and the shared threshold policy in
// PostgreSQL and exposes the engine over HTTP.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/repository"
)

// Store is the PostgreSQL run store. Each run is one row holding the full
// JSON snapshot alongside the summary columns used for listing and for
// gate lookup.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// NewStore creates a run store.
func NewStore(db *sql.DB, logger *slog.Logger, pagination pagination.Config) *Store {
	return &Store{
		db:         db,
		logger:     logger.With("system", "runs"),
		pagination: pagination,
	}
}

// Save writes the snapshot of s, replacing any earlier snapshot of the run.
// A pending cancel request survives the write.
func (st *Store) Save(ctx context.Context, s *workflow.State) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", s.ID, err)
	}

	sum := s.Summary()
	var token *string
	if sum.GateToken != "" {
		token = &sum.GateToken
	}

	q := `
		INSERT INTO runs(
			id, user_id, status, outcome, current_stage, next_stage,
			discovered, scored, accepted, processed, submitted, errors, decisions,
			threshold, gate_token, gate_expires_at, snapshot,
			created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome,
			current_stage = EXCLUDED.current_stage,
			next_stage = EXCLUDED.next_stage,
			discovered = EXCLUDED.discovered,
			scored = EXCLUDED.scored,
			accepted = EXCLUDED.accepted,
			processed = EXCLUDED.processed,
			submitted = EXCLUDED.submitted,
			errors = EXCLUDED.errors,
			decisions = EXCLUDED.decisions,
			threshold = EXCLUDED.threshold,
			gate_token = EXCLUDED.gate_token,
			gate_expires_at = EXCLUDED.gate_expires_at,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	args := []any{
		s.ID, s.Profile.UserID, sum.Status, sum.Outcome, sum.CurrentStage, sum.NextStage,
		sum.Discovered, sum.Scored, sum.Accepted, sum.Processed, sum.Submitted, sum.Errors, sum.Decisions,
		sum.Threshold, token, sum.GateExpires, string(snapshot),
		sum.CreatedAt, sum.UpdatedAt, sum.CompletedAt,
	}

	_, err = repository.WithTx(ctx, st.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(ctx, tx, q, args...); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", s.ID, err)
	}
	return nil
}

func (st *Store) Load(ctx context.Context, id uuid.UUID) (*workflow.State, error) {
	s, err := st.loadWhere(ctx, "id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	return s, err
}

func (st *Store) FindByGate(ctx context.Context, token string) (*workflow.State, error) {
	s, err := st.loadWhere(ctx, "gate_token = $1", token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrGateNotFound, token)
	}
	return s, err
}

func (st *Store) ListSuspended(ctx context.Context) ([]*workflow.State, error) {
	q := "SELECT snapshot FROM runs WHERE status = $1 ORDER BY gate_expires_at"
	out, err := repository.QueryMany(ctx, st.db, q, []any{workflow.StatusSuspended}, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("list suspended runs: %w", err)
	}
	return out, nil
}

// List returns a page of run summaries.
func (st *Store) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[workflow.Summary], error) {
	page.Normalize(st.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "UserID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := st.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	runs, err := repository.QueryMany(ctx, st.db, pageSQL, pageArgs, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	result := pagination.NewPageResult(runs, total, page.Page, page.PageSize)
	return &result, nil
}

func (st *Store) loadWhere(ctx context.Context, where string, arg any) (*workflow.State, error) {
	q := "SELECT snapshot FROM runs WHERE " + where
	return repository.QueryOne(ctx, st.db, q, []any{arg}, scanSnapshot)
}

func scanSnapshot(s repository.Scanner) (*workflow.State, error) {
	var data []byte
	if err := s.Scan(&data); err != nil {
		return nil, err
	}
	var state workflow.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &state, nil
}
