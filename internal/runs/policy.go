package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/repository"
)

// PolicyStore persists the threshold policy as a single row. Every write is
// also appended to threshold_history.
type PolicyStore struct {
	db      *sql.DB
	initial workflow.ThresholdPolicy
	logger  *slog.Logger
}

// NewPolicyStore creates a policy store that reports initial until the
// first policy is saved.
func NewPolicyStore(db *sql.DB, initial workflow.ThresholdPolicy, logger *slog.Logger) *PolicyStore {
	return &PolicyStore{
		db:      db,
		initial: initial,
		logger:  logger.With("system", "policy"),
	}
}

func (p *PolicyStore) Policy(ctx context.Context) (workflow.ThresholdPolicy, error) {
	q := "SELECT threshold, floor, ceiling, rationale, updated_at FROM threshold_policy WHERE id = 1"

	policy, err := repository.QueryOne(ctx, p.db, q, nil, scanPolicy)
	if errors.Is(err, sql.ErrNoRows) {
		return p.initial, nil
	}
	if err != nil {
		return workflow.ThresholdPolicy{}, fmt.Errorf("%w: load policy: %w", workflow.ErrTransient, err)
	}
	return policy, nil
}

func (p *PolicyStore) SavePolicy(ctx context.Context, policy workflow.ThresholdPolicy) error {
	upsert := `
		INSERT INTO threshold_policy(id, threshold, floor, ceiling, rationale, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			threshold = EXCLUDED.threshold,
			floor = EXCLUDED.floor,
			ceiling = EXCLUDED.ceiling,
			rationale = EXCLUDED.rationale,
			updated_at = EXCLUDED.updated_at`

	history := `
		INSERT INTO threshold_history(threshold, rationale, recorded_at)
		VALUES ($1, $2, $3)`

	_, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, upsert,
			policy.Threshold, policy.Floor, policy.Ceiling, policy.Rationale, policy.UpdatedAt,
		); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.ExecContext(ctx, history,
			policy.Threshold, policy.Rationale, policy.UpdatedAt,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}

	p.logger.Info("threshold policy saved", "threshold", policy.Threshold, "rationale", policy.Rationale)
	return nil
}

// HistoryEntry is one recorded threshold change.
type HistoryEntry struct {
	Threshold  float64   `json:"threshold"`
	Rationale  string    `json:"rationale"`
	RecordedAt time.Time `json:"recorded_at"`
}

// History returns the most recent threshold changes, newest first.
func (p *PolicyStore) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	q := `
		SELECT threshold, rationale, recorded_at
		FROM threshold_history
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1`

	entries, err := repository.QueryMany(ctx, p.db, q, []any{limit}, func(s repository.Scanner) (HistoryEntry, error) {
		var h HistoryEntry
		err := s.Scan(&h.Threshold, &h.Rationale, &h.RecordedAt)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("query policy history: %w", err)
	}
	return entries, nil
}

func scanPolicy(s repository.Scanner) (workflow.ThresholdPolicy, error) {
	var p workflow.ThresholdPolicy
	err := s.Scan(&p.Threshold, &p.Floor, &p.Ceiling, &p.Rationale, &p.UpdatedAt)
	return p, err
}
