package runs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
)

// Run claims are session-level advisory locks keyed by the run id. The lock
// lives on a dedicated connection held for as long as the claim, so every
// process sharing the database sees it and a crashed process drops it.
const (
	claimSQL   = "SELECT pg_try_advisory_lock(hashtextextended($1, 0))"
	unclaimSQL = "SELECT pg_advisory_unlock(hashtextextended($1, 0))"
)

// Claim takes the advisory lock for run id. A run locked by any session
// reports workflow.ErrRunBusy.
func (st *Store) Claim(ctx context.Context, id uuid.UUID) (func(), error) {
	conn, err := st.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim run %s: %w", id, err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, claimSQL, id.String()).Scan(&locked); err != nil {
		conn.Close()
		return nil, fmt.Errorf("claim run %s: %w", id, err)
	}
	if !locked {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", workflow.ErrRunBusy, id)
	}

	return func() { st.unclaim(conn, id) }, nil
}

// unclaim releases the lock and returns the connection to the pool. A
// connection whose lock cannot be confirmed released is discarded instead,
// which ends its session and the lock with it.
func (st *Store) unclaim(conn *sql.Conn, id uuid.UUID) {
	defer conn.Close()

	var unlocked bool
	err := conn.QueryRowContext(context.Background(), unclaimSQL, id.String()).Scan(&unlocked)
	if err == nil && unlocked {
		return
	}

	st.logger.Warn("run claim not released, discarding connection", "run_id", id, "error", err)
	conn.Raw(func(any) error { return driver.ErrBadConn })
}

// RequestCancel flags a live run for cancellation by its claim holder.
func (st *Store) RequestCancel(ctx context.Context, id uuid.UUID) error {
	res, err := st.db.ExecContext(ctx, `
		UPDATE runs SET cancel_requested = true
		WHERE id = $1 AND status IN ($2, $3)`,
		id, workflow.StatusRunning, workflow.StatusSuspended,
	)
	if err != nil {
		return fmt.Errorf("request cancel of run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, id)
	}
	return nil
}

func (st *Store) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := st.db.QueryRowContext(ctx, "SELECT cancel_requested FROM runs WHERE id = $1", id).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag of run %s: %w", id, err)
	}
	return requested, nil
}
