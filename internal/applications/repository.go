package applications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/repository"
	"github.com/JaimeStill/envoy/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	logger     *slog.Logger
	pagination pagination.Config
	now        func() time.Time
}

// New creates an application repository implementing the System interface.
func New(
	db *sql.DB,
	store storage.System,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "applications"),
		pagination: pagination,
		now:        time.Now,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Application], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Title", "Company", "Notes")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count applications: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	apps, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanApplication)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}

	result := pagination.NewPageResult(apps, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Application, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	a, err := repository.QueryOne(ctx, r.db, q, args, scanApplication)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &a, nil
}

func (r *repo) Document(ctx context.Context, id uuid.UUID) (string, error) {
	a, err := r.Find(ctx, id)
	if err != nil {
		return "", err
	}

	rc, err := r.storage.Download(ctx, a.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: document blob %s", ErrNotFound, a.StorageKey)
		}
		return "", fmt.Errorf("download application document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read application document: %w", err)
	}
	return string(data), nil
}

func (r *repo) Submit(
	ctx context.Context,
	runID uuid.UUID,
	c workflow.Candidate,
	doc workflow.Document,
) (workflow.Submission, error) {
	key := buildStorageKey(runID, c.ID)

	if err := r.storage.Upload(ctx, key, strings.NewReader(doc.Content), "text/markdown"); err != nil {
		return workflow.Submission{}, fmt.Errorf("%w: upload application document: %w", workflow.ErrTransient, err)
	}

	changes, err := json.Marshal(doc.Changes)
	if err != nil {
		return workflow.Submission{}, fmt.Errorf("encode changes: %w", err)
	}

	q := `
		INSERT INTO applications(run_id, candidate_id, source, title, company, url, status, storage_key, changes, rationale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		ON CONFLICT (run_id, candidate_id) DO UPDATE SET updated_at = applications.updated_at
		RETURNING ` + returning

	args := []any{
		runID,
		c.ID,
		c.Source,
		c.Attr(workflow.AttrTitle),
		c.Attr(workflow.AttrCompany),
		c.Attr(workflow.AttrURL),
		StatusSubmitted,
		key,
		string(changes),
		doc.Rationale,
	}

	a, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Application, error) {
		return repository.QueryOne(ctx, tx, q, args, scanApplication)
	})
	if err != nil {
		return workflow.Submission{}, fmt.Errorf("%w: record application: %w", workflow.ErrTransient, err)
	}

	r.logger.InfoContext(ctx, "application submitted",
		"id", a.ID,
		"run_id", runID,
		"candidate_id", c.ID,
	)

	return workflow.Submission{
		CandidateID: c.ID,
		Reference:   a.ID.String(),
		Status:      string(a.Status),
		SubmittedAt: a.SubmittedAt,
	}, nil
}

func (r *repo) UpdateStatus(ctx context.Context, id uuid.UUID, cmd StatusCommand) (*Application, error) {
	if _, err := ParseStatus(string(cmd.Status)); err != nil {
		return nil, err
	}

	a, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Application, error) {
		findQ, findArgs := query.NewBuilder(projection).BuildSingle("ID", id)
		current, err := repository.QueryOne(ctx, tx, findQ+" FOR UPDATE", findArgs, scanApplication)
		if err != nil {
			return Application{}, err
		}

		next, err := transition(current, cmd, r.now())
		if err != nil {
			return Application{}, err
		}

		q := `
			UPDATE applications
			SET status = $1, notes = $2, responded_at = $3, closed_at = $4, updated_at = $5
			WHERE id = $6
			RETURNING ` + returning

		args := []any{next.Status, next.Notes, next.RespondedAt, next.ClosedAt, next.UpdatedAt, id}
		return repository.QueryOne(ctx, tx, q, args, scanApplication)
	})

	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("application status updated", "id", a.ID, "status", a.Status)
	return &a, nil
}

// transition applies cmd to a. Closed applications accept no further
// changes. The first response and the closing time are stamped once.
func transition(a Application, cmd StatusCommand, now time.Time) (Application, error) {
	if a.Status.Closed() && cmd.Status != a.Status {
		return a, fmt.Errorf("%w: %s", ErrClosed, a.Status)
	}

	a.Status = cmd.Status
	if cmd.Status.Responded() && a.RespondedAt == nil {
		a.RespondedAt = &now
	}
	if cmd.Status.Closed() && a.ClosedAt == nil {
		a.ClosedAt = &now
	}
	if note := strings.TrimSpace(cmd.Notes); note != "" {
		entry := fmt.Sprintf("[%s] %s", now.UTC().Format("2006-01-02 15:04"), note)
		a.Notes = strings.TrimSpace(a.Notes + "\n" + entry)
	}
	a.UpdatedAt = now
	return a, nil
}

func buildStorageKey(runID uuid.UUID, candidateID string) string {
	name := strings.ReplaceAll(url.PathEscape(candidateID), "..", "%2E%2E")
	return fmt.Sprintf("applications/%s/%s.md", runID, name)
}
