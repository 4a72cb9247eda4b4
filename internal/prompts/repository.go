package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/pkg/pagination"
	"github.com/JaimeStill/envoy/pkg/query"
	"github.com/JaimeStill/envoy/pkg/repository"
)

const returning = "RETURNING id, name, stage, instructions, description, active"

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a prompt repository implementing the System interface.
func New(
	db *sql.DB,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "prompts"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Prompt], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort...).
		WhereSearch(page.Search, "Name", "Description")
	filters.Apply(qb)
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count prompts: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanPrompt)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Create(ctx context.Context, cmd Command) (*Prompt, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	p, err := r.write(ctx, `
		INSERT INTO prompts(name, stage, instructions, description)
		VALUES ($1, $2, $3, $4) `+returning,
		cmd.Name, cmd.Stage, cmd.Instructions, cmd.Description,
	)
	if err != nil {
		return nil, err
	}

	r.logger.Info("prompt created", "id", p.ID, "name", p.Name, "stage", p.Stage)
	return p, nil
}

// Update rewrites a prompt. Moving an active prompt to another stage
// deactivates it so the target stage keeps its current override.
func (r *repo) Update(ctx context.Context, id uuid.UUID, cmd Command) (*Prompt, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	p, err := r.write(ctx, `
		UPDATE prompts
		SET name = $1, stage = $2, instructions = $3, description = $4,
			active = active AND stage = $2
		WHERE id = $5 `+returning,
		cmd.Name, cmd.Stage, cmd.Instructions, cmd.Description, id,
	)
	if err != nil {
		return nil, err
	}

	r.logger.Info("prompt updated", "id", p.ID, "name", p.Name, "stage", p.Stage, "active", p.Active)
	return p, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, repository.ExecExpectOne(ctx, tx, "DELETE FROM prompts WHERE id = $1", id)
	})
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("prompt deleted", "id", id)
	return nil
}

func (r *repo) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Prompt, error) {
	p, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Prompt, error) {
		if active {
			_, err := tx.ExecContext(ctx, `
				UPDATE prompts SET active = false
				WHERE active AND id <> $1
				AND stage = (SELECT stage FROM prompts WHERE id = $1)`,
				id,
			)
			if err != nil {
				return Prompt{}, fmt.Errorf("deactivate current: %w", err)
			}
		}

		q := "UPDATE prompts SET active = $1 WHERE id = $2 " + returning
		return repository.QueryOne(ctx, tx, q, []any{active, id}, scanPrompt)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("prompt activation changed", "id", p.ID, "stage", p.Stage, "active", p.Active)
	return &p, nil
}

func (r *repo) Instructions(ctx context.Context, stage Stage) (string, error) {
	p, err := r.active(ctx, stage)
	if err != nil {
		return "", err
	}
	if p == nil {
		return Instructions(stage)
	}
	return p.Instructions, nil
}

func (r *repo) Spec(ctx context.Context, stage Stage) (string, error) {
	return Spec(stage)
}

func (r *repo) Effective(ctx context.Context, stage Stage) (*Effective, error) {
	spec, err := Spec(stage)
	if err != nil {
		return nil, err
	}

	p, err := r.active(ctx, stage)
	if err != nil {
		return nil, err
	}

	eff := &Effective{Stage: stage, Spec: spec}
	if p == nil {
		eff.Instructions, err = Instructions(stage)
		return eff, err
	}

	eff.Instructions = p.Instructions
	eff.Override = &Override{ID: p.ID, Name: p.Name}
	return eff, nil
}

// active returns the override in force for stage, or nil when the stage
// runs on its default instructions.
func (r *repo) active(ctx context.Context, stage Stage) (*Prompt, error) {
	if _, err := ParseStage(string(stage)); err != nil {
		return nil, err
	}

	q, args := query.NewBuilder(projection).
		WhereEquals("Stage", stage).
		WhereEquals("Active", true).
		Build()

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active prompt: %w", err)
	}
	return &p, nil
}

func (r *repo) write(ctx context.Context, q string, args ...any) (*Prompt, error) {
	p, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Prompt, error) {
		return repository.QueryOne(ctx, tx, q, args, scanPrompt)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}
