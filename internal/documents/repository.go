package documents

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

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
	reader     PageReader
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a document repository implementing the System interface.
// A nil reader leaves PDF documents stored but unreadable as base documents.
func New(
	db *sql.DB,
	store storage.System,
	reader PageReader,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		storage:    store,
		reader:     reader,
		logger:     logger.With("system", "documents"),
		pagination: pagination,
	}
}

func (r *repo) Handler(maxUploadSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxUploadSize)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Document], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "Name", "UserID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	docs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	result := pagination.NewPageResult(docs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Document, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Document, error) {
	if strings.TrimSpace(cmd.UserID) == "" || len(cmd.Data) == 0 {
		return nil, ErrInvalidFile
	}

	contentType, err := normalizeContentType(cmd.ContentType, cmd.Data)
	if err != nil {
		return nil, err
	}

	var pages *int
	if contentType == pdfType {
		n, err := countPages(cmd.Data)
		if err != nil {
			return nil, err
		}
		pages = &n
	}

	id := uuid.New()
	key := buildStorageKey(cmd.UserID, id, sanitizeFilename(cmd.Name))

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), contentType); err != nil {
		return nil, fmt.Errorf("upload document blob: %w", err)
	}

	q := `
		INSERT INTO documents(id, user_id, name, content_type, size_bytes, page_count, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, user_id, name, content_type, size_bytes, page_count, storage_key, uploaded_at, updated_at`

	insertArgs := []any{
		id,
		cmd.UserID,
		cmd.Name,
		contentType,
		int64(len(cmd.Data)),
		pages,
		key,
	}

	d, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Document, error) {
		return repository.QueryOne(ctx, tx, q, insertArgs, scanDocument)
	})

	if err != nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating blob delete failed", "key", key, "error", delErr)
		}
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("document created", "id", d.ID, "user_id", d.UserID, "name", d.Name, "content_type", d.ContentType)
	return &d, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return err
	}

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if err := repository.ExecExpectOne(
			ctx, tx,
			"DELETE FROM documents WHERE id = $1",
			id,
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	if delErr := r.storage.Delete(ctx, doc.StorageKey); delErr != nil {
		r.logger.Warn(
			"blob delete failed after DB delete",
			"key", doc.StorageKey,
			"error", delErr,
		)
	}

	r.logger.Info("document deleted", "id", id)
	return nil
}

func (r *repo) Content(ctx context.Context, id uuid.UUID) (string, error) {
	doc, err := r.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return r.read(ctx, doc)
}

func (r *repo) Base(ctx context.Context, p workflow.Profile) (string, error) {
	doc, err := r.resolve(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %w", workflow.ErrValidation, err)
		}
		return "", err
	}
	return r.read(ctx, doc)
}

func (r *repo) resolve(ctx context.Context, p workflow.Profile) (*Document, error) {
	if p.BaseDocument != "" {
		id, err := uuid.Parse(p.BaseDocument)
		if err != nil {
			return nil, fmt.Errorf("%w: base document %q", ErrNotFound, p.BaseDocument)
		}
		return r.Find(ctx, id)
	}

	userID := p.UserID
	q, args := query.
		NewBuilder(projection, defaultSort).
		WhereEquals("UserID", &userID).
		BuildPage(1, 1)

	d, err := repository.QueryOne(ctx, r.db, q, args, scanDocument)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &d, nil
}

func (r *repo) read(ctx context.Context, doc *Document) (string, error) {
	if doc.ContentType == pdfType {
		return r.readPDF(ctx, doc)
	}

	data, err := r.download(ctx, doc)
	if err != nil {
		return "", err
	}

	text, err := extractText(doc.ContentType, data)
	if err != nil {
		return "", fmt.Errorf("extract document text: %w", err)
	}
	return text, nil
}

// readPDF returns the cached transcription of a PDF, transcribing and
// caching it on first read.
func (r *repo) readPDF(ctx context.Context, doc *Document) (string, error) {
	var cached sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT text_content FROM documents WHERE id = $1", doc.ID,
	).Scan(&cached)
	if err != nil {
		return "", repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	if cached.Valid && cached.String != "" {
		return cached.String, nil
	}

	if r.reader == nil {
		return "", fmt.Errorf("%w: %s", ErrUnreadable, doc.ID)
	}

	data, err := r.download(ctx, doc)
	if err != nil {
		return "", err
	}

	text, err := r.reader.ReadPDF(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: transcribe pdf: %w", workflow.ErrTransient, err)
	}

	if _, err := r.db.ExecContext(ctx,
		"UPDATE documents SET text_content = $1, updated_at = NOW() WHERE id = $2",
		text, doc.ID,
	); err != nil {
		r.logger.Warn("pdf transcription not cached", "id", doc.ID, "error", err)
	}

	r.logger.Info("pdf transcribed", "id", doc.ID, "pages", doc.PageCount, "chars", len(text))
	return text, nil
}

func (r *repo) download(ctx context.Context, doc *Document) ([]byte, error) {
	rc, err := r.storage.Download(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, doc.StorageKey)
		}
		return nil, fmt.Errorf("%w: download document: %w", workflow.ErrTransient, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", workflow.ErrTransient, err)
	}
	return data, nil
}

func buildStorageKey(userID string, id uuid.UUID, filename string) string {
	return fmt.Sprintf("documents/%s/%s/%s", url.PathEscape(userID), id, filename)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "" || name == "/" {
		name = "document"
	}
	return url.PathEscape(name)
}
