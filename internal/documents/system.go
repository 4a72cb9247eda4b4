package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/pagination"
)

// System defines the public contract for document domain operations.
type System interface {
	Handler(maxUploadSize int64) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Document], error)

	Find(ctx context.Context, id uuid.UUID) (*Document, error)
	Create(ctx context.Context, cmd CreateCommand) (*Document, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Content returns the plain text of a document.
	Content(ctx context.Context, id uuid.UUID) (string, error)

	// Base resolves the document a run tailors. It satisfies workflow.Documents.
	Base(ctx context.Context, p workflow.Profile) (string, error)
}
