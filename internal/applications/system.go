package applications

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/envoy/internal/workflow"
	"github.com/JaimeStill/envoy/pkg/pagination"
)

// System defines the public contract for application domain operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Application], error)

	Find(ctx context.Context, id uuid.UUID) (*Application, error)
	Document(ctx context.Context, id uuid.UUID) (string, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, cmd StatusCommand) (*Application, error)

	// Submit records a finalized candidate. Repeating a submission for the
	// same run and candidate returns the existing record. It satisfies
	// workflow.Submitter.
	Submit(ctx context.Context, runID uuid.UUID, c workflow.Candidate, doc workflow.Document) (workflow.Submission, error)
}
