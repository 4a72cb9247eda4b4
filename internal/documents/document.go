// Package documents implements the base document domain for Envoy.
// It provides types, data access, and HTTP handlers for the resumes
// users register with blob storage, and resolves the base document
// a run tailors for each accepted candidate.
package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Document represents a registered base document and its blob storage reference.
type Document struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	PageCount   *int      `json:"page_count,omitempty"`
	StorageKey  string    `json:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateCommand carries the data needed to upload and register a new document.
// Data holds the raw file bytes.
type CreateCommand struct {
	Data        []byte
	UserID      string
	Name        string
	ContentType string
}

// PageReader transcribes the pages of a PDF to plain text.
type PageReader interface {
	ReadPDF(ctx context.Context, data []byte) (string, error)
}
