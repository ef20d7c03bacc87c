package storage

import (
	"context"

	"github.com/poiesic/gleaner/core"
)

// ClaimFilter narrows ClaimNext selection.
type ClaimFilter struct {
	TenantID string // Empty matches every tenant
}

// JobQuery selects jobs for listing.
type JobQuery struct {
	TenantID string         // Empty matches every tenant
	Status   core.JobStatus // Empty matches every status
	Limit    int            // <= 0 means no limit
}

// Repository provides common storage operations shared across all repositories.
type Repository interface {
	// Close releases resources held by the repository.
	Close() error
}

// JobRepository is the durable job queue.
type JobRepository interface {
	Repository

	// Enqueue stores job as queued unless an active job (queued or in_progress)
	// already exists for the same TenantID and URLHash.
	// On a dedup hit it returns the existing job and deduped=true; job is not stored.
	// Otherwise it assigns ID, timestamps, status queued and attempts 0.
	// A tenant ID rejected by core.ValidateTenant yields core.ErrInvalidInput.
	Enqueue(ctx context.Context, job *core.Job) (stored *core.Job, deduped bool, err error)

	// ClaimNext selects the highest-priority, then oldest, queued job matching
	// filter and transitions it to in_progress, incrementing Attempts and clearing Error.
	// Returns nil, nil when no job is queued.
	// Returns ErrRaceLost if a concurrent claimer committed first.
	ClaimNext(ctx context.Context, filter ClaimFilter) (*core.Job, error)

	// UpdateStage merges stage and extra into the job's payload, preserving
	// unrelated payload keys, and appends the stage to the job's history.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateStage(ctx context.Context, jobID string, stage core.Stage, extra map[string]any) error

	// Finalize transitions an in_progress job to completed (result set) or
	// failed (errMsg recorded). The stage is left untouched.
	// Returns ErrNotInProgress if the job is in any other status.
	Finalize(ctx context.Context, jobID string, outcome core.Outcome, result *core.JobResult, errMsg string) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, jobID string) (*core.Job, error)

	// FindActiveJob returns the queued or in_progress job for a tenant and URL hash.
	// Returns ErrNotFound if there is none.
	FindActiveJob(ctx context.Context, tenantID, urlHash string) (*core.Job, error)

	// ListJobs returns jobs matching query, newest first.
	ListJobs(ctx context.Context, query JobQuery) ([]*core.Job, error)
}

// DocumentRepository stores ingested documents.
type DocumentRepository interface {
	Repository

	// UpsertDocument inserts or updates the document identified by
	// (TenantID, URLHash). An existing document keeps its ID and CreatedAt.
	// Returns the stored document with ID and timestamps populated.
	// A tenant ID rejected by core.ValidateTenant yields core.ErrInvalidInput.
	UpsertDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a document by tenant and ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, tenantID, documentID string) (*core.Document, error)

	// FindDocumentByURLHash retrieves a document by its identity key.
	// Returns ErrNotFound if the document doesn't exist.
	FindDocumentByURLHash(ctx context.Context, tenantID, urlHash string) (*core.Document, error)

	// ListDocuments returns all documents for a tenant.
	ListDocuments(ctx context.Context, tenantID string) ([]*core.Document, error)
}

// ChunkRepository stores document chunks and their embeddings.
type ChunkRepository interface {
	Repository

	// UpsertChunks writes chunks keyed by (tenantID, documentID, Position),
	// overwriting existing chunks at the same position.
	// Returns the number of chunks actually written. On error the count
	// reflects the chunks committed before the failure.
	UpsertChunks(ctx context.Context, tenantID, documentID string, chunks []*core.Chunk) (int, error)

	// ListChunks returns the chunks of a document ordered by position.
	ListChunks(ctx context.Context, tenantID, documentID string) ([]*core.Chunk, error)

	// CountChunks returns the number of chunks stored for a document.
	CountChunks(ctx context.Context, tenantID, documentID string) (int, error)
}
