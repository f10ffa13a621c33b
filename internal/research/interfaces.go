package research

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records. Save is a whole-record overwrite; callers
// are responsible for serializing writes to a given job.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	SaveJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ListJobs returns jobs filtered by optional status plus limit/offset,
	// newest first.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// BlobStore writes raw artifacts and returns a URI. Get returns
// ErrBlobNotFound for unknown keys. List returns objects whose key starts
// with prefix, ordered by key.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Completer calls the external text-completion service.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// Fetcher fetches a URL and returns the body plus metadata. Redirects are
// followed; a non-2xx status is returned, not an error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a probe response warrants a headless
// re-fetch.
type RenderDetector interface {
	ShouldRender(probe FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
