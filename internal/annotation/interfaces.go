package annotation

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves the raw entry page for an identifier.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor pulls annotation text out of a raw page. Implementations return an
// error wrapping ErrNoAnnotation when the page holds no annotation.
type Extractor interface {
	Extract(body []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultStore persists lookup outcomes.
type ResultStore interface {
	RecordLookup(ctx context.Context, record LookupRecord) error
}

// Hasher computes digests used to name archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
