package driving

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// IngestRequest describes one document to ingest.
type IngestRequest struct {
	// URI locates the source material (file://, http(s)://, data:).
	URI string

	// Collection names the target collection, which must exist.
	Collection string

	// ContentTypeHint optionally declares the content type, overriding
	// detection.
	ContentTypeHint string

	// Metadata is attached to the document verbatim.
	Metadata map[string]any
}

// IngestResult reports the outcome of one ingest.
type IngestResult struct {
	// DocID identifies the (new or existing) document.
	DocID ulid.ULID

	// ChunkCount is the number of live chunks after the operation.
	ChunkCount int

	// Updated is true when an existing document was incrementally updated.
	Updated bool

	// Unchanged is true when the submission was an idempotent no-op.
	Unchanged bool
}

// IngestService drives load → detect → chunk → embed → persist with
// content-hash deduplication and incremental update by chunk hash.
type IngestService interface {
	// Ingest processes one request. Re-submitting identical bytes for an
	// existing URI is a no-op; differing bytes trigger an incremental
	// update that re-embeds only changed chunks.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// Remove deletes a document and everything it owns.
	Remove(ctx context.Context, docID ulid.ULID) error
}
