package driven

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// ScoredChunk pairs a chunk id with a search score. For vector search the
// score is cosine distance (lower is more similar); for keyword search it
// is the engine's BM25 value, where only rank order is meaningful.
type ScoredChunk struct {
	ChunkID ulid.ULID
	Score   float64
}

// DocumentUpdate describes an incremental re-ingest applied in one
// transaction: removed chunks go away (with their embeddings and lexical
// entries), added chunks arrive with embeddings, retained chunks may move
// to new positions, and the document row takes its new digest and times.
type DocumentUpdate struct {
	// Doc carries the updated content hash, raw content, UpdatedAt and
	// metadata. CreatedAt is preserved by the store.
	Doc *domain.Document

	// RemoveChunkIDs are deleted, cascading embeddings and index entries.
	RemoveChunkIDs []ulid.ULID

	// AddChunks are inserted with their final indices.
	AddChunks []domain.Chunk

	// AddEmbeddings cover exactly the chunks in AddChunks.
	AddEmbeddings []domain.Embedding

	// Reindex maps retained chunk ids to their new positions.
	Reindex map[ulid.ULID]int
}

// Store is the durable, transactional home for collections, documents,
// chunks, embeddings, the two secondary indices, and the causal change
// log. It is the consistency boundary: every mutating operation stamps a
// fresh causal timestamp atomically with the write, and for every live
// chunk there is exactly one lexical-index entry and (once embedded)
// exactly one vector entry.
//
// Concurrency: one writer at a time, pooled concurrent readers observing
// consistent snapshots. Implementations must not require callers to hold
// read connections across other blocking operations.
type Store interface {
	// CreateCollection persists a new collection, validating its name.
	// Fails with CodeCollectionExists on duplicates. Returns the stored
	// collection with its assigned causal timestamp.
	CreateCollection(ctx context.Context, collection domain.Collection) (*domain.Collection, error)

	// GetCollection returns the named collection or CodeCollectionNotFound.
	GetCollection(ctx context.Context, name string) (*domain.Collection, error)

	// ListCollections returns all collections ordered by name.
	ListCollections(ctx context.Context) ([]domain.Collection, error)

	// DeleteCollection removes a collection and cascades to all contained
	// documents, chunks, and embeddings atomically.
	DeleteCollection(ctx context.Context, name string) error

	// InsertDocument persists a document. (Collection, SourceURI) must be
	// unique (CodeDuplicateDocument); the collection must exist.
	InsertDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument returns the document or CodeDocumentNotFound.
	GetDocument(ctx context.Context, id ulid.ULID) (*domain.Document, error)

	// GetDocumentByURI looks up by the unique (collection, source URI) key.
	GetDocumentByURI(ctx context.Context, collection, uri string) (*domain.Document, error)

	// ListDocuments pages documents by descending creation time.
	ListDocuments(ctx context.Context, collection string, limit, offset int) ([]domain.Document, error)

	// DeleteDocument removes a document, its chunks and embeddings
	// atomically.
	DeleteDocument(ctx context.Context, id ulid.ULID) error

	// InsertChunks persists chunks all-or-nothing; the lexical index is
	// updated in the same transaction.
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error

	// GetChunk returns the chunk or CodeChunkNotFound.
	GetChunk(ctx context.Context, id ulid.ULID) (*domain.Chunk, error)

	// GetChunkAt returns the chunk at (docID, index) or CodeChunkNotFound.
	GetChunkAt(ctx context.Context, docID ulid.ULID, index int) (*domain.Chunk, error)

	// GetChunksForDocument returns a document's chunks ordered by index.
	GetChunksForDocument(ctx context.Context, docID ulid.ULID) ([]domain.Chunk, error)

	// DeleteChunks removes the identified chunks; embeddings first, then
	// chunk rows, with lexical entries removed in the same transaction.
	DeleteChunks(ctx context.Context, ids []ulid.ULID) error

	// DeleteChunksForDocument removes all of a document's chunks.
	DeleteChunksForDocument(ctx context.Context, docID ulid.ULID) error

	// InsertEmbeddings persists vectors. Each vector's length must equal
	// the store's declared dimension.
	InsertEmbeddings(ctx context.Context, embeddings []domain.Embedding) error

	// VectorSearch returns up to k chunks by ascending cosine distance,
	// optionally filtered to one collection (empty string for all).
	VectorSearch(ctx context.Context, query []float32, k int, collection string) ([]ScoredChunk, error)

	// KeywordSearch returns up to k chunks ranked by BM25 over the
	// sanitised query, optionally filtered to one collection.
	KeywordSearch(ctx context.Context, query string, k int, collection string) ([]ScoredChunk, error)

	// IngestDocument commits a fresh ingest in one transaction: the
	// document, all its chunks, and all their embeddings become visible
	// together or not at all.
	IngestDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, embeddings []domain.Embedding) error

	// ApplyDocumentUpdate commits an incremental re-ingest in one
	// transaction.
	ApplyDocumentUpdate(ctx context.Context, update DocumentUpdate) error

	// ChangesSince returns committed changes with HLC strictly greater
	// than the argument, ordered ascending.
	ChangesSince(ctx context.Context, since domain.HLC) ([]domain.Change, error)

	// Watermark returns the highest committed causal timestamp.
	Watermark(ctx context.Context) (domain.HLC, error)

	// Stats summarises store contents, optionally for one collection.
	Stats(ctx context.Context, collection string) (*domain.Stats, error)

	// RegisterSyncPeer upserts a replication peer record.
	RegisterSyncPeer(ctx context.Context, peer domain.SyncPeer) error

	// ListSyncPeers returns all registered replication peers.
	ListSyncPeers(ctx context.Context) ([]domain.SyncPeer, error)

	// Close releases the underlying database.
	Close() error
}
