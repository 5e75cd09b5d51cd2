package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"lukechampine.com/blake3"
)

// HashSize is the width of content digests.
const HashSize = 32

// Digest computes the 32-byte BLAKE3 content digest used for document and
// chunk deduplication.
func Digest(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// collectionNameRe validates collection names: alphanumeric plus hyphen
// and underscore, non-empty.
var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCollectionName checks a user-supplied collection name.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return ErrInvalidCollectionName(name)
	}
	return nil
}

// Collection is a named group of documents sharing settings.
type Collection struct {
	// Name is the unique identifier.
	Name string

	// Description is optional human-readable context.
	Description string

	// Settings are the per-collection defaults for chunking and search.
	Settings CollectionSettings

	// CreatedAt is the creation wall time in Unix milliseconds.
	CreatedAt int64

	// HLC is the causal timestamp of the last mutation.
	HLC HLC
}

// NewCollection creates a collection with default settings. The HLC is
// assigned by the store at commit time.
func NewCollection(name, description string) Collection {
	return Collection{
		Name:        name,
		Description: description,
		Settings:    DefaultCollectionSettings(),
		CreatedAt:   time.Now().UnixMilli(),
	}
}

// Document is one unit of ingested source material.
type Document struct {
	// ID is a globally unique, time-ordered identifier.
	ID ulid.ULID

	// Collection names the owning collection.
	Collection string

	// SourceURI is the original location (file://, https://, data:).
	// (Collection, SourceURI) is unique.
	SourceURI string

	// ContentHash is the 32-byte digest of the loaded bytes.
	ContentHash []byte

	// RawContent is the original loaded text. Ingestion always stores it;
	// no setting turns raw retention off.
	RawContent string

	// ContentType was detected or declared at ingest time.
	ContentType ContentType

	// Metadata is opaque user-supplied key-value data.
	Metadata map[string]any

	// CreatedAt and UpdatedAt are wall times in Unix milliseconds.
	CreatedAt int64
	UpdatedAt int64

	// HLC is the causal timestamp of the last mutation.
	HLC HLC
}

// NewDocument creates a document for the given content. The HLC is
// assigned by the store at commit time.
func NewDocument(collection, sourceURI string, content []byte, contentType ContentType) Document {
	now := time.Now().UnixMilli()
	return Document{
		ID:          ulid.Make(),
		Collection:  collection,
		SourceURI:   sourceURI,
		ContentHash: Digest(content),
		RawContent:  string(content),
		ContentType: contentType,
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ChunkStrategy tags which chunking strategy emitted a chunk.
type ChunkStrategy string

// Chunking strategies.
const (
	StrategySyntax    ChunkStrategy = "syntax"
	StrategySemantic  ChunkStrategy = "semantic"
	StrategyWindow    ChunkStrategy = "window"
	StrategyRecord    ChunkStrategy = "record"
	StrategyRecursive ChunkStrategy = "recursive"
)

// ChunkMetadata carries structural context for a chunk.
type ChunkMetadata struct {
	// StartLine and EndLine are 1-based, inclusive line numbers.
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// NodeKind and NodeName identify the syntactic node a code chunk was
	// cut at, when the syntax strategy produced it.
	NodeKind string `json:"node_kind,omitempty"`
	NodeName string `json:"node_name,omitempty"`

	// HeadingPath is the heading hierarchy at emission time for markup.
	HeadingPath []string `json:"heading_path,omitempty"`

	// Strategy tags the producing chunking strategy.
	Strategy ChunkStrategy `json:"strategy,omitempty"`

	// OverlapsPrevious / OverlapsNext mark sliding-window overlap.
	OverlapsPrevious bool `json:"overlaps_previous,omitempty"`
	OverlapsNext     bool `json:"overlaps_next,omitempty"`
}

// ChunkDraft is chunker output before identity and ownership are assigned.
type ChunkDraft struct {
	// Content is the chunk text.
	Content string

	// TokenCount is measured with the active token counter.
	TokenCount int

	// StartOffset and EndOffset are half-open byte offsets into the
	// chunked text.
	StartOffset int
	EndOffset   int

	// Metadata is the structural context.
	Metadata ChunkMetadata
}

// Chunk is the atomic retrieval unit: a contiguous span of one document
// with exactly one embedding once embedded.
type Chunk struct {
	// ID is a globally unique, time-ordered identifier.
	ID ulid.ULID

	// DocID names the owning document.
	DocID ulid.ULID

	// Index is the 0-based dense position within the document.
	// (DocID, Index) is unique.
	Index int

	// Content is the chunk text.
	Content string

	// TokenCount is measured with the embedder's tokenizer.
	TokenCount int

	// StartOffset and EndOffset are half-open byte offsets into the
	// source document.
	StartOffset int
	EndOffset   int

	// ContentHash is the 32-byte digest of Content.
	ContentHash []byte

	// Metadata carries structural context.
	Metadata ChunkMetadata

	// HLC is the causal timestamp of the last mutation.
	HLC HLC
}

// NewChunk materializes a draft into a chunk owned by the given document.
func NewChunk(docID ulid.ULID, index int, draft ChunkDraft) Chunk {
	return Chunk{
		ID:          ulid.Make(),
		DocID:       docID,
		Index:       index,
		Content:     draft.Content,
		TokenCount:  draft.TokenCount,
		StartOffset: draft.StartOffset,
		EndOffset:   draft.EndOffset,
		ContentHash: Digest([]byte(draft.Content)),
		Metadata:    draft.Metadata,
	}
}

// Embedding is the dense vector for one chunk. Exactly one per live chunk
// once the chunk has been embedded.
type Embedding struct {
	// ChunkID names the owning chunk.
	ChunkID ulid.ULID

	// Vector is the unit-norm float32 vector; its length equals the
	// embedder's declared dimension.
	Vector []float32
}

// SearchResult is a single ranked passage.
type SearchResult struct {
	// Rank is 1-based position in the final result list.
	Rank int

	// Score is the fused relevance score (higher is better).
	Score float64

	// Chunk is the matched passage.
	Chunk Chunk

	// SourceURI and Collection locate the owning document.
	SourceURI  string
	Collection string

	// IsContext marks neighbour chunks added by context expansion.
	IsContext bool
}

// SearchResults is the full response for one query.
type SearchResults struct {
	// Query is the original query text.
	Query string

	// TotalResults is len(Results).
	TotalResults int

	// LatencyMS is end-to-end query latency.
	LatencyMS int64

	// Results are the ranked passages.
	Results []SearchResult

	// Trace is per-stage timing, present when tracing was enabled.
	Trace *QueryTrace
}

// QueryTrace records per-stage wall-clock durations and candidate counts.
type QueryTrace struct {
	Encode   time.Duration
	Lookup   time.Duration
	Fuse     time.Duration
	Fetch    time.Duration
	Expand   time.Duration
	Truncate time.Duration

	VectorCandidates  int
	KeywordCandidates int
	FusedCount        int
	FetchedCount      int
}

// Stats is a point-in-time snapshot of store contents.
type Stats struct {
	// Collections, Documents, Chunks, Embeddings are row counts.
	Collections int64
	Documents   int64
	Chunks      int64
	Embeddings  int64

	// StorageBytes estimates on-disk size.
	StorageBytes int64

	// Filter is the collection filter applied, empty for all.
	Filter string
}

// SyncPeer is a registered replication peer. The replication protocol
// itself is an external collaborator; the store only records peers and
// serves them the change log.
type SyncPeer struct {
	// ID is the peer's stable identifier.
	ID uuid.UUID

	// Endpoint is the peer's base URL.
	Endpoint string

	// LastSeen is the highest watermark acknowledged by the peer.
	LastSeen HLC
}
